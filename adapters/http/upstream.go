package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/artpar/metergate/adapters/metrics"
	"github.com/artpar/metergate/ports"
)

// maxDownstreamBody caps how much of a prediction reply is buffered.
const maxDownstreamBody = 4 << 20

// StatusError is returned when the downstream answers with a non-2xx status.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream returned HTTP %d", e.Status)
}

// UpstreamClient forwards predict calls to the downstream prediction service.
type UpstreamClient struct {
	client     *http.Client
	predictURL string
	baseURL    *url.URL
	metrics    *metrics.Collector
}

// UpstreamConfig contains configuration for the upstream client.
type UpstreamConfig struct {
	BaseURL         string
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	Metrics         *metrics.Collector // optional
}

// NewUpstreamClient creates a new upstream HTTP client.
func NewUpstreamClient(cfg UpstreamConfig) (*UpstreamClient, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("parse base URL: unsupported scheme %q", baseURL.Scheme)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}

	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
	}

	return &UpstreamClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		predictURL: baseURL.JoinPath("predict").String(),
		baseURL:    baseURL,
		metrics:    cfg.Metrics,
	}, nil
}

// Predict posts the validated payload to <base>/predict.
func (u *UpstreamClient) Predict(ctx context.Context, req ports.PredictRequest) (ports.PredictResponse, error) {
	start := time.Now()
	if u.metrics != nil {
		u.metrics.DownstreamInFlight.Inc()
		defer u.metrics.DownstreamInFlight.Dec()
	}

	resp, err := u.do(ctx, req)
	elapsed := time.Since(start)
	resp.LatencyMs = elapsed.Milliseconds()

	if u.metrics != nil {
		status := "error"
		if resp.Status != 0 {
			status = strconv.Itoa(resp.Status)
		}
		u.metrics.DownstreamDuration.WithLabelValues(status).Observe(elapsed.Seconds())
		if err != nil {
			u.metrics.DownstreamErrors.WithLabelValues(errorType(err)).Inc()
		}
	}
	return resp, err
}

func (u *UpstreamClient) do(ctx context.Context, req ports.PredictRequest) (ports.PredictResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ports.PredictResponse{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.predictURL, bytes.NewReader(payload))
	if err != nil {
		return ports.PredictResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return ports.PredictResponse{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownstreamBody))
	if err != nil {
		return ports.PredictResponse{Status: resp.StatusCode}, fmt.Errorf("read response: %w", err)
	}

	out := ports.PredictResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{Status: resp.StatusCode}
	}
	return out, nil
}

// HealthCheck verifies the downstream is reachable.
func (u *UpstreamClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.baseURL.String(), nil)
	if err != nil {
		return err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	// Any response (even 404) means the service is reachable
	return nil
}

// Close releases idle connections.
func (u *UpstreamClient) Close() error {
	u.client.CloseIdleConnections()
	return nil
}

// errorType labels a downstream failure for metrics.
func errorType(err error) string {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "network"
	}
}

var _ ports.Predictor = (*UpstreamClient)(nil)

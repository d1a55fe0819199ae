// Package metrics provides Prometheus metrics collection for metergate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "metergate"

// Collector holds all Prometheus metrics for metergate.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthFailures  *prometheus.CounterVec
	Registrations prometheus.Counter
	LoginLimited  prometheus.Counter

	// Metered call metrics
	PredictOutcomes *prometheus.CounterVec
	QuotaRejections prometheus.Counter
	Refunds         *prometheus.CounterVec

	// Downstream metrics
	DownstreamDuration *prometheus.HistogramVec
	DownstreamErrors   *prometheus.CounterVec
	DownstreamInFlight prometheus.Gauge

	// Ledger and payment metrics
	CreditsApplied *prometheus.CounterVec
	WebhookEvents  *prometheus.CounterVec
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered on reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),
		Registrations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registrations_total",
				Help:      "Total number of accounts registered",
			},
		),
		LoginLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_rate_limited_total",
				Help:      "Total number of login attempts rejected by the rate limiter",
			},
		),

		PredictOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predict_requests_total",
				Help:      "Metered predict calls by terminal state",
			},
			[]string{"outcome"},
		),
		QuotaRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_rejections_total",
				Help:      "Predict calls rejected because the balance was exhausted",
			},
		),
		Refunds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refunds_total",
				Help:      "Units restored after downstream failures",
			},
			[]string{"result"},
		),

		DownstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "downstream_duration_seconds",
				Help:      "Prediction service request duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		DownstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downstream_errors_total",
				Help:      "Total number of prediction service errors",
			},
			[]string{"type"},
		),
		DownstreamInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "downstream_requests_in_flight",
				Help:      "Number of requests currently sent to the prediction service",
			},
		),

		CreditsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_applied_total",
				Help:      "Usage units credited, by source",
			},
			[]string{"source"},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Payment webhook deliveries by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
	}
}

// knownPaths bounds the path label to the routes metergate serves.
var knownPaths = map[string]bool{
	"/register":         true,
	"/login":            true,
	"/account":          true,
	"/predict":          true,
	"/usage/credit":     true,
	"/payments/webhook": true,
	"/version":          true,
}

// NormalizePath reduces cardinality: unknown paths collapse to "other".
func NormalizePath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "other"
}

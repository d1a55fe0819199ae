package app

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/metergate/domain/account"
	"github.com/artpar/metergate/domain/apperr"
	"github.com/artpar/metergate/domain/proxy"
	"github.com/artpar/metergate/ports"
	"github.com/rs/zerolog"
)

// DefaultDownstreamTimeout bounds a forwarded call when none is configured.
const DefaultDownstreamTimeout = 10 * time.Second

// RefundTimeout bounds the rollback after a failed forward. It runs on its
// own deadline because the forward's deadline may already have passed.
const RefundTimeout = 5 * time.Second

// ProxyService runs the metered predict flow:
// authenticate, validate, spend one call, forward, and refund on failure.
type ProxyService struct {
	auth      *AuthService
	ledger    *LedgerService
	predictor ports.Predictor
	clock     ports.Clock
	idGen     ports.IDGenerator
	logger    zerolog.Logger

	timeout         time.Duration
	refundOnFailure bool
}

// ProxyDeps contains dependencies for ProxyService.
type ProxyDeps struct {
	Auth      *AuthService
	Ledger    *LedgerService
	Predictor ports.Predictor
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    zerolog.Logger
}

// ProxyConfig contains configuration for ProxyService.
type ProxyConfig struct {
	Timeout         time.Duration
	RefundOnFailure bool
}

// NewProxyService creates a new proxy service.
func NewProxyService(deps ProxyDeps, cfg ProxyConfig) *ProxyService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDownstreamTimeout
	}
	return &ProxyService{
		auth:            deps.Auth,
		ledger:          deps.Ledger,
		predictor:       deps.Predictor,
		clock:           deps.Clock,
		idGen:           deps.IDGen,
		logger:          deps.Logger,
		timeout:         cfg.Timeout,
		refundOnFailure: cfg.RefundOnFailure,
	}
}

// PredictInput is one metered call as received from the client.
type PredictInput struct {
	Token     string
	Body      []byte
	RequestID string
}

// PredictResult represents the outcome of a metered call.
type PredictResult struct {
	State     proxy.State
	RequestID string
	AccountID string
	Account   account.Account // balance after the spend (and refund, if any)
	Response  ports.PredictResponse
	Err       error // *apperr.Error for Rejected and Failed
	Charged   bool
	Refunded  bool
	Latency   time.Duration
}

// Handle processes a predict request.
func (s *ProxyService) Handle(ctx context.Context, in PredictInput) PredictResult {
	start := s.clock.Now()
	res := PredictResult{State: proxy.StateAuthenticating, RequestID: in.RequestID}
	if res.RequestID == "" {
		res.RequestID = s.idGen.New()
	}

	claims, err := s.auth.Verify(in.Token)
	if err != nil {
		return s.finish(res, proxy.StateRejected, err, start)
	}
	res.AccountID = claims.AccountID

	// Malformed input is rejected before any quota is spent.
	req, err := proxy.ParsePredict(in.Body)
	if err != nil {
		return s.finish(res, proxy.StateRejected, apperr.Validation(err.Error(), err), start)
	}
	req.RequestID = res.RequestID

	res.State = proxy.StateQuotaChecking
	acct, err := s.ledger.TryConsume(ctx, claims.AccountID)
	if err != nil {
		return s.finish(res, proxy.StateRejected, err, start)
	}
	res.Account = acct
	res.Charged = !acct.Unlimited()

	// The call is already paid for; a client hang-up must not abort it.
	res.State = proxy.StateForwarding
	fwdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	resp, err := s.predictor.Predict(fwdCtx, req)
	if err != nil {
		res = s.refund(ctx, res)
		return s.finish(res, proxy.StateFailed, apperr.Downstream(err), start)
	}

	res.Response = resp
	return s.finish(res, proxy.StateCompleted, nil, start)
}

func (s *ProxyService) refund(ctx context.Context, res PredictResult) PredictResult {
	if !s.refundOnFailure || !res.Charged {
		return res
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RefundTimeout)
	defer cancel()

	acct, err := s.ledger.Rollback(ctx, res.AccountID, res.RequestID)
	if err != nil && !errors.Is(err, ports.ErrAlreadyApplied) {
		s.logger.Error().Err(err).
			Str("account_id", res.AccountID).
			Str("request_id", res.RequestID).
			Msg("refund after downstream failure failed")
		return res
	}
	res.Account = acct
	res.Refunded = true
	return res
}

// finish records the terminal state and logs the transition.
func (s *ProxyService) finish(res PredictResult, state proxy.State, err error, start time.Time) PredictResult {
	res.State = state
	res.Err = err
	res.Latency = s.clock.Now().Sub(start)

	var ev *zerolog.Event
	switch state {
	case proxy.StateCompleted:
		ev = s.logger.Info()
	case proxy.StateFailed:
		ev = s.logger.Warn().Err(err)
	default:
		ev = s.logger.Info().Str("reason", apperr.KindOf(err).String())
	}

	status := res.Response.Status
	if err != nil {
		status = apperr.From(err).HTTPStatus()
	}

	ev.Str("request_id", res.RequestID).
		Str("account_id", res.AccountID).
		Str("outcome", string(state)).
		Int("status", status).
		Int64("latency_ms", res.Latency.Milliseconds()).
		Bool("refunded", res.Refunded).
		Msg("predict")
	return res
}

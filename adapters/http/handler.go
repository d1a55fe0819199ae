// Package http provides the HTTP surface of metergate.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/artpar/metergate/adapters/metrics"
	"github.com/artpar/metergate/app"
	_ "github.com/artpar/metergate/docs/swagger" // swagger docs
	"github.com/artpar/metergate/domain/apperr"
	"github.com/artpar/metergate/domain/proxy"
	"github.com/artpar/metergate/domain/quota"
	"github.com/artpar/metergate/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/swaggo/swag"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Header names.
const (
	HeaderQuotaRemaining = "X-Quota-Remaining"
	HeaderQuotaWarning   = "X-Quota-Warning"
	HeaderAdminToken     = "X-Admin-Token"
	HeaderIdempotencyKey = "Idempotency-Key"
)

const (
	maxJSONBody    = 64 << 10
	maxWebhookBody = 1 << 20
)

// RegisterRequest is the body of POST /register and POST /login.
// "username" is accepted as an alias of "identity".
type RegisterRequest struct {
	Identity string `json:"identity" example:"alice@example.com"`
	Username string `json:"username,omitempty" example:"alice"`
	Password string `json:"password" example:"s3cret"`
}

func (r RegisterRequest) identity() string {
	if r.Identity != "" {
		return r.Identity
	}
	return r.Username
}

// RegisterResponse is returned by POST /register.
type RegisterResponse struct {
	ID string `json:"id" example:"acct_0f8c2d3e-9b1a-4c55-8e21-6a7f0b9d4c11"`
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	Token string `json:"token"`
}

// AccountResponse is returned by GET /account.
type AccountResponse struct {
	ID           string `json:"id"`
	Identity     string `json:"identity"`
	UsageBalance int64  `json:"usageBalance" example:"42"`
	Plan         string `json:"plan" example:"metered"`
}

// CreditRequest is the body of POST /usage/credit.
type CreditRequest struct {
	Increment *int64 `json:"increment" example:"5"`
}

// CreditResponse is returned by POST /usage/credit.
type CreditResponse struct {
	NewBalance int64 `json:"newBalance" example:"47"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Received bool `json:"received" example:"true"`
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
	Service string `json:"service" example:"metergate"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Error  string `json:"error,omitempty"`
}

// Handler serves the account, predict and payment endpoints.
type Handler struct {
	auth       *app.AuthService
	ledger     *app.LedgerService
	proxy      *app.ProxyService
	reconciler *app.PaymentReconciler
	limiter    *LoginLimiter
	adminToken string
	metrics    *metrics.Collector
	logger     zerolog.Logger
}

// HandlerDeps contains dependencies for Handler.
type HandlerDeps struct {
	Auth       *app.AuthService
	Ledger     *app.LedgerService
	Proxy      *app.ProxyService
	Reconciler *app.PaymentReconciler
	Limiter    *LoginLimiter      // nil disables login throttling
	AdminToken string             // required on /usage/credit when set
	Metrics    *metrics.Collector // optional
	Logger     zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		auth:       deps.Auth,
		ledger:     deps.Ledger,
		proxy:      deps.Proxy,
		reconciler: deps.Reconciler,
		limiter:    deps.Limiter,
		adminToken: deps.AdminToken,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		return apperr.Validation("malformed JSON body", err)
	}
	return nil
}

// Register creates an account.
//
//	@Summary		Register an account
//	@Description	Creates an account with a zero balance. "username" is accepted as an alias of "identity".
//	@Tags			Accounts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RegisterRequest		true	"Credentials"
//	@Success		201		{object}	RegisterResponse
//	@Failure		400		{object}	ErrorResponseBody	"Validation error or duplicate identity"
//	@Router			/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	id, err := h.auth.Register(r.Context(), req.identity(), req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if h.metrics != nil {
		h.metrics.Registrations.Inc()
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{ID: id})
}

// Login exchanges credentials for a session token.
//
//	@Summary		Log in
//	@Description	Verifies credentials and returns a signed session token. Rate limited per client IP.
//	@Tags			Accounts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RegisterRequest		true	"Credentials"
//	@Success		200		{object}	LoginResponse
//	@Failure		400		{object}	ErrorResponseBody	"Malformed request"
//	@Failure		401		{object}	ErrorResponseBody	"Invalid credentials"
//	@Failure		429		{object}	ErrorResponseBody	"Too many attempts"
//	@Router			/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		if h.metrics != nil {
			h.metrics.LoginLimited.Inc()
		}
		writeError(w, h.logger, apperr.RateLimited())
		return
	}

	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	token, err := h.auth.Login(r.Context(), req.identity(), req.Password)
	if err != nil {
		if h.metrics != nil && apperr.Is(err, apperr.KindInvalidCredentials) {
			h.metrics.AuthFailures.WithLabelValues("invalid_credentials").Inc()
		}
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// Account returns the caller's account.
//
//	@Summary		Get account
//	@Description	Returns the balance and plan of the token's account
//	@Tags			Accounts
//	@Produce		json
//	@Success		200	{object}	AccountResponse
//	@Failure		401	{object}	ErrorResponseBody	"Missing or invalid token"
//	@Failure		404	{object}	ErrorResponseBody	"Account no longer exists"
//	@Security		BearerAuth
//	@Router			/account [get]
func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	a, err := h.ledger.Get(r.Context(), claims.AccountID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountResponse{
		ID:           a.ID,
		Identity:     a.Identity,
		UsageBalance: a.UsageBalance,
		Plan:         string(a.Plan),
	})
}

// Predict runs one metered call against the prediction service.
//
//	@Summary		Predict a contract address
//	@Description	Spends one call from the balance and relays the prediction service reply verbatim.
//	@Description	Malformed input is rejected before any quota is spent. X-Quota-Remaining carries the balance afterwards.
//	@Tags			Predict
//	@Accept			json
//	@Produce		json
//	@Param			body	body	object	true	"{contractAddress, nonce}"
//	@Success		200		"Prediction service reply"
//	@Failure		400		{object}	ErrorResponseBody	"Invalid payload"
//	@Failure		401		{object}	ErrorResponseBody	"Missing or invalid token"
//	@Failure		403		{object}	ErrorResponseBody	"Quota exhausted"
//	@Failure		502		{object}	ErrorResponseBody	"Prediction service failed"
//	@Security		BearerAuth
//	@Router			/predict [post]
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	// One byte past the limit is enough for the proxy to reject the size
	// after it has checked the token.
	body, err := io.ReadAll(io.LimitReader(r.Body, proxy.MaxBodyBytes+1))
	if err != nil {
		writeError(w, h.logger, apperr.Validation("failed to read request body", err))
		return
	}

	res := h.proxy.Handle(r.Context(), app.PredictInput{
		Token:     bearerToken(r),
		Body:      body,
		RequestID: middleware.GetReqID(r.Context()),
	})
	h.recordPredict(res)

	if res.Account.ID != "" {
		w.Header().Set(HeaderQuotaRemaining, quota.Remaining(res.Account))
		if !res.Account.Unlimited() && quota.Level(res.Account.UsageBalance) == quota.WarningLow {
			w.Header().Set(HeaderQuotaWarning, quota.WarningLow.String())
		}
	}

	if res.Err != nil {
		writeError(w, h.logger, res.Err)
		return
	}

	contentType := res.Response.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(res.Response.Status)
	if _, err := w.Write(res.Response.Body); err != nil {
		h.logger.Error().Err(err).Msg("failed to write response body")
	}
}

func (h *Handler) recordPredict(res app.PredictResult) {
	if h.metrics == nil {
		return
	}
	h.metrics.PredictOutcomes.WithLabelValues(string(res.State)).Inc()

	switch apperr.KindOf(res.Err) {
	case apperr.KindInvalidToken:
		h.metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
	case apperr.KindQuotaExhausted:
		h.metrics.QuotaRejections.Inc()
	}

	if res.State == proxy.StateFailed && res.Charged {
		result := "not_refunded"
		if res.Refunded {
			result = "refunded"
		}
		h.metrics.Refunds.WithLabelValues(result).Inc()
	}
}

// Credit adds calls to the caller's balance.
//
//	@Summary		Credit usage
//	@Description	Adds a positive increment to the token's account. When an admin token is configured the X-Admin-Token header must match.
//	@Description	Supplying Idempotency-Key makes retries safe.
//	@Tags			Accounts
//	@Accept			json
//	@Produce		json
//	@Param			body			body		CreditRequest		true	"Increment"
//	@Param			X-Admin-Token	header		string				false	"Admin token"
//	@Param			Idempotency-Key	header		string				false	"Idempotency key"
//	@Success		200				{object}	CreditResponse
//	@Failure		400				{object}	ErrorResponseBody	"Invalid increment"
//	@Failure		401				{object}	ErrorResponseBody	"Missing or invalid token"
//	@Failure		403				{object}	ErrorResponseBody	"Admin token mismatch"
//	@Security		BearerAuth
//	@Router			/usage/credit [post]
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	if h.adminToken != "" {
		got := r.Header.Get(HeaderAdminToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
			if h.metrics != nil {
				h.metrics.AuthFailures.WithLabelValues("admin_token").Inc()
			}
			writeError(w, h.logger, apperr.Forbidden("admin token required"))
			return
		}
	}

	var req CreditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, apperr.Validation("increment must be a positive integer", err))
		return
	}
	if req.Increment == nil {
		writeError(w, h.logger, apperr.Validation("increment must be a positive integer", nil))
		return
	}

	claims, _ := ClaimsFromContext(r.Context())
	key := app.ManualCreditKey(claims.AccountID, r.Header.Get(HeaderIdempotencyKey))

	a, err := h.ledger.Credit(r.Context(), claims.AccountID, *req.Increment, key)
	if err != nil && !errors.Is(err, ports.ErrAlreadyApplied) {
		writeError(w, h.logger, err)
		return
	}
	if err == nil && h.metrics != nil {
		h.metrics.CreditsApplied.WithLabelValues("manual").Add(float64(*req.Increment))
	}

	writeJSON(w, http.StatusOK, CreditResponse{NewBalance: a.UsageBalance})
}

// PaymentWebhook receives payment processor events.
//
//	@Summary		Payment webhook
//	@Description	Verifies the processor signature and credits the paying account exactly once.
//	@Description	Always acknowledged with 200; failures are logged.
//	@Tags			Payments
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	WebhookResponse
//	@Router			/payments/webhook [post]
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read webhook body")
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}

	// Processing outlives the delivery connection; the processor only needs the ack.
	res := h.reconciler.Handle(context.WithoutCancel(r.Context()), payload, r.Header)

	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(h.reconciler.Provider(), string(res.Outcome)).Inc()
		if res.Outcome == app.OutcomeCredited {
			h.metrics.CreditsApplied.WithLabelValues("payment").Add(float64(res.Grant.Amount))
		}
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}

// Pinger checks a dependency's connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	store Pinger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// Liveness returns a simple liveness check.
//
//	@Summary		Liveness check
//	@Description	Returns OK if the service is running
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
//	@Router			/health/live [get]
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readiness checks if the account store is reachable.
//
//	@Summary		Readiness check
//	@Description	Pings the account store
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/health/ready [get]
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// VersionHandler returns the service version.
//
//	@Summary		Get service version
//	@Description	Returns the version information for the metergate service
//	@Tags			System
//	@Produce		json
//	@Success		200	{object}	VersionResponse	"Version information"
//	@Router			/version [get]
func VersionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{
			Version: version,
			Service: "metergate",
		})
	}
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics        *metrics.Collector
	MetricsHandler http.Handler // exporter for the metrics path; nil falls back to promhttp.Handler
	MetricsPath    string       // default: /metrics
	EnableMetrics  bool
	EnableOpenAPI  bool
	Version        string
}

// NewRouter creates the main HTTP router.
func NewRouter(h *Handler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, cfg.MetricsPath))
	}

	// Health endpoints (no auth required)
	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Get("/version", VersionHandler(cfg.Version))

	if cfg.EnableMetrics {
		if cfg.MetricsHandler != nil {
			r.Handle(cfg.MetricsPath, cfg.MetricsHandler)
		} else {
			r.Handle(cfg.MetricsPath, promhttp.Handler())
		}
	}

	if cfg.EnableOpenAPI {
		r.Get("/.well-known/openapi.json", func(w http.ResponseWriter, r *http.Request) {
			doc, err := swag.ReadDoc()
			if err != nil {
				writeError(w, logger, apperr.Internal(err))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Access-Control-Allow-Origin", "*")
			io.WriteString(w, doc)
		})
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}

	// Public endpoints
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/predict", h.Predict) // authenticates inside the metered flow
	r.Post("/payments/webhook", h.PaymentWebhook)

	// Bearer-authenticated endpoints
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.auth, cfg.Metrics, logger))
		r.Get("/account", h.Account)
		r.Post("/usage/credit", h.Credit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, logger, apperr.NotFound("route not found", nil))
	})

	return r
}

// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file or METERGATE_* environment variables;
// see the config package.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/metergate/adapters/auth"
	"github.com/artpar/metergate/adapters/clock"
	"github.com/artpar/metergate/adapters/hasher"
	apihttp "github.com/artpar/metergate/adapters/http"
	"github.com/artpar/metergate/adapters/idgen"
	"github.com/artpar/metergate/adapters/memory"
	"github.com/artpar/metergate/adapters/metrics"
	"github.com/artpar/metergate/adapters/mongo"
	"github.com/artpar/metergate/adapters/payment"
	"github.com/artpar/metergate/adapters/postgres"
	"github.com/artpar/metergate/adapters/redis"
	"github.com/artpar/metergate/adapters/sqlite"
	"github.com/artpar/metergate/app"
	"github.com/artpar/metergate/config"
	domainpayment "github.com/artpar/metergate/domain/payment"
	"github.com/artpar/metergate/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 30 * time.Second
	storeTimeout    = 15 * time.Second
	postgresMaxOpen = 25
)

// App represents the running application.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Store      ports.AccountStore
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	Auth       *app.AuthService
	Ledger     *app.LedgerService
	Proxy      *app.ProxyService
	Reconciler *app.PaymentReconciler

	registry *prometheus.Registry
	upstream *apihttp.UpstreamClient // closed on shutdown
}

// Options overrides parts of the wiring. The zero value is production wiring.
type Options struct {
	Version string
	Logger  *zerolog.Logger
	Clock   ports.Clock
}

// New creates and initializes the application.
func New(cfg *config.Config, version string) (*App, error) {
	return NewWithOptions(cfg, Options{Version: version})
}

// NewWithOptions creates and initializes the application with custom options.
func NewWithOptions(cfg *config.Config, opts Options) (*App, error) {
	logger := SetupLogger(cfg.Logging)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	var clk ports.Clock = clock.Real{}
	if opts.Clock != nil {
		clk = opts.Clock
	}

	logger.Info().
		Str("driver", cfg.Database.Driver).
		Str("payments", cfg.Payments.Provider).
		Msg("initializing metergate")

	a := &App{Config: cfg, Logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	store, err := OpenStore(ctx, cfg.Database, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.Store = store

	if err := a.initServices(cfg, clk); err != nil {
		a.Shutdown()
		return nil, err
	}
	a.initHTTPServer(cfg, opts.Version)

	return a, nil
}

func (a *App) initServices(cfg *config.Config, clk ports.Clock) error {
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.registry = reg
		a.Metrics = metrics.NewWithRegistry(reg)
		a.Logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, clk)
	if err != nil {
		return fmt.Errorf("init tokens: %w", err)
	}

	upstream, err := apihttp.NewUpstreamClient(apihttp.UpstreamConfig{
		BaseURL:      cfg.Downstream.URL,
		Timeout:      cfg.Downstream.Timeout,
		MaxIdleConns: cfg.Downstream.MaxIdleConns,
		Metrics:      a.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init downstream: %w", err)
	}
	a.upstream = upstream

	provider, err := payment.NewProvider(cfg.Payments.Provider, cfg.Payments.WebhookSecret)
	if err != nil {
		return fmt.Errorf("init payments: %w", err)
	}

	a.Auth = app.NewAuthService(app.AuthDeps{
		Accounts: a.Store,
		Hasher:   hasher.NewBcrypt(cfg.Auth.BcryptCost),
		Tokens:   tokens,
		IDGen:    idgen.NewAccountIDs(),
		Clock:    clk,
		Logger:   a.Logger,
	})
	a.Ledger = app.NewLedgerService(a.Store, a.Logger)
	a.Proxy = app.NewProxyService(app.ProxyDeps{
		Auth:      a.Auth,
		Ledger:    a.Ledger,
		Predictor: upstream,
		Clock:     clk,
		IDGen:     idgen.NewRequestIDs(),
		Logger:    a.Logger,
	}, app.ProxyConfig{
		Timeout:         cfg.Downstream.Timeout,
		RefundOnFailure: cfg.Ledger.Refund(),
	})
	a.Reconciler = app.NewPaymentReconciler(provider, a.Ledger, app.ReconcilerConfig{
		Tiers:         Tiers(cfg.Payments.Tiers),
		DefaultCredit: cfg.Payments.DefaultCredit,
	}, a.Logger)

	return nil
}

func (a *App) initHTTPServer(cfg *config.Config, version string) {
	var metricsHandler http.Handler
	if a.registry != nil {
		metricsHandler = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	}

	handler := apihttp.NewHandler(apihttp.HandlerDeps{
		Auth:       a.Auth,
		Ledger:     a.Ledger,
		Proxy:      a.Proxy,
		Reconciler: a.Reconciler,
		Limiter:    apihttp.NewLoginLimiter(cfg.Auth.LoginRatePerMinute, cfg.Auth.LoginBurst),
		AdminToken: cfg.Auth.AdminToken,
		Metrics:    a.Metrics,
		Logger:     a.Logger,
	})
	router := apihttp.NewRouter(handler, apihttp.NewHealthHandler(a.Store), a.Logger, apihttp.RouterConfig{
		Metrics:        a.Metrics,
		MetricsHandler: metricsHandler,
		MetricsPath:    cfg.Metrics.Path,
		EnableMetrics:  cfg.Metrics.Enabled,
		EnableOpenAPI:  cfg.OpenAPI.Enabled,
		Version:        version,
	})

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.HTTPServer.Handler
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown drains in-flight requests, then releases the store and
// downstream connections. Safe to call on a partially built App.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.upstream != nil {
		a.upstream.Close()
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("store close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// OpenStore connects the configured account store and applies its migrations.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, clk ports.Clock, logger zerolog.Logger) (ports.AccountStore, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn().Msg("using in-memory account store, balances are lost on restart")
		return memory.NewAccountStore(clk, memory.DefaultShards), nil

	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("path", cfg.DSN).Msg("sqlite store ready")
		return sqlite.NewAccountStore(db, clk), nil

	case "postgres":
		db, err := postgres.Open(ctx, cfg.DSN, postgresMaxOpen)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info().Msg("postgres store ready")
		return postgres.NewAccountStore(db, clk), nil

	case "redis":
		client, err := redis.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("redis store ready")
		return redis.NewAccountStore(client, redis.DefaultPrefix, clk), nil

	case "mongo":
		client, err := mongo.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store := mongo.NewAccountStore(client, cfg.Name, mongo.DefaultCollection, clk)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("database", cfg.Name).Msg("mongo store ready")
		return store, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// Tiers converts configured tiers to the domain pricing table.
func Tiers(cfg []config.TierConfig) []domainpayment.Tier {
	if len(cfg) == 0 {
		return nil
	}
	tiers := make([]domainpayment.Tier, len(cfg))
	for i, t := range cfg {
		tiers[i] = domainpayment.Tier{Name: t.Name, Credits: t.Credits, Unlimited: t.Unlimited}
	}
	return tiers
}

// SetupLogger builds the root logger from the logging section.
func SetupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "METERGATE_"

// Config is the root configuration structure.
// It is built once at startup and passed explicitly; nothing mutates it afterwards.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Downstream DownstreamConfig `yaml:"downstream"`
	Database   DatabaseConfig   `yaml:"database"`
	Payments   PaymentsConfig   `yaml:"payments"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	OpenAPI    OpenAPIConfig    `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig configures credentials and session tokens.
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	TokenTTL           time.Duration `yaml:"token_ttl"` // 0 = tokens never expire
	BcryptCost         int           `yaml:"bcrypt_cost"`
	AdminToken         string        `yaml:"admin_token,omitempty"` // required on /usage/credit when set
	LoginRatePerMinute int           `yaml:"login_rate_per_minute"`
	LoginBurst         int           `yaml:"login_burst"`
}

// DownstreamConfig configures the prediction service.
type DownstreamConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

// DatabaseConfig configures the account store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite, postgres, redis, mongo
	DSN    string `yaml:"dsn"`
	Name   string `yaml:"name"` // mongo database name
}

// PaymentsConfig configures webhook verification and what a payment buys.
type PaymentsConfig struct {
	Provider      string       `yaml:"provider"` // none, coinbase, stripe
	WebhookSecret string       `yaml:"webhook_secret,omitempty"`
	DefaultCredit int64        `yaml:"default_credit"`
	Tiers         []TierConfig `yaml:"tiers"`
}

// TierConfig maps a price tier to the calls it grants.
type TierConfig struct {
	Name      string `yaml:"name"`
	Credits   int64  `yaml:"credits"`
	Unlimited bool   `yaml:"unlimited"`
}

// LedgerConfig configures balance compensation.
type LedgerConfig struct {
	RefundOnFailure *bool `yaml:"refund_on_failure"` // default true
}

// Refund reports whether a failed downstream call is refunded.
func (l LedgerConfig) Refund() bool {
	return l.RefundOnFailure == nil || *l.RefundOnFailure
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /metrics
}

// OpenAPIConfig configures OpenAPI/Swagger documentation.
type OpenAPIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	METERGATE_DOWNSTREAM_URL       - Prediction service URL (required)
//	METERGATE_AUTH_JWT_SECRET      - Token signing secret, >= 16 bytes (required)
//	METERGATE_AUTH_TOKEN_TTL       - Token lifetime, e.g. 24h (default: no expiry)
//	METERGATE_AUTH_ADMIN_TOKEN     - Required X-Admin-Token for /usage/credit
//	METERGATE_DATABASE_DRIVER      - memory, sqlite, postgres, redis, mongo (default: sqlite)
//	METERGATE_DATABASE_DSN         - Store DSN (default: metergate.db)
//	METERGATE_PAYMENTS_PROVIDER    - none, coinbase, stripe (default: none)
//	METERGATE_PAYMENTS_WEBHOOK_SECRET
//	METERGATE_LEDGER_REFUND_ON_FAILURE (default: true)
//	METERGATE_SERVER_HOST / METERGATE_SERVER_PORT
//	METERGATE_LOG_LEVEL / METERGATE_LOG_FORMAT
//	METERGATE_METRICS_ENABLED / METERGATE_OPENAPI_ENABLED
func LoadFromEnv() (*Config, error) {
	var cfg Config

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set %sDOWNSTREAM_URL", EnvPrefix)
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv(EnvPrefix+"DOWNSTREAM_URL") != ""
}

// envOverrides collects METERGATE_* variables into cfg.
// Unparseable values are reported rather than silently ignored.
type envOverrides struct {
	errs []string
}

func (e *envOverrides) str(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func (e *envOverrides) integer(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, EnvPrefix+name)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) int64(name string, dst *int64) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, EnvPrefix+name)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) duration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, EnvPrefix+name)
			return
		}
		*dst = d
	}
}

func (e *envOverrides) boolean(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = parseBool(v)
	}
}

// applyEnvOverrides applies METERGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) error {
	var e envOverrides

	e.str("SERVER_HOST", &cfg.Server.Host)
	e.integer("SERVER_PORT", &cfg.Server.Port)
	e.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	e.str("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	e.duration("AUTH_TOKEN_TTL", &cfg.Auth.TokenTTL)
	e.integer("AUTH_BCRYPT_COST", &cfg.Auth.BcryptCost)
	e.str("AUTH_ADMIN_TOKEN", &cfg.Auth.AdminToken)
	e.integer("AUTH_LOGIN_RATE_PER_MINUTE", &cfg.Auth.LoginRatePerMinute)
	e.integer("AUTH_LOGIN_BURST", &cfg.Auth.LoginBurst)

	e.str("DOWNSTREAM_URL", &cfg.Downstream.URL)
	e.duration("DOWNSTREAM_TIMEOUT", &cfg.Downstream.Timeout)
	e.integer("DOWNSTREAM_MAX_IDLE_CONNS", &cfg.Downstream.MaxIdleConns)

	e.str("DATABASE_DRIVER", &cfg.Database.Driver)
	e.str("DATABASE_DSN", &cfg.Database.DSN)
	e.str("DATABASE_NAME", &cfg.Database.Name)

	e.str("PAYMENTS_PROVIDER", &cfg.Payments.Provider)
	e.str("PAYMENTS_WEBHOOK_SECRET", &cfg.Payments.WebhookSecret)
	e.int64("PAYMENTS_DEFAULT_CREDIT", &cfg.Payments.DefaultCredit)

	if v := os.Getenv(EnvPrefix + "LEDGER_REFUND_ON_FAILURE"); v != "" {
		b := parseBool(v)
		cfg.Ledger.RefundOnFailure = &b
	}

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("LOG_FORMAT", &cfg.Logging.Format)

	e.boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	e.str("METRICS_PATH", &cfg.Metrics.Path)
	e.boolean("OPENAPI_ENABLED", &cfg.OpenAPI.Enabled)

	if len(e.errs) > 0 {
		return fmt.Errorf("invalid environment override: %s", strings.Join(e.errs, ", "))
	}
	return nil
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Auth.LoginRatePerMinute == 0 {
		cfg.Auth.LoginRatePerMinute = 10
	}
	if cfg.Auth.LoginBurst == 0 {
		cfg.Auth.LoginBurst = 5
	}

	if cfg.Downstream.Timeout == 0 {
		cfg.Downstream.Timeout = 10 * time.Second
	}
	if cfg.Downstream.MaxIdleConns == 0 {
		cfg.Downstream.MaxIdleConns = 100
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "metergate.db"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "metergate"
	}

	if cfg.Payments.Provider == "" {
		cfg.Payments.Provider = "none"
	}
	if cfg.Payments.DefaultCredit == 0 {
		cfg.Payments.DefaultCredit = 100
	}
	if len(cfg.Payments.Tiers) == 0 {
		cfg.Payments.Tiers = []TierConfig{
			{Name: "basic", Credits: 10},
			{Name: "standard", Credits: 30},
			{Name: "lifetime", Unlimited: true},
		}
	}

	if cfg.Ledger.RefundOnFailure == nil {
		refund := true
		cfg.Ledger.RefundOnFailure = &refund
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// MinSecretLen is the shortest accepted token signing secret.
const MinSecretLen = 16

func validate(cfg *Config) error {
	if cfg.Downstream.URL == "" {
		return fmt.Errorf("downstream.url is required")
	}
	if !strings.HasPrefix(cfg.Downstream.URL, "http://") && !strings.HasPrefix(cfg.Downstream.URL, "https://") {
		return fmt.Errorf("downstream.url must be an http(s) URL, got %q", cfg.Downstream.URL)
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(cfg.Auth.JWTSecret) < MinSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLen)
	}
	if cfg.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must not be negative")
	}
	if cfg.Auth.LoginRatePerMinute < 0 || cfg.Auth.LoginBurst < 0 {
		return fmt.Errorf("auth login rate limits must not be negative")
	}

	validDrivers := map[string]bool{
		"memory": true, "sqlite": true, "postgres": true, "redis": true, "mongo": true,
	}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: memory, sqlite, postgres, redis, mongo")
	}
	if cfg.Database.Driver != "memory" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", cfg.Database.Driver)
	}

	validProviders := map[string]bool{"none": true, "coinbase": true, "stripe": true}
	if !validProviders[cfg.Payments.Provider] {
		return fmt.Errorf("payments.provider must be one of: none, coinbase, stripe")
	}
	if cfg.Payments.Provider != "none" && cfg.Payments.WebhookSecret == "" {
		return fmt.Errorf("payments.webhook_secret is required for provider %q", cfg.Payments.Provider)
	}
	if cfg.Payments.DefaultCredit < 0 {
		return fmt.Errorf("payments.default_credit must be positive")
	}

	seen := make(map[string]bool, len(cfg.Payments.Tiers))
	for i, tier := range cfg.Payments.Tiers {
		name := strings.ToLower(strings.TrimSpace(tier.Name))
		if name == "" {
			return fmt.Errorf("payments.tiers[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("payments.tiers[%d]: duplicate tier %q", i, tier.Name)
		}
		seen[name] = true
		if !tier.Unlimited && tier.Credits <= 0 {
			return fmt.Errorf("payments.tiers[%d].credits must be positive", i)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}

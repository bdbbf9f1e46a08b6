package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DBMaxConns         int
	DBMinConns         int
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64
	DefaultCurrency    string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTSkew     time.Duration
	JWTMaxAge   time.Duration

	PaystackSecretKey   string
	PaystackBaseURL     string
	StripeSecretKey     string
	StripeWebhookSecret string
	PaymentCallbackURL  string

	GatewayInitiateTimeout time.Duration
	GatewayVerifyTimeout   time.Duration
	GatewayCallTimeout     time.Duration
	GatewayMaxAttempts     int
	GatewayRetryBase       time.Duration
	BreakerMinRequests     int
	BreakerFailureRatio    float64
	BreakerOpenFor         time.Duration

	CacheTTL         time.Duration
	WebhookReplayTTL time.Duration
	IdempotencyTTL   time.Duration
	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	CouponRateLimit  string

	ReconcileQueue         string
	ReconcileMaxRetry      int
	ReconcileDelay         time.Duration
	ReconcileRetryBase     time.Duration
	ReconcileRetryMax      time.Duration
	ReconcileSweepInterval time.Duration
	ReconcileSweepAge      time.Duration
	WorkerConcurrency      int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		DBMaxConns:         parseInt(k.String("DB_MAX_CONNS"), 0),
		DBMinConns:         parseInt(k.String("DB_MIN_CONNS"), 0),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20)),
		DefaultCurrency:    strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "NGN")),

		JWTSecret:   k.String("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(k.String("JWT_AUDIENCE")),
		JWTSkew:     parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),
		JWTMaxAge:   parseDuration(k.String("JWT_MAX_AGE"), "0s"),

		PaystackSecretKey:   strings.TrimSpace(k.String("PAYSTACK_SECRET_KEY")),
		PaystackBaseURL:     valueOrDefault(k.String("PAYSTACK_BASE_URL"), "https://api.paystack.co"),
		StripeSecretKey:     strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(k.String("STRIPE_WEBHOOK_SECRET")),
		PaymentCallbackURL:  strings.TrimSpace(k.String("PAYMENT_CALLBACK_URL")),

		GatewayInitiateTimeout: parseDuration(k.String("GATEWAY_INITIATE_TIMEOUT"), "15s"),
		GatewayVerifyTimeout:   parseDuration(k.String("GATEWAY_VERIFY_TIMEOUT"), "20s"),
		GatewayCallTimeout:     parseDuration(k.String("GATEWAY_CALL_TIMEOUT"), "8s"),
		GatewayMaxAttempts:     parseInt(k.String("GATEWAY_MAX_ATTEMPTS"), 3),
		GatewayRetryBase:       parseDuration(k.String("GATEWAY_RETRY_BASE"), "200ms"),
		BreakerMinRequests:     parseInt(k.String("GATEWAY_BREAKER_MIN_REQUESTS"), 10),
		BreakerFailureRatio:    parseFloat(k.String("GATEWAY_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:         parseDuration(k.String("GATEWAY_BREAKER_OPEN_FOR"), "30s"),

		CacheTTL:         parseDuration(k.String("CACHE_TTL"), "5m"),
		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		CouponRateLimit:  valueOrDefault(k.String("COUPON_RATE_LIMIT"), "30-M"),

		ReconcileQueue:         valueOrDefault(k.String("RECONCILE_QUEUE"), "payments"),
		ReconcileMaxRetry:      parseInt(k.String("RECONCILE_MAX_RETRY"), 20),
		ReconcileDelay:         parseDuration(k.String("RECONCILE_DELAY"), "30s"),
		ReconcileRetryBase:     parseDuration(k.String("RECONCILE_RETRY_BASE"), "15s"),
		ReconcileRetryMax:      parseDuration(k.String("RECONCILE_RETRY_MAX"), "30m"),
		ReconcileSweepInterval: parseDuration(k.String("RECONCILE_SWEEP_INTERVAL"), "1m"),
		ReconcileSweepAge:      parseDuration(k.String("RECONCILE_SWEEP_AGE"), "10m"),
		WorkerConcurrency:      parseInt(k.String("WORKER_CONCURRENCY"), 5),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if len(cfg.DefaultCurrency) != 3 {
		return nil, fmt.Errorf("CURRENCY_CODE %q must be an ISO 4217 code", cfg.DefaultCurrency)
	}
	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		return nil, errors.New("GATEWAY_BREAKER_FAILURE_RATIO must be in (0, 1]")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// GatewaysConfigured lists the gateways with credentials present.
func (c *Config) GatewaysConfigured() []string {
	var out []string
	if c.PaystackSecretKey != "" {
		out = append(out, "paystack")
	}
	if c.StripeSecretKey != "" {
		out = append(out, "stripe")
	}
	return out
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

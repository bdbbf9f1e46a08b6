package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL": "postgres://localhost/checkout",
		"REDIS_URL":    "redis://localhost:6379/0",
		"JWT_SECRET":   "test-secret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "NGN", cfg.DefaultCurrency)
	require.Equal(t, 15*time.Second, cfg.GatewayInitiateTimeout)
	require.Equal(t, 72*time.Hour, cfg.WebhookReplayTTL)
	require.Equal(t, "payments", cfg.ReconcileQueue)
	require.Equal(t, 0.5, cfg.BreakerFailureRatio)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = ":9090"
	env["CURRENCY_CODE"] = "usd"
	env["GATEWAY_VERIFY_TIMEOUT"] = "5s"
	env["GATEWAY_MAX_ATTEMPTS"] = "not-a-number"
	env["PAYSTACK_SECRET_KEY"] = "sk_test"
	env["CORS_ALLOWED_ORIGINS"] = "https://shop.example.com, https://admin.example.com"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, "USD", cfg.DefaultCurrency)
	require.Equal(t, 5*time.Second, cfg.GatewayVerifyTimeout)
	require.Equal(t, 3, cfg.GatewayMaxAttempts)
	require.Equal(t, []string{"paystack"}, cfg.GatewaysConfigured())
	require.Len(t, cfg.CORSAllowedOrigins, 2)
}

func TestLoadRequiresConnections(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	_, err := LoadForTests(env)
	require.ErrorContains(t, err, "DATABASE_URL")

	env = baseEnv()
	env["CURRENCY_CODE"] = "NAIRA"
	_, err = LoadForTests(env)
	require.Error(t, err)
}

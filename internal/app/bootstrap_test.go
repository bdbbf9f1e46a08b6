package app

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

func TestNewGatewaysRegistersConfigured(t *testing.T) {
	cfg := &config.Config{
		PaystackSecretKey:   "sk_test_paystack",
		StripeSecretKey:     "sk_test_stripe",
		StripeWebhookSecret: "whsec_test",
		GatewayMaxAttempts:  3,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.5,
	}
	reg, breakers, err := NewGateways(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{"paystack", "stripe"}, reg.IDs())
	require.Len(t, breakers, 1)
	require.Equal(t, "paystack", breakers[0].Target())

	gw, err := reg.Get("paystack")
	require.NoError(t, err)
	_, ok := gw.(payment.WebhookVerifier)
	require.True(t, ok)
}

func TestNewGatewaysEmpty(t *testing.T) {
	reg, breakers, err := NewGateways(&config.Config{}, zerolog.Nop())
	require.NoError(t, err)
	require.Empty(t, breakers)
	require.Empty(t, reg.IDs())
	_, err = reg.Get("stripe")
	require.ErrorIs(t, err, payment.ErrUnknownGateway)
}

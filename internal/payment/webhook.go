package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

// ReconcileFunc settles a gateway transaction. It is the webhook's only side effect.
type ReconcileFunc func(ctx context.Context, gatewayID, transactionID string) error

// Webhook handles signed gateway callbacks with replay protection.
type Webhook struct {
	Gateways  *Registry
	Replay    *redis.Client
	ReplayTTL time.Duration
	Reconcile ReconcileFunc
	MaxBody   int64
	Log       zerolog.Logger
}

// Handle verifies the callback signature and feeds actionable events to Reconcile.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Gateways == nil || h.Reconcile == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	gatewayID := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gatewayID")))
	gw, err := h.Gateways.Get(gatewayID)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "GATEWAY_NOT_SUPPORTED", "unknown gateway", nil)
		return
	}
	verifier, ok := gw.(WebhookVerifier)
	if !ok {
		common.JSONError(w, http.StatusNotFound, "GATEWAY_NOT_SUPPORTED", "gateway does not send webhooks", nil)
		return
	}
	limit := h.MaxBody
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	event, err := verifier.VerifyWebhook(r.Header, body)
	if err != nil {
		obs.CountWebhook(gatewayID, "invalid")
		if errors.Is(err, ErrInvalidSignature) {
			common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
			return
		}
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", "malformed webhook payload", nil)
		return
	}
	log := h.Log.With().Str("gateway", gatewayID).Str("event", event.Type).Str("transaction_id", event.TransactionID).Logger()
	if !event.Actionable {
		obs.CountWebhook(gatewayID, "ignored")
		common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"received": true}})
		return
	}

	ctx := r.Context()
	replayKey := ""
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = fmt.Sprintf("wh:%s:%s", gatewayID, common.Digest(body))
		fresh, err := h.Replay.SetNX(ctx, replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "unable to record webhook", nil)
			return
		}
		if !fresh {
			obs.CountWebhook(gatewayID, "duplicate")
			log.Info().Msg("webhook_duplicate")
			common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"received": true, "duplicate": true}})
			return
		}
	}

	if err := h.Reconcile(ctx, gatewayID, event.TransactionID); err != nil {
		obs.CountWebhook(gatewayID, "error")
		log.Error().Err(err).Msg("webhook_reconcile_failed")
		if replayKey != "" {
			// Let the gateway's retry reach us again.
			_ = h.Replay.Del(context.WithoutCancel(ctx), replayKey).Err()
		}
		common.JSONError(w, http.StatusServiceUnavailable, "RECONCILE_FAILED", "unable to process webhook, retry later", nil)
		return
	}
	obs.CountWebhook(gatewayID, "processed")
	log.Info().Msg("webhook_processed")
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"received": true}})
}

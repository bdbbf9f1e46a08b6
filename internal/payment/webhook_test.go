package payment

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type reconcileRecorder struct {
	calls []string
	err   error
}

func (r *reconcileRecorder) reconcile(_ context.Context, gatewayID, transactionID string) error {
	r.calls = append(r.calls, gatewayID+":"+transactionID)
	return r.err
}

func newWebhook(t *testing.T, rec *reconcileRecorder) (Webhook, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	p, err := NewPaystack(PaystackConfig{SecretKey: "sk_test_secret"})
	require.NoError(t, err)
	return Webhook{
		Gateways:  NewRegistry(p),
		Replay:    client,
		ReplayTTL: time.Hour,
		Reconcile: rec.reconcile,
	}, mr
}

func postWebhook(h Webhook, gateway string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/"+gateway, bytes.NewReader(body))
	req.Header.Set("x-paystack-signature", signature)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("gatewayID", gateway)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestWebhookProcessesOnce(t *testing.T) {
	recorder := &reconcileRecorder{}
	h, _ := newWebhook(t, recorder)
	body := []byte(`{"event":"charge.success","data":{"reference":"chk_ref"}}`)

	res := postWebhook(h, "paystack", body, signPaystack(body))
	require.Equal(t, http.StatusOK, res.Code)
	res = postWebhook(h, "paystack", body, signPaystack(body))
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"duplicate":true`)
	require.Equal(t, []string{"paystack:chk_ref"}, recorder.calls)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	recorder := &reconcileRecorder{}
	h, _ := newWebhook(t, recorder)
	body := []byte(`{"event":"charge.success","data":{"reference":"chk_ref"}}`)

	res := postWebhook(h, "paystack", body, "deadbeef")
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Empty(t, recorder.calls)

	res = postWebhook(h, "unknown", body, signPaystack(body))
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestWebhookReleasesReplayKeyOnFailure(t *testing.T) {
	recorder := &reconcileRecorder{err: errors.New("db down")}
	h, mr := newWebhook(t, recorder)
	body := []byte(`{"event":"charge.success","data":{"reference":"chk_ref"}}`)

	res := postWebhook(h, "paystack", body, signPaystack(body))
	require.Equal(t, http.StatusServiceUnavailable, res.Code)
	require.Empty(t, mr.Keys())

	recorder.err = nil
	res = postWebhook(h, "paystack", body, signPaystack(body))
	require.Equal(t, http.StatusOK, res.Code)
	require.Len(t, recorder.calls, 2)
}

func TestRegistry(t *testing.T) {
	p, err := NewPaystack(PaystackConfig{SecretKey: "sk"})
	require.NoError(t, err)
	s, err := NewStripe(StripeConfig{Intents: &fakeIntents{}})
	require.NoError(t, err)
	reg := NewRegistry(p, s)

	g, err := reg.Get(" Paystack ")
	require.NoError(t, err)
	require.Equal(t, "paystack", g.ID())
	_, err = reg.Get("flutterwave")
	require.ErrorIs(t, err, ErrUnknownGateway)
	require.Equal(t, []string{"paystack", "stripe"}, reg.IDs())
}

func TestMemoryAttemptsNeverDowngradeConfirmed(t *testing.T) {
	store := NewMemoryAttempts()
	ctx := context.Background()
	a, err := store.Create(ctx, Attempt{CartID: "c1", Gateway: "paystack", TransactionID: "t1", Reference: "t1", Amount: 100})
	require.NoError(t, err)
	require.Equal(t, AttemptInitiated, a.Status)

	require.NoError(t, store.SetStatus(ctx, a.ID, AttemptConfirmed, ""))
	require.NoError(t, store.SetStatus(ctx, a.ID, AttemptFailed, "late failure"))
	got, err := store.GetByTransaction(ctx, "paystack", "t1")
	require.NoError(t, err)
	require.Equal(t, AttemptConfirmed, got.Status)

	_, err = store.Create(ctx, Attempt{CartID: "c1", Gateway: "paystack", TransactionID: "t1"})
	require.Error(t, err)
}

func TestNewReferenceIsUnique(t *testing.T) {
	now := time.Now()
	require.NotEqual(t, NewReference(now), NewReference(now))
}

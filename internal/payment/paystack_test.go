package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPaystack(t *testing.T, handler http.HandlerFunc) *Paystack {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewPaystack(PaystackConfig{
		SecretKey:   "sk_test_secret",
		BaseURL:     srv.URL,
		Timeout:     time.Second,
		MaxAttempts: 2,
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)
	p.http.BaseBackoff = time.Millisecond
	return p
}

func TestPaystackInitiate(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		require.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.EqualValues(t, 490500, body["amount"])
		require.Equal(t, "NGN", body["currency"])
		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{
			"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"chk_ref"}}`))
	})

	tx, err := p.Initiate(context.Background(), InitiateRequest{
		Reference: "chk_ref", Amount: 490_500, Currency: "ngn", Email: "ada@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "chk_ref", tx.TransactionID)
	require.Equal(t, "abc", tx.AccessCode)
	require.Equal(t, "https://checkout.paystack.com/abc", tx.AuthorizationURL)
}

func TestPaystackInitiateRejectsNonPositiveAmount(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	})
	_, err := p.Initiate(context.Background(), InitiateRequest{Reference: "r", Amount: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPaystackVerify(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/verify/chk_ref", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{
			"id":1,"status":"success","reference":"chk_ref","amount":490500,"currency":"NGN","paid_at":"2024-05-01T10:00:00Z"}}`))
	})
	v, err := p.Verify(context.Background(), "chk_ref")
	require.NoError(t, err)
	require.True(t, v.Settled)
	require.EqualValues(t, 490_500, v.Amount)
	require.Equal(t, "NGN", v.Currency)
	require.NotNil(t, v.PaidAt)
}

func TestPaystackVerifyErrors(t *testing.T) {
	declined := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	})
	_, err := declined.Verify(context.Background(), "missing")
	require.ErrorIs(t, err, ErrDeclined)
	require.False(t, IsTransient(err))

	calls := 0
	down := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err = down.Verify(context.Background(), "chk_ref")
	require.ErrorIs(t, err, ErrTransient)
	require.True(t, IsTransient(err))
	require.Equal(t, 2, calls)
}

func signPaystack(body []byte) string {
	mac := hmac.New(sha512.New, []byte("sk_test_secret"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystackVerifyWebhook(t *testing.T) {
	p, err := NewPaystack(PaystackConfig{SecretKey: "sk_test_secret"})
	require.NoError(t, err)
	body := []byte(`{"event":"charge.success","data":{"reference":"chk_ref","amount":490500}}`)

	h := http.Header{}
	h.Set("x-paystack-signature", signPaystack(body))
	ev, err := p.VerifyWebhook(h, body)
	require.NoError(t, err)
	require.True(t, ev.Actionable)
	require.Equal(t, "chk_ref", ev.TransactionID)

	h.Set("x-paystack-signature", strings.Repeat("0", 128))
	_, err = p.VerifyWebhook(h, body)
	require.ErrorIs(t, err, ErrInvalidSignature)

	other := []byte(`{"event":"transfer.success","data":{"reference":"x"}}`)
	h.Set("x-paystack-signature", signPaystack(other))
	ev, err = p.VerifyWebhook(h, other)
	require.NoError(t, err)
	require.False(t, ev.Actionable)
}

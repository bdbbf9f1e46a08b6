package common

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) (Idem, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client, TTL: time.Hour}, mr
}

func TestIdemReplaysStoredResponse(t *testing.T) {
	idem, _ := newIdem(t)
	var calls atomic.Int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		JSON(w, http.StatusCreated, map[string]string{"orderId": "o-1"})
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payments/paystack/confirm-order", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code)
	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.EqualValues(t, 1, calls.Load())
}

func TestIdemReleasesOnServerError(t *testing.T) {
	idem, mr := newIdem(t)
	status := http.StatusBadGateway
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(http.MethodPost, "/payments/paystack/initiate", nil)
	req.Header.Set("Idempotency-Key", "retry-me")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Empty(t, mr.Keys())

	status = http.StatusCreated
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.Clone(req.Context()))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdemInFlightConflict(t *testing.T) {
	idem, mr := newIdem(t)
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	require.NoError(t, mr.Set(hashKey(req, "busy"), idemPending))

	req.Header.Set("Idempotency-Key", "busy")
	rec := httptest.NewRecorder()
	idem.Middleware(http.NotFoundHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdemReleasesProvisionalConfirmation(t *testing.T) {
	for _, provisional := range []int{http.StatusAccepted, http.StatusPaymentRequired} {
		t.Run(http.StatusText(provisional), func(t *testing.T) {
			idem, mr := newIdem(t)
			status := provisional
			var calls atomic.Int32
			h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				JSON(w, status, map[string]string{"orderId": "o-1"})
			}))

			req := httptest.NewRequest(http.MethodPost, "/payments/paystack/confirm-order", nil)
			req.Header.Set("Idempotency-Key", "confirm-1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, provisional, rec.Code)
			require.Empty(t, mr.Keys())

			status = http.StatusCreated
			rec = httptest.NewRecorder()
			h.ServeHTTP(rec, req.Clone(req.Context()))
			require.Equal(t, http.StatusCreated, rec.Code)
			require.Empty(t, rec.Header().Get("Idempotent-Replayed"))
			require.EqualValues(t, 2, calls.Load())
		})
	}
}

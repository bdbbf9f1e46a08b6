package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/common"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: "test-secret", Issuer: "toko", Audience: "checkout", ClockSkew: time.Second})
	require.NoError(t, err)
	return v
}

func whoami(w http.ResponseWriter, r *http.Request) {
	id, _ := common.UserID(r.Context())
	w.Header().Set("X-User", id)
	w.WriteHeader(http.StatusNoContent)
}

func TestVerifierRoundTrip(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Sign("user-1", []string{"admin"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.ParseAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, []string{"admin"}, claims.Roles)

	other, err := NewVerifier(Config{Secret: "other", Issuer: "toko", Audience: "checkout"})
	require.NoError(t, err)
	_, err = other.ParseAccessToken(token)
	require.Error(t, err)
	require.True(t, common.IsAppError(err))
}

func TestVerifierRejectsExpired(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Sign("user-1", nil, time.Minute)
	require.NoError(t, err)
	v.WithNow(func() time.Time { return time.Now().Add(time.Hour) })
	_, err = v.ParseAccessToken(token)
	require.Error(t, err)
}

func TestAuthenticateAllowsGuests(t *testing.T) {
	m := Middleware{Verifier: newTestVerifier(t)}
	h := m.Authenticate(http.HandlerFunc(whoami))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Header().Get("X-User"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAuthAndRole(t *testing.T) {
	v := newTestVerifier(t)
	m := Middleware{Verifier: v, AccessCookie: "access_token"}
	h := m.RequireAuth(RequireRole("admin")(http.HandlerFunc(whoami)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	customer, err := v.Sign("user-2", nil, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+customer)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := v.Sign("user-3", []string{"admin"}, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: admin})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "user-3", rec.Header().Get("X-User"))
}

package security

import (
	"net/http"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// CSRF applies the double-submit check to cookie-authenticated writes: the
// Header value must equal the Cookie value. Bearer requests and requests
// matched by Skip are exempt.
type CSRF struct {
	Cookie string
	Header string
	Skip   func(*http.Request) bool
}

// Middleware rejects unsafe methods that fail the double-submit check with 403.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	header := strings.TrimSpace(c.Header)
	if header == "" {
		header = "X-CSRF-Token"
	}
	cookieName := strings.TrimSpace(c.Cookie)
	if cookieName == "" {
		cookieName = "csrf_token"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) || (c.Skip != nil && c.Skip(r)) || hasBearer(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimSpace(r.Header.Get(header))
		if token == "" {
			reject(w, "missing csrf token")
			return
		}
		cookie, err := r.Cookie(cookieName)
		if err != nil {
			reject(w, "missing csrf cookie")
			return
		}
		if !common.SecureCompare(token, strings.TrimSpace(cookie.Value)) {
			reject(w, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SkipWithoutCookie exempts requests that do not carry the named session
// cookie. Such requests cannot ride on ambient browser credentials.
func SkipWithoutCookie(name string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		_, err := r.Cookie(name)
		return err != nil
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func hasBearer(r *http.Request) bool {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	return len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ")
}

func reject(w http.ResponseWriter, msg string) {
	common.JSONError(w, http.StatusForbidden, "CSRF_REJECTED", msg, nil)
}

package security

import (
	"net/http"
	"strconv"
)

// apiCSP forbids every resource type. The API only ever returns JSON, so a
// response rendered as a document by mistake cannot load or run anything.
const apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"

// Headers sets response hardening headers for the JSON API.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// NoStore marks every response uncacheable. Prices and payment state must
	// never be served from an intermediary.
	NoStore bool
}

// Middleware writes the headers before the handler runs so error paths get them too.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := h.hstsValue()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Content-Security-Policy", apiCSP)
		headers.Set("Cross-Origin-Resource-Policy", "same-site")
		headers.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
		if h.NoStore {
			headers.Set("Cache-Control", "no-store")
			headers.Set("Pragma", "no-cache")
		}
		if hsts != "" && r.TLS != nil {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (h Headers) hstsValue() string {
	if !h.EnableHSTS {
		return ""
	}
	maxAge := h.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 31536000
	}
	value := "max-age=" + strconv.Itoa(maxAge)
	if h.HSTSIncludeSubdomains {
		value += "; includeSubDomains"
	}
	return value
}

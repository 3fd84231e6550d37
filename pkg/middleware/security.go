package middleware

import "net/http"

// SecurityHeaders sets the response headers every auth response should carry.
// Responses are never cacheable since they may hold tokens. HSTS is only sent
// in production where the service sits behind TLS.
func SecurityHeaders(environment string) func(http.Handler) http.Handler {
	hsts := environment == "production"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cache-Control", "no-store")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

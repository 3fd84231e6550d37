package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveWithSecurityHeaders(environment string) *httptest.ResponseRecorder {
	handler := SecurityHeaders(environment)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	return rr
}

func TestSecurityHeaders_Development(t *testing.T) {
	rr := serveWithSecurityHeaders("development")

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Empty(t, rr.Header().Get("Strict-Transport-Security"))
}

func TestSecurityHeaders_ProductionAddsHSTS(t *testing.T) {
	rr := serveWithSecurityHeaders("production")

	assert.Contains(t, rr.Header().Get("Strict-Transport-Security"), "max-age=")
}

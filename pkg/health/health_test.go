package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func ready(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLivenessHandler_AlwaysReturns200(t *testing.T) {
	h := NewHandler()
	h.Register("mongo", down)
	rec := httptest.NewRecorder()

	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUp, resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name        string
		critical    Checker
		nonCritical Checker
		wantCode    int
		wantStatus  Status
	}{
		{"all up", up, up, http.StatusOK, StatusUp},
		{"cache down", up, down, http.StatusOK, StatusDegraded},
		{"store down", down, up, http.StatusServiceUnavailable, StatusDown},
		{"both down", down, down, http.StatusServiceUnavailable, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			h.Register("mongo", tt.critical)
			h.RegisterNonCritical("redis", tt.nonCritical)

			code, resp := ready(t, h)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.True(t, resp.Checks["mongo"].Critical)
			assert.False(t, resp.Checks["redis"].Critical)
		})
	}
}

func TestReadinessHandler_ReportsError(t *testing.T) {
	h := NewHandler()
	h.Register("mongo", down)

	_, resp := ready(t, h)
	assert.Equal(t, "connection refused", resp.Checks["mongo"].Error)
}

func TestReadinessHandler_NoCheckers(t *testing.T) {
	code, resp := ready(t, NewHandler())

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
}

func TestRegister_Overwrite(t *testing.T) {
	h := NewHandler()
	h.Register("mongo", down)
	h.Register("mongo", up)

	code, _ := ready(t, h)
	assert.Equal(t, http.StatusOK, code)
}

package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/logger"
	"github.com/utafrali/authservice/pkg/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

// --- WriteJSON ---

func TestWriteJSON_SetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, Response{Status: true, Message: "ok"})

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- WriteSuccess ---

func TestWriteSuccess_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, http.StatusCreated, "User created successfully", map[string]string{"userId": "u-1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["status"])
	assert.Equal(t, "User created successfully", body["message"])
	assert.Equal(t, "u-1", body["data"].(map[string]any)["userId"])
}

func TestWriteSuccess_OmitsNilData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, http.StatusOK, "Logged out successfully", nil)

	body := decode(t, rec)
	_, hasData := body["data"]
	assert.False(t, hasData)
}

// --- WriteError ---

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)

	WriteError(rec, req, apperrors.InvalidCredentials(), testLogger())

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["status"])
	assert.Equal(t, "Invalid credentials", body["message"])
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])
}

func TestWriteError_WrappedAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh-token", nil)

	WriteError(rec, req, fmt.Errorf("refresh: %w", apperrors.ExpiredToken("Refresh token expired")), testLogger())

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Refresh token expired", body["message"])
}

func TestWriteError_UnknownErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)

	WriteError(rec, req, fmt.Errorf("server selection timeout"), testLogger())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["status"])
	assert.Equal(t, "an internal error occurred", body["message"])
	assert.NotContains(t, rec.Body.String(), "server selection timeout")
}

func TestWriteError_ValidationError(t *testing.T) {
	type input struct {
		Email string `json:"email" validate:"required,email"`
	}
	verr := validator.Validate(input{Email: "nope"})
	require.Error(t, verr)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/register", nil)
	WriteError(rec, req, verr, testLogger())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Validation failed", body["message"])
	fields := body["errors"].(map[string]any)
	assert.Equal(t, "must be a valid email address", fields["email"])
}

func TestWriteError_IncludesCorrelationID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req = req.WithContext(logger.WithCorrelationID(context.Background(), "corr-42"))

	WriteError(rec, req, apperrors.Unauthenticated("No token, authorization denied"), testLogger())

	body := decode(t, rec)
	assert.Equal(t, "corr-42", body["request_id"])
}

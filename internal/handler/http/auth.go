package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/authservice/internal/service"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/httputil"
	"github.com/utafrali/authservice/pkg/validator"
)

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service      *service.AuthService
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler. secureCookie marks the
// refresh cookie Secure and is set in production.
func NewAuthHandler(svc *service.AuthService, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, secureCookie: secureCookie, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for user registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GoogleSignInRequest is the JSON request body for Google sign-in.
type GoogleSignInRequest struct {
	IDToken string `json:"idToken"`
}

// --- Handlers ---

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	setRefreshCookie(w, res.RefreshToken, h.secureCookie)
	httputil.WriteSuccess(w, http.StatusCreated, "User created successfully", res)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	setRefreshCookie(w, res.RefreshToken, h.secureCookie)
	httputil.WriteSuccess(w, http.StatusOK, "User logged in successfully", res)
}

// GoogleSignIn handles POST /auth/google/signin
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req GoogleSignInRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.FederatedSignIn(r.Context(), req.IDToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	setRefreshCookie(w, res.RefreshToken, h.secureCookie)
	httputil.WriteSuccess(w, http.StatusOK, "Successfully signed in with Google", res)
}

// RefreshToken handles POST /auth/refresh-token. The token is read from the
// refresh cookie, never from the body.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	pair, err := h.service.Refresh(r.Context(), refreshTokenFromCookie(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	setRefreshCookie(w, pair.RefreshToken, h.secureCookie)
	httputil.WriteSuccess(w, http.StatusOK, "Token refreshed", pair)
}

// Logout handles GET /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthenticated("User not found"), h.logger)
		return
	}

	token := refreshTokenFromCookie(r)
	if token == "" {
		httputil.WriteSuccess(w, http.StatusOK, "Already logged out", nil)
		return
	}

	if err := h.service.Logout(r.Context(), user.ID, token); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	clearRefreshCookie(w, h.secureCookie)
	httputil.WriteSuccess(w, http.StatusOK, "Logged out successfully", nil)
}

// LogoutAll handles GET /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthenticated("User not found"), h.logger)
		return
	}

	if err := h.service.LogoutAll(r.Context(), user.ID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	clearRefreshCookie(w, h.secureCookie)
	httputil.WriteSuccess(w, http.StatusOK, "All sessions logged out successfully", nil)
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validator.DecodeJSON(r, dst); err != nil {
		httputil.WriteError(w, r, apperrors.Validation("Invalid request body"), h.logger)
		return false
	}
	return true
}

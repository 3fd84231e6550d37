package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/httputil"
	"github.com/utafrali/authservice/pkg/middleware"
)

type userContextKey struct{}

// UserLoader resolves the subject of an access token to a user record.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// Gate authenticates every request whose route is not public. It runs
// before dispatch, so unknown paths are rejected here before the router
// can answer 404.
type Gate struct {
	routes routeTable
	tokens *auth.TokenCodec
	users  UserLoader
	logger *slog.Logger
}

func newGate(routes routeTable, tokens *auth.TokenCodec, users UserLoader, logger *slog.Logger) *Gate {
	return &Gate{routes: routes, tokens: tokens, users: users, logger: logger}
}

// Handler wraps next with the access check.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.routes.accessFor(r.Method, r.URL.Path) == accessPublic {
			next.ServeHTTP(w, r)
			return
		}

		user, err := g.authenticate(r)
		if err != nil {
			httputil.WriteError(w, r, err, g.logger)
			return
		}

		ctx := middleware.WithUserID(r.Context(), user.ID)
		ctx = context.WithValue(ctx, userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) authenticate(r *http.Request) (*domain.User, error) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		return nil, apperrors.Unauthenticated("No token, authorization denied")
	}

	claims, err := g.tokens.Verify(token, auth.KindAccess)
	if err != nil {
		if errors.Is(err, apperrors.ErrExpiredToken) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.InvalidToken("Invalid token")
	}

	user, err := g.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Unauthenticated("User not found")
		}
		appErr := apperrors.Internal(err)
		appErr.Message = "Server error during authentication"
		return nil, appErr
	}
	return user, nil
}

// UserFromContext returns the user attached by the gate.
func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*domain.User)
	return u, ok && u != nil
}

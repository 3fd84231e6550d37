package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/authservice/pkg/logger"
)

// RequestLogger stores a request-scoped logger in context, built from base and
// tagged with the correlation, trace and span IDs already on the request.
// Handlers retrieve it with logger.FromContext. Mount it after RequestLogging
// and Tracing. The request gate later adds user_id through WithUserID.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

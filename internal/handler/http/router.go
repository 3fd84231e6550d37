package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/service"
	"github.com/utafrali/authservice/pkg/health"
	"github.com/utafrali/authservice/pkg/middleware"
)

const serviceName = "auth-service"

// RouterConfig carries the dependencies of the HTTP surface.
type RouterConfig struct {
	Service *service.AuthService
	Tokens  *auth.TokenCodec
	Users   UserLoader
	Health  *health.Handler

	// Metrics serves /metrics; HTTPMetrics instruments every request.
	// Both are optional.
	Metrics     http.Handler
	HTTPMetrics *middleware.HTTPMetrics

	Environment       string
	CORSOrigins       []string
	PprofEnabled      bool
	PprofAllowedCIDRs []string
	Logger            *slog.Logger
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	authHandler := NewAuthHandler(cfg.Service, cfg.Environment == "production", logger)
	routes := buildRoutes(cfg, authHandler)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	if cfg.HTTPMetrics != nil {
		r.Use(cfg.HTTPMetrics.Middleware)
	}
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.SecurityHeaders(cfg.Environment))
	r.Use(newGate(routes, cfg.Tokens, cfg.Users, logger).Handler)

	for _, rt := range routes {
		if rt.handler != nil {
			r.Method(rt.method, rt.pattern, rt.handler)
		}
	}

	if cfg.PprofEnabled {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)
	}

	return r
}

// buildRoutes returns the capability table. Every served route must appear
// here; anything else is treated as authenticated by the gate.
func buildRoutes(cfg RouterConfig, h *AuthHandler) routeTable {
	jsonBody := func(fn http.HandlerFunc) http.Handler {
		return ContentTypeJSON(LimitBody(fn))
	}

	routes := routeTable{
		{method: http.MethodPost, pattern: "/auth/register", access: accessPublic, handler: jsonBody(h.Register)},
		{method: http.MethodPost, pattern: "/auth/login", access: accessPublic, handler: jsonBody(h.Login)},
		{method: http.MethodPost, pattern: "/auth/google/signin", access: accessPublic, handler: jsonBody(h.GoogleSignIn)},
		{method: http.MethodPost, pattern: "/auth/refresh-token", access: accessPublic, handler: LimitBody(http.HandlerFunc(h.RefreshToken))},
		{method: http.MethodGet, pattern: "/auth/logout", access: accessAuthenticated, handler: http.HandlerFunc(h.Logout)},
		{method: http.MethodGet, pattern: "/auth/logout-all", access: accessAuthenticated, handler: http.HandlerFunc(h.LogoutAll)},
	}

	if cfg.Health != nil {
		routes = append(routes,
			route{method: http.MethodGet, pattern: "/health/live", access: accessPublic, handler: cfg.Health.LivenessHandler()},
			route{method: http.MethodGet, pattern: "/health/ready", access: accessPublic, handler: cfg.Health.ReadinessHandler()},
		)
	}
	if cfg.Metrics != nil {
		routes = append(routes, route{method: http.MethodGet, pattern: "/metrics", access: accessPublic, handler: cfg.Metrics})
	}
	if cfg.PprofEnabled {
		// Registered by middleware.RegisterPprof behind its own CIDR allowlist.
		routes = append(routes, route{pattern: "/debug/pprof/", access: accessPublic, prefix: true})
	}

	return routes
}

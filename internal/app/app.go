package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/config"
	"github.com/utafrali/authservice/internal/event"
	"github.com/utafrali/authservice/internal/federation"
	handler "github.com/utafrali/authservice/internal/handler/http"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/internal/repository/memory"
	mongorepo "github.com/utafrali/authservice/internal/repository/mongo"
	"github.com/utafrali/authservice/internal/repository/postgres"
	redisrepo "github.com/utafrali/authservice/internal/repository/redis"
	"github.com/utafrali/authservice/internal/service"
	"github.com/utafrali/authservice/migrations"
	"github.com/utafrali/authservice/pkg/database"
	"github.com/utafrali/authservice/pkg/health"
	"github.com/utafrali/authservice/pkg/httpclient"
	pkgkafka "github.com/utafrali/authservice/pkg/kafka"
	"github.com/utafrali/authservice/pkg/middleware"
	"github.com/utafrali/authservice/pkg/tracing"
)

const (
	serviceName    = "auth-service"
	serviceVersion = "0.1.0"
)

// closer releases one dependency during shutdown.
type closer struct {
	name  string
	close func() error
}

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	// closers run in reverse order of acquisition.
	closers []closer
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	healthHandler := health.NewHandler()

	users, err := a.openStore(ctx, reg, healthHandler)
	if err != nil {
		return nil, err
	}

	// Optional Redis cache in front of the store.
	if cfg.RedisEnabled {
		client, err := database.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, closer{"redis", client.Close})
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis.Addr()))
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		users = redisrepo.NewCachedUserRepository(users, client, cfg.UserCacheTTL, logger)
	}

	// Domain events go to Kafka when enabled and are dropped otherwise.
	var publisher event.Publisher = event.Discard{}
	if cfg.KafkaEnabled {
		producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger, pkgkafka.NewMetrics(reg))
		a.closers = append(a.closers, closer{"kafka producer", producer.Close})
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
		publisher = producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	events := event.NewProducer(publisher, logger)

	tokens, err := auth.NewTokenCodec(cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("create token codec: %w", err)
	}

	var identity service.IdentityVerifier
	if cfg.GoogleClientID != "" {
		httpCfg := httpclient.DefaultConfig()
		httpCfg.Timeout = cfg.GoogleHTTPTimeout
		client := httpclient.NewResilientClient(httpCfg, httpclient.DefaultCircuitBreakerConfig("google-certs"), logger, httpclient.NewMetrics(reg))
		verifier, err := federation.NewGoogleVerifier(ctx, cfg.GoogleClientID, client, logger)
		if err != nil {
			return nil, fmt.Errorf("create google verifier: %w", err)
		}
		identity = verifier
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set, federated sign-in disabled")
	}

	authService := service.NewAuthService(
		users,
		tokens,
		auth.NewBcryptHasher(cfg.BcryptCost),
		identity,
		events,
		service.NewMetrics(reg),
		logger,
	)

	router := handler.NewRouter(handler.RouterConfig{
		Service:           authService,
		Tokens:            tokens,
		Users:             users,
		Health:            healthHandler,
		Metrics:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		HTTPMetrics:       middleware.NewHTTPMetrics(reg, serviceName),
		Environment:       cfg.Environment,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		PprofEnabled:      cfg.PprofEnabled,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		Logger:            logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// openStore connects the configured user store and registers its health check.
func (a *App) openStore(ctx context.Context, reg prometheus.Registerer, h *health.Handler) (repository.UserRepository, error) {
	cfg, logger := a.cfg, a.logger

	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, err := database.NewMongoClient(ctx, cfg.Mongo, serviceName, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		a.closers = append(a.closers, closer{"mongo", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		}})
		logger.Info("connected to MongoDB", slog.String("database", cfg.Mongo.Database))

		db := client.Database(cfg.Mongo.Database)
		if err := mongorepo.EnsureIndexes(ctx, db); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		h.Register("mongo", database.MongoPing(client))
		return mongorepo.NewUserRepository(db), nil

	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, &cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, closer{"postgres", func() error {
			pool.Close()
			return nil
		}})
		logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.Postgres.Host),
			slog.Int("port", cfg.Postgres.Port),
			slog.String("database", cfg.Postgres.DBName),
		)
		if err := database.RegisterPoolMetrics(reg, pool, serviceName); err != nil {
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}

		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")

		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
		}
		h.Register("postgres", pool.Ping)
		return postgres.NewUserRepository(pool), nil

	case config.DriverMemory:
		logger.Warn("using in-memory user store, data is lost on restart")
		return memory.NewUserRepository(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order: the HTTP server drains
// in-flight requests, the tracer flushes their spans, then the store, cache
// and producer are released.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Error(c.name+" close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	a.closers = nil

	return errors.Join(errs...)
}

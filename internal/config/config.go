package config

import (
	"fmt"
	"slices"
	"time"

	pkgconfig "github.com/utafrali/authservice/pkg/config"
	"github.com/utafrali/authservice/pkg/database"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const (
	defaultAccessSecret  = "change-this-access-secret"
	defaultRefreshSecret = "change-this-refresh-secret"
	minSecretLength      = 32
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"AUTH_HTTP_PORT" envDefault:"8010"`

	// User store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"mongo"`
	Mongo       database.MongoConfig
	Postgres    database.PostgresConfig

	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Redis user cache
	RedisEnabled bool `env:"REDIS_ENABLED" envDefault:"false"`
	Redis        database.RedisConfig
	UserCacheTTL time.Duration `env:"USER_CACHE_TTL" envDefault:"5m"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tokens and passwords
	JWTAccessSecret  string `env:"JWT_ACCESS_SECRET" envDefault:"change-this-access-secret"`
	JWTRefreshSecret string `env:"JWT_REFRESH_SECRET" envDefault:"change-this-refresh-secret"`
	BcryptCost       int    `env:"BCRYPT_COST" envDefault:"10"`

	// Google sign-in. Federated sign-in is disabled when the client id is empty.
	GoogleClientID    string        `env:"GOOGLE_CLIENT_ID"`
	GoogleHTTPTimeout time.Duration `env:"GOOGLE_HTTP_TIMEOUT" envDefault:"5s"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// pprof
	PprofEnabled      bool     `env:"PPROF_ENABLED" envDefault:"false"`
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	return cfg, nil
}

// Validate enforces the rules env tags cannot express.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains([]string{DriverMongo, DriverPostgres, DriverMemory}, c.StoreDriver) {
		return fmt.Errorf("unknown STORE_DRIVER %q (want mongo, postgres or memory)", c.StoreDriver)
	}
	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must not be empty")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.RedisEnabled && c.UserCacheTTL <= 0 {
		return fmt.Errorf("USER_CACHE_TTL must be positive, got %s", c.UserCacheTTL)
	}

	// In non-development environments, require explicitly set, strong secrets.
	if c.Environment != "development" {
		if err := checkSecret("JWT_ACCESS_SECRET", c.JWTAccessSecret, defaultAccessSecret, c.Environment); err != nil {
			return err
		}
		if err := checkSecret("JWT_REFRESH_SECRET", c.JWTRefreshSecret, defaultRefreshSecret, c.Environment); err != nil {
			return err
		}
		if c.StoreDriver == DriverMemory {
			return fmt.Errorf("STORE_DRIVER=memory is only allowed in development, got %q", c.Environment)
		}
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func checkSecret(name, value, sentinel, environment string) error {
	if value == sentinel {
		return fmt.Errorf("%s must be explicitly set via environment variable in %q mode", name, environment)
	}
	if len(value) < minSecretLength {
		return fmt.Errorf("%s must be at least %d characters long, got %d", name, minSecretLength, len(value))
	}
	return nil
}

package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	URI         string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database    string        `env:"MONGO_DATABASE" envDefault:"auth"`
	Timeout     time.Duration `env:"MONGO_TIMEOUT" envDefault:"10s"`
	MaxPoolSize uint64        `env:"MONGO_MAX_POOL_SIZE" envDefault:"50"`
}

// NewMongoClient connects to MongoDB and pings the primary, retrying
// transient failures the same way NewPostgresPool does.
func NewMongoClient(ctx context.Context, cfg MongoConfig, appName string, logger *slog.Logger) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(appName).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetServerSelectionTimeout(cfg.Timeout).
		SetTimeout(cfg.Timeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("configure mongo client: %w", err)
	}

	err = withRetry(ctx, logger, "ping mongo", nil, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		return client.Ping(pingCtx, readpref.Primary())
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// MongoPing returns a health checker for the given client.
func MongoPing(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
}

package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/authservice/internal/domain"
	pkgkafka "github.com/utafrali/authservice/pkg/kafka"
	"github.com/utafrali/authservice/pkg/logger"
)

// Kafka topics for auth domain events.
var (
	TopicUserRegistered      = pkgkafka.Topic("user", "registered")
	TopicUserLoggedIn        = pkgkafka.Topic("user", "logged_in")
	TopicUserSessionsRevoked = pkgkafka.Topic("user", "sessions_revoked")
)

// Aggregate type constant.
const AggregateTypeUser = "user"

// SourceAuthService identifies events originating from this service.
const SourceAuthService = "auth-service"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	AuthProvider string `json:"auth_provider"`
	Role         string `json:"role"`
}

// UserLoggedInData is the payload for a user.logged_in event.
type UserLoggedInData struct {
	ID           string `json:"id"`
	AuthProvider string `json:"auth_provider"`
}

// SessionsRevokedData is the payload for a user.sessions_revoked event.
type SessionsRevokedData struct {
	ID string `json:"id"`
}

// Publisher sends an event envelope to a topic. *pkgkafka.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Discard is a Publisher that drops every event. It is used when Kafka is
// disabled.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, string, *pkgkafka.Event) error { return nil }

// Producer publishes auth domain events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, user.ID, UserRegisteredData{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		AuthProvider: user.AuthProvider,
		Role:         user.Role,
	})
}

// PublishUserLoggedIn publishes a user.logged_in event.
func (p *Producer) PublishUserLoggedIn(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserLoggedIn, user.ID, UserLoggedInData{
		ID:           user.ID,
		AuthProvider: user.AuthProvider,
	})
}

// PublishSessionsRevoked publishes a user.sessions_revoked event.
func (p *Producer) PublishSessionsRevoked(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicUserSessionsRevoked, userID, SessionsRevokedData{ID: userID})
}

func (p *Producer) publish(ctx context.Context, topic, userID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, userID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("user_id", userID),
	)
	return nil
}

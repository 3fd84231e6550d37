package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/pkg/database"
)

const keyPrefix = "auth:user:"

// cachedUser is the JSON shape stored in Redis. Unlike domain.User it keeps
// every field.
type cachedUser struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password_hash"`
	FederatedID  string     `json:"federated_id,omitempty"`
	AuthProvider string     `json:"auth_provider"`
	Sessions     []string   `json:"sessions"`
	Role         string     `json:"role"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CachedUserRepository decorates a repository.UserRepository with a
// read-through Redis cache for GetByID, the lookup every authenticated
// request and refresh performs. Any write to a user drops its entry.
// A cached copy may lag the store, so session membership is never decided
// from it: rotation is the conditional update in the underlying store.
// Redis failures are logged and fall through to the store.
type CachedUserRepository struct {
	repository.UserRepository

	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedUserRepository wraps next with a Redis cache holding entries for ttl.
func NewCachedUserRepository(next repository.UserRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedUserRepository {
	return &CachedUserRepository{
		UserRepository: next,
		client:         client,
		ttl:            ttl,
		logger:         logger,
	}
}

// GetByID serves from Redis when possible and populates it on a miss.
func (r *CachedUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if u, err := r.get(ctx, id); err == nil {
		return u, nil
	} else if !errors.Is(err, redis.Nil) {
		r.logger.WarnContext(ctx, "user cache read failed", slog.String("error", err.Error()))
	}

	u, err := r.UserRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.set(ctx, u); err != nil {
		r.logger.WarnContext(ctx, "user cache write failed", slog.String("error", err.Error()))
	}
	return u, nil
}

// Update writes through and invalidates.
func (r *CachedUserRepository) Update(ctx context.Context, u *domain.User) error {
	err := r.UserRepository.Update(ctx, u)
	r.invalidate(ctx, u.ID)
	return err
}

// AddSession writes through and invalidates.
func (r *CachedUserRepository) AddSession(ctx context.Context, userID, sessionID string, loginAt time.Time) error {
	err := r.UserRepository.AddSession(ctx, userID, sessionID, loginAt)
	r.invalidate(ctx, userID)
	return err
}

// RotateSession writes through and invalidates.
func (r *CachedUserRepository) RotateSession(ctx context.Context, userID, oldID, newID string) error {
	err := r.UserRepository.RotateSession(ctx, userID, oldID, newID)
	r.invalidate(ctx, userID)
	return err
}

// RemoveSession writes through and invalidates.
func (r *CachedUserRepository) RemoveSession(ctx context.Context, userID, sessionID string) error {
	err := r.UserRepository.RemoveSession(ctx, userID, sessionID)
	r.invalidate(ctx, userID)
	return err
}

// ClearSessions writes through and invalidates.
func (r *CachedUserRepository) ClearSessions(ctx context.Context, userID string) error {
	err := r.UserRepository.ClearSessions(ctx, userID)
	r.invalidate(ctx, userID)
	return err
}

func (r *CachedUserRepository) get(ctx context.Context, id string) (_ *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "GetCachedUser", "GET auth:user:*")
	defer func() {
		if errors.Is(err, redis.Nil) {
			end(nil)
			return
		}
		end(err)
	}()

	data, err := r.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		return nil, err
	}

	var cu cachedUser
	if err := json.Unmarshal(data, &cu); err != nil {
		return nil, fmt.Errorf("unmarshal cached user: %w", err)
	}
	return cu.toDomain(), nil
}

func (r *CachedUserRepository) set(ctx context.Context, u *domain.User) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemRedis, "SetCachedUser", "SET auth:user:*")
	defer func() { end(err) }()

	data, err := json.Marshal(fromDomain(u))
	if err != nil {
		return fmt.Errorf("marshal cached user: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+u.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set user: %w", err)
	}
	return nil
}

func (r *CachedUserRepository) invalidate(ctx context.Context, id string) {
	if err := r.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		r.logger.WarnContext(ctx, "user cache invalidation failed",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func fromDomain(u *domain.User) cachedUser {
	return cachedUser{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FederatedID:  u.FederatedID,
		AuthProvider: u.AuthProvider,
		Sessions:     u.Sessions.IDs(),
		Role:         u.Role,
		LastLoginAt:  u.LastLoginAt,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (c cachedUser) toDomain() *domain.User {
	return &domain.User{
		ID:           c.ID,
		Username:     c.Username,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
		FederatedID:  c.FederatedID,
		AuthProvider: c.AuthProvider,
		Sessions:     domain.NewSessionRegistry(c.Sessions...),
		Role:         c.Role,
		LastLoginAt:  c.LastLoginAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

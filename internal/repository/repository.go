package repository

import (
	"context"
	"errors"
	"time"

	"github.com/utafrali/authservice/internal/domain"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when a write would violate username or email uniqueness.
	ErrDuplicate = errors.New("user already exists")
	// ErrSessionNotFound is returned by RotateSession when the old
	// revocation identifier is no longer registered.
	ErrSessionNotFound = errors.New("session not found")
)

// UserRepository defines the persistence contract for user records and
// their embedded session registries. Every session mutation is a single
// atomic write against one user record.
type UserRepository interface {
	// Create inserts a new user, including its initial sessions. The store
	// assigns ID when it is empty.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their (lower-cased) email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// FindByEmailOrUsername returns the first user matching either value.
	FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.User, error)

	// Update writes the profile fields of an existing user. Sessions are
	// not touched.
	Update(ctx context.Context, user *domain.User) error

	// AddSession registers a revocation identifier and records the login time.
	AddSession(ctx context.Context, userID, sessionID string, loginAt time.Time) error

	// RotateSession replaces oldID with newID only if oldID is still
	// registered, returning ErrSessionNotFound otherwise.
	RotateSession(ctx context.Context, userID, oldID, newID string) error

	// RemoveSession drops one revocation identifier. Absent ids are a no-op.
	RemoveSession(ctx context.Context, userID, sessionID string) error

	// ClearSessions revokes every session of the user.
	ClearSessions(ctx context.Context, userID string) error
}

package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
)

// UserRepository is a thread-safe in-memory implementation of
// repository.UserRepository for local development and tests.
type UserRepository struct {
	mu sync.RWMutex

	byID       map[string]*domain.User
	byEmail    map[string]string
	byUsername map[string]string
}

// NewUserRepository creates an empty in-memory store.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:       make(map[string]*domain.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

// Create inserts a new user.
func (r *UserRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, ok := r.byEmail[email]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := r.byUsername[u.Username]; ok {
		return repository.ErrDuplicate
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	// store a copy; callers get copies via getters
	r.byID[u.ID] = clone(u)
	r.byEmail[email] = u.ID
	r.byUsername[u.Username] = u.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(u), nil
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

// FindByEmailOrUsername returns the user owning either the email or the username.
func (r *UserRepository) FindByEmailOrUsername(_ context.Context, email, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.byEmail[strings.ToLower(email)]; ok {
		return clone(r.byID[id]), nil
	}
	if id, ok := r.byUsername[username]; ok {
		return clone(r.byID[id]), nil
	}
	return nil, repository.ErrNotFound
}

// Update writes profile fields, keeping the stored sessions.
func (r *UserRepository) Update(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[u.ID]
	if !ok {
		return repository.ErrNotFound
	}

	email := strings.ToLower(u.Email)
	if id, taken := r.byEmail[email]; taken && id != u.ID {
		return repository.ErrDuplicate
	}
	if id, taken := r.byUsername[u.Username]; taken && id != u.ID {
		return repository.ErrDuplicate
	}

	delete(r.byEmail, strings.ToLower(cur.Email))
	delete(r.byUsername, cur.Username)

	next := clone(u)
	next.Sessions = cur.Sessions
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	u.UpdatedAt = next.UpdatedAt

	r.byID[u.ID] = next
	r.byEmail[email] = u.ID
	r.byUsername[u.Username] = u.ID
	return nil
}

// AddSession registers sessionID and stamps the login time.
func (r *UserRepository) AddSession(_ context.Context, userID, sessionID string, loginAt time.Time) error {
	return r.mutate(userID, func(u *domain.User) error {
		u.Sessions.Add(sessionID)
		at := loginAt.UTC()
		u.LastLoginAt = &at
		return nil
	})
}

// RotateSession swaps oldID for newID under the store lock.
func (r *UserRepository) RotateSession(_ context.Context, userID, oldID, newID string) error {
	return r.mutate(userID, func(u *domain.User) error {
		if !u.Sessions.Replace(oldID, newID) {
			return repository.ErrSessionNotFound
		}
		return nil
	})
}

// RemoveSession drops sessionID if present.
func (r *UserRepository) RemoveSession(_ context.Context, userID, sessionID string) error {
	return r.mutate(userID, func(u *domain.User) error {
		u.Sessions.Remove(sessionID)
		return nil
	})
}

// ClearSessions empties the user's registry.
func (r *UserRepository) ClearSessions(_ context.Context, userID string) error {
	return r.mutate(userID, func(u *domain.User) error {
		u.Sessions.Clear()
		return nil
	})
}

func (r *UserRepository) mutate(userID string, fn func(*domain.User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[userID]
	if !ok {
		return repository.ErrNotFound
	}

	next := clone(u)
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	r.byID[userID] = next
	return nil
}

func clone(u *domain.User) *domain.User {
	cp := *u
	// deep copy so callers cannot mutate stored state
	cp.Sessions = domain.NewSessionRegistry(u.Sessions.IDs()...)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/pkg/database"
)

const uniqueViolation = "23505"

// DBTX is the subset of *pgxpool.Pool the repository uses. pgxmock pools
// satisfy it too.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository implements repository.UserRepository using PostgreSQL.
// Sessions live in a text[] column so every registry mutation is a single
// UPDATE of one row.
type UserRepository struct {
	db  DBTX
	now func() time.Time
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const selectUser = `
		SELECT id::text, username, email, password_hash, COALESCE(federated_id, ''), auth_provider,
		       refresh_tokens, role, last_login_at, created_at, updated_at
		FROM users`

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "CreateUser", "INSERT INTO users")
	defer func() { end(err) }()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := r.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	query := `
		INSERT INTO users (id, username, email, password_hash, federated_id, auth_provider, refresh_tokens, role, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		u.ID,
		u.Username,
		u.Email,
		u.PasswordHash,
		nullable(u.FederatedID),
		u.AuthProvider,
		u.Sessions.IDs(),
		u.Role,
		u.LastLoginAt,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	return r.scanUser(ctx, "GetUserByID", selectUser+` WHERE id = $1`, id)
}

// GetByEmail retrieves a user by their email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, "GetUserByEmail", selectUser+` WHERE email = $1`, email)
}

// FindByEmailOrUsername returns the user owning either the email or the username.
func (r *UserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.User, error) {
	return r.scanUser(ctx, "FindUserByEmailOrUsername",
		selectUser+` WHERE email = $1 OR username = $2 LIMIT 1`, email, username)
}

// Update modifies the profile columns of an existing user.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	if _, err := uuid.Parse(u.ID); err != nil {
		return repository.ErrNotFound
	}
	u.UpdatedAt = r.now()

	query := `
		UPDATE users
		SET username = $1, email = $2, password_hash = $3, federated_id = $4,
		    auth_provider = $5, role = $6, updated_at = $7
		WHERE id = $8`

	return r.exec(ctx, "UpdateUser", repository.ErrNotFound, query,
		u.Username,
		u.Email,
		u.PasswordHash,
		nullable(u.FederatedID),
		u.AuthProvider,
		u.Role,
		u.UpdatedAt,
		u.ID,
	)
}

// AddSession appends sessionID and stamps last_login_at in one statement.
func (r *UserRepository) AddSession(ctx context.Context, userID, sessionID string, loginAt time.Time) error {
	if _, err := uuid.Parse(userID); err != nil {
		return repository.ErrNotFound
	}
	query := `
		UPDATE users
		SET refresh_tokens = array_append(refresh_tokens, $2), last_login_at = $3, updated_at = $4
		WHERE id = $1`

	return r.exec(ctx, "AddSession", repository.ErrNotFound, query, userID, sessionID, loginAt.UTC(), r.now())
}

// RotateSession swaps oldID for newID. The WHERE clause re-checks oldID
// after any concurrent writer commits, so only one rotation of a given id
// succeeds.
func (r *UserRepository) RotateSession(ctx context.Context, userID, oldID, newID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return repository.ErrSessionNotFound
	}
	query := `
		UPDATE users
		SET refresh_tokens = array_append(array_remove(refresh_tokens, $2), $3), updated_at = $4
		WHERE id = $1 AND $2 = ANY(refresh_tokens)`

	return r.exec(ctx, "RotateSession", repository.ErrSessionNotFound, query, userID, oldID, newID, r.now())
}

// RemoveSession drops sessionID from the registry.
func (r *UserRepository) RemoveSession(ctx context.Context, userID, sessionID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return repository.ErrNotFound
	}
	query := `
		UPDATE users
		SET refresh_tokens = array_remove(refresh_tokens, $2), updated_at = $3
		WHERE id = $1`

	return r.exec(ctx, "RemoveSession", repository.ErrNotFound, query, userID, sessionID, r.now())
}

// ClearSessions empties the registry.
func (r *UserRepository) ClearSessions(ctx context.Context, userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return repository.ErrNotFound
	}
	query := `UPDATE users SET refresh_tokens = '{}', updated_at = $2 WHERE id = $1`

	return r.exec(ctx, "ClearSessions", repository.ErrNotFound, query, userID, r.now())
}

// exec runs a single-row UPDATE, returning noRows when nothing matched.
func (r *UserRepository) exec(ctx context.Context, operation string, noRows error, query string, args ...any) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, operation, "UPDATE users")
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("%s: %w", operation, err)
	}
	if ct.RowsAffected() == 0 {
		return noRows
	}
	return nil
}

// scanUser executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, operation, query string, args ...any) (_ *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, operation, "SELECT FROM users")
	defer func() { end(err) }()

	var (
		u        domain.User
		sessions []string
	)
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.FederatedID,
		&u.AuthProvider,
		&sessions,
		&u.Role,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.Sessions = domain.NewSessionRegistry(sessions...)
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

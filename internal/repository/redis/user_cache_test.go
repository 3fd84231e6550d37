package redis

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/internal/repository/memory"
)

var _ repository.UserRepository = (*CachedUserRepository)(nil)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestCache(t *testing.T) (*CachedUserRepository, *memory.UserRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := memory.NewUserRepository()
	repo := NewCachedUserRepository(store, client, 5*time.Minute, newTestLogger())
	return repo, store, mr
}

func seedUser(t *testing.T, repo repository.UserRepository) *domain.User {
	t.Helper()
	u := &domain.User{
		Username:     "alice",
		Email:        "alice@x.com",
		PasswordHash: "hash",
		AuthProvider: domain.ProviderLocal,
		Role:         domain.RoleUser,
		Sessions:     domain.NewSessionRegistry("s1"),
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

// ---------------------------------------------------------------------------
// Read-through
// ---------------------------------------------------------------------------

func TestGetByID_PopulatesCache(t *testing.T) {
	repo, _, mr := setupTestCache(t)
	u := seedUser(t, repo)

	got, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	assert.True(t, mr.Exists(keyPrefix+u.ID))
	assert.Equal(t, 5*time.Minute, mr.TTL(keyPrefix+u.ID))
}

func TestGetByID_ServesFromCache(t *testing.T) {
	repo, store, _ := setupTestCache(t)
	u := seedUser(t, repo)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)

	// Bypass the decorator so the cache does not learn about the change.
	require.NoError(t, store.AddSession(ctx, u.ID, "s2", time.Now()))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Sessions.Len())
	assert.Equal(t, "hash", got.PasswordHash)
}

func TestGetByID_NotFoundIsNotCached(t *testing.T) {
	repo, _, mr := setupTestCache(t)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.False(t, mr.Exists(keyPrefix+"missing"))
}

func TestGetByID_RedisDownFallsThrough(t *testing.T) {
	repo, _, mr := setupTestCache(t)
	u := seedUser(t, repo)
	mr.Close()

	got, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestGetByID_CorruptEntryFallsThrough(t *testing.T) {
	repo, _, mr := setupTestCache(t)
	u := seedUser(t, repo)
	require.NoError(t, mr.Set(keyPrefix+u.ID, "{not json"))

	got, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

// ---------------------------------------------------------------------------
// Invalidation
// ---------------------------------------------------------------------------

func TestWrites_InvalidateEntry(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		write func(repo *CachedUserRepository, u *domain.User) error
	}{
		{"AddSession", func(r *CachedUserRepository, u *domain.User) error {
			return r.AddSession(ctx, u.ID, "s2", time.Now())
		}},
		{"RotateSession", func(r *CachedUserRepository, u *domain.User) error {
			return r.RotateSession(ctx, u.ID, "s1", "s9")
		}},
		{"RemoveSession", func(r *CachedUserRepository, u *domain.User) error {
			return r.RemoveSession(ctx, u.ID, "s1")
		}},
		{"ClearSessions", func(r *CachedUserRepository, u *domain.User) error {
			return r.ClearSessions(ctx, u.ID)
		}},
		{"Update", func(r *CachedUserRepository, u *domain.User) error {
			u.FederatedID = "google-1"
			return r.Update(ctx, u)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _, mr := setupTestCache(t)
			u := seedUser(t, repo)

			_, err := repo.GetByID(ctx, u.ID)
			require.NoError(t, err)
			require.True(t, mr.Exists(keyPrefix+u.ID))

			require.NoError(t, tt.write(repo, u))
			assert.False(t, mr.Exists(keyPrefix+u.ID))
		})
	}
}

func TestRotateSession_StaleCacheCannotResurrectSession(t *testing.T) {
	repo, store, _ := setupTestCache(t)
	u := seedUser(t, repo)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)

	// Revoke behind the cache's back, leaving a stale entry.
	require.NoError(t, store.ClearSessions(ctx, u.ID))

	cached, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, cached.Sessions.Contains("s1"))

	err = repo.RotateSession(ctx, u.ID, "s1", "s2")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestLookupsByEmailBypassCache(t *testing.T) {
	repo, _, mr := setupTestCache(t)
	u := seedUser(t, repo)

	got, err := repo.GetByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.False(t, mr.Exists(keyPrefix+u.ID))
}

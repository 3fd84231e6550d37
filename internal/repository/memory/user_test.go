package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
)

var _ repository.UserRepository = (*UserRepository)(nil)

func seedUser(t *testing.T, repo *UserRepository, sessions ...string) *domain.User {
	t.Helper()
	u := &domain.User{
		Username:     "alice",
		Email:        "alice@x.com",
		PasswordHash: "hash",
		AuthProvider: domain.ProviderLocal,
		Role:         domain.RoleUser,
		Sessions:     domain.NewSessionRegistry(sessions...),
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

// ---------------------------------------------------------------------------
// Create / lookups
// ---------------------------------------------------------------------------

func TestCreate_AssignsIDAndTimestamps(t *testing.T) {
	repo := NewUserRepository()
	u := seedUser(t, repo, "s1")

	assert.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, got.Sessions.Contains("s1"))
}

func TestCreate_Duplicates(t *testing.T) {
	repo := NewUserRepository()
	seedUser(t, repo)
	ctx := context.Background()

	err := repo.Create(ctx, &domain.User{Username: "bob", Email: "ALICE@x.com"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	err = repo.Create(ctx, &domain.User{Username: "alice", Email: "other@x.com"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestLookups(t *testing.T) {
	repo := NewUserRepository()
	u := seedUser(t, repo)
	ctx := context.Background()

	got, err := repo.GetByEmail(ctx, "Alice@X.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = repo.FindByEmailOrUsername(ctx, "nobody@x.com", "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.FindByEmailOrUsername(ctx, "nobody@x.com", "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetByID_ReturnsCopy(t *testing.T) {
	repo := NewUserRepository()
	u := seedUser(t, repo, "s1")
	ctx := context.Background()

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	got.Sessions.Clear()
	got.Username = "mallory"

	again, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)
	assert.Equal(t, 1, again.Sessions.Len())
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

func TestUpdate_KeepsSessions(t *testing.T) {
	repo := NewUserRepository()
	u := seedUser(t, repo, "s1")
	ctx := context.Background()

	u.FederatedID = "google-1"
	u.AuthProvider = domain.ProviderGoogle
	u.Sessions = domain.SessionRegistry{}
	require.NoError(t, repo.Update(ctx, u))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "google-1", got.FederatedID)
	assert.True(t, got.Sessions.Contains("s1"))
}

func TestUpdate_NotFound(t *testing.T) {
	repo := NewUserRepository()
	err := repo.Update(context.Background(), &domain.User{ID: "missing"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestAddSession_StampsLogin(t *testing.T) {
	repo := NewUserRepository()
	u := seedUser(t, repo)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.AddSession(ctx, u.ID, "s2", at))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Sessions.Contains("s2"))
	require.NotNil(t, got.LastLoginAt)
	assert.Equal(t, at, *got.LastLoginAt)

	assert.ErrorIs(t, repo.AddSession(ctx, "missing", "s", at), repository.ErrNotFound)
}

func TestRotateSession(t *testing.T) {
	repo := NewUserRepository()
	u := seedUser(t, repo, "old", "other")
	ctx := context.Background()

	require.NoError(t, repo.RotateSession(ctx, u.ID, "old", "new"))
	assert.ErrorIs(t, repo.RotateSession(ctx, u.ID, "old", "newer"), repository.ErrSessionNotFound)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"other", "new"}, got.Sessions.IDs())
}

func TestRotateSession_ConcurrentSingleWinner(t *testing.T) {
	repo := NewUserRepository()
	u := seedUser(t, repo, "old")
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.RotateSession(ctx, u.ID, "old", string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, repository.ErrSessionNotFound)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Sessions.Len())
}

func TestRemoveAndClearSessions(t *testing.T) {
	repo := NewUserRepository()
	u := seedUser(t, repo, "a", "b", "c")
	ctx := context.Background()

	require.NoError(t, repo.RemoveSession(ctx, u.ID, "b"))
	require.NoError(t, repo.RemoveSession(ctx, u.ID, "missing"))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, got.Sessions.IDs())

	require.NoError(t, repo.ClearSessions(ctx, u.ID))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Sessions.Len())
}

package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/kvstore"
	"github.com/taskmaster/tasklist/internal/ports"
)

func setupStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "tasklist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIdentityRepository_RoundTrip(t *testing.T) {
	repo := NewIdentityRepository(setupStore(t))
	ctx := context.Background()

	user, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, user, "empty slot loads as no user")

	require.NoError(t, repo.Save(ctx, &entities.User{ID: "u-1", Email: "a@b.com"}))

	user, err = repo.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, entities.User{ID: "u-1", Email: "a@b.com"}, *user)

	require.NoError(t, repo.Clear(ctx))
	user, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestIdentityRepository_CorruptSlot(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, ActiveUserKey, []byte("not json")))

	user, err := NewIdentityRepository(store).Load(ctx)
	assert.Error(t, err)
	assert.Nil(t, user)
}

func TestCredentialRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := NewCredentialRepository(ctx, setupStore(t))
	require.NoError(t, err)

	_, err = repo.GetByEmail(ctx, "a@b.com")
	assert.ErrorIs(t, err, entities.ErrUserNotFound)

	stamped := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	cred := &ports.Credential{UserID: "u-1", Email: " A@B.com ", PasswordHash: "hash", CreatedAt: stamped}
	require.NoError(t, repo.Create(ctx, cred))
	assert.True(t, stamped.Equal(cred.CreatedAt))

	err = repo.Create(ctx, &ports.Credential{UserID: "u-2", Email: "a@b.com", PasswordHash: "other"})
	assert.ErrorIs(t, err, ports.ErrCredentialExists)

	got, err := repo.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "a@b.com", got.Email)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, stamped.Equal(got.CreatedAt), "createdAt %v", got.CreatedAt)

	unstamped := &ports.Credential{UserID: "u-3", Email: "c@d.com", PasswordHash: "hash"}
	require.NoError(t, repo.Create(ctx, unstamped))
	assert.False(t, unstamped.CreatedAt.IsZero())
}

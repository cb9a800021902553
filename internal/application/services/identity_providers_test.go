package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/tasklist/internal/adapters/repository"
	"github.com/taskmaster/tasklist/internal/application/services"
	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
)

func TestPlaceholderProvider_DeterministicIDs(t *testing.T) {
	ctx := context.Background()
	p := services.NewPlaceholderProvider()

	a, err := p.Login(ctx, "a@b.com", "whatever")
	require.NoError(t, err)
	b, err := p.Login(ctx, " A@B.com", "other")
	require.NoError(t, err)
	c, err := p.Login(ctx, "c@d.com", "whatever")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestAccountProvider(t *testing.T) {
	ctx := context.Background()
	creds, err := repository.NewCredentialRepository(ctx, openKV(t))
	require.NoError(t, err)
	p := services.NewAccountProvider(creds, logger.NewNop())

	registered, err := p.Register(ctx, "new@example.com", "longenough")
	require.NoError(t, err)
	assert.NotEmpty(t, registered.ID)

	t.Run("duplicate registration is rejected", func(t *testing.T) {
		_, err := p.Register(ctx, "NEW@example.com", "longenough")
		require.Error(t, err)
		assert.True(t, entities.IsAuthError(err))
	})

	t.Run("login with correct password", func(t *testing.T) {
		user, err := p.Login(ctx, "new@example.com", "longenough")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := p.Login(ctx, "new@example.com", "wrongpassword")
		assert.True(t, entities.IsAuthError(err))
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := p.Login(ctx, "nobody@example.com", "longenough")
		assert.True(t, entities.IsAuthError(err))
	})
}

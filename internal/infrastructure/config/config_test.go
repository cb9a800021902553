package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.Equal(t, ProviderPlaceholder, cfg.Auth.Provider)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.App.IsProduction())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", BackendRedis)
	t.Setenv("REDIS_KEY_PREFIX", "custom")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "custom", cfg.Redis.KeyPrefix)
}

func TestLoad_ProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("APP_ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt secret")

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.App.IsProduction())
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "floppy")

	_, err := Load()
	assert.Error(t, err)
}

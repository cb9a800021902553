package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetDelete(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "slot", []byte("one")))
	require.NoError(t, store.Put(ctx, "slot", []byte("two")))

	value, ok, err := store.Get(ctx, "slot")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(value))

	require.NoError(t, store.Delete(ctx, "slot"))
	require.NoError(t, store.Delete(ctx, "slot"))

	_, ok, err = store.Get(ctx, "slot")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kv.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "user", []byte(`{"id":"u1"}`)))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	value, ok, err := reopened.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"u1"}`, string(value))
	assert.NoError(t, reopened.HealthCheck(ctx))
}

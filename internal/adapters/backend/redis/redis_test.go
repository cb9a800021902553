package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/tasklist/internal/adapters/backend/backendtest"
	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/config"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return s, rdb
}

func TestBackendSuite(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) ports.TaskBackend {
		_, rdb := newMiniRedis(t)
		b := New(rdb, "test", logger.NewNop())
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestBackend_StoresOneDocumentPerTask(t *testing.T) {
	ctx := context.Background()
	s, rdb := newMiniRedis(t)
	b := New(rdb, "tl", logger.NewNop())

	task := entities.Task{ID: "t1", Title: "doc", UserID: "u1", CreatedAt: time.Now().UTC()}
	require.NoError(t, b.CreateTask(ctx, task))

	raw := s.HGet("tl:tasks:u1", "t1")
	require.NotEmpty(t, raw)

	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "doc", stored["title"])
	assert.Equal(t, "u1", stored["userId"])
	assert.Equal(t, false, stored["isCompleted"])
	assert.Equal(t, []interface{}{}, stored["subTasks"])
}

func TestBackend_ExternalWriterTriggersSnapshot(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniRedis(t)
	watcher := New(rdb, "tl", logger.NewNop())
	writer := New(rdb, "tl", logger.NewNop())
	t.Cleanup(func() { watcher.Close() })

	var mu sync.Mutex
	var latest []entities.Task
	sub, err := watcher.Watch(ctx, "u1", func(tasks []entities.Task) {
		mu.Lock()
		latest = tasks
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, writer.CreateTask(ctx, entities.Task{ID: "t1", Title: "from elsewhere", UserID: "u1", CreatedAt: time.Now().UTC()}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1 && latest[0].Title == "from elsewhere"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBackend_DeleteIsAtomicWithChangeEvent(t *testing.T) {
	ctx := context.Background()
	s, rdb := newMiniRedis(t)
	watcher := New(rdb, "tl", logger.NewNop())
	writer := New(rdb, "tl", logger.NewNop())
	t.Cleanup(func() { watcher.Close() })

	require.NoError(t, writer.CreateTask(ctx, entities.Task{ID: "t1", Title: "doomed", UserID: "u1", CreatedAt: time.Now().UTC()}))

	var mu sync.Mutex
	var latest []entities.Task
	sub, err := watcher.Watch(ctx, "u1", func(tasks []entities.Task) {
		mu.Lock()
		latest = tasks
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	s.SetError("ERR injected failure")
	assert.Error(t, writer.DeleteTask(ctx, "u1", "t1"))
	s.SetError("")
	assert.NotEmpty(t, s.HGet("tl:tasks:u1", "t1"), "failed delete must leave the task stored")

	require.NoError(t, writer.DeleteTask(ctx, "u1", "t1"))
	assert.Empty(t, s.HGet("tl:tasks:u1", "t1"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return latest != nil && len(latest) == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, writer.DeleteTask(ctx, "u1", "t1"), entities.ErrTaskNotFound)
}

func TestBackend_SkipsUndecodableDocuments(t *testing.T) {
	ctx := context.Background()
	s, rdb := newMiniRedis(t)
	b := New(rdb, "tl", logger.NewNop())

	require.NoError(t, b.CreateTask(ctx, entities.Task{ID: "good", Title: "ok", UserID: "u1", CreatedAt: time.Now().UTC()}))
	s.HSet("tl:tasks:u1", "bad", "{broken")

	tasks, err := b.load(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "good", tasks[0].ID)
}

func TestBackend_UnavailableReturnsError(t *testing.T) {
	ctx := context.Background()
	s, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	b := New(rdb, "tl", logger.NewNop())
	s.Close()

	err = b.CreateTask(ctx, entities.Task{ID: "t1", Title: "x", UserID: "u1", CreatedAt: time.Now().UTC()})
	assert.Error(t, err)

	_, err = b.Watch(ctx, "u1", func([]entities.Task) {})
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	s, _ := newMiniRedis(t)

	host, port := s.Host(), s.Server().Addr().Port
	rdb, err := Connect(context.Background(), config.RedisConfig{Host: host, Port: port}, logger.NewNop())
	require.NoError(t, err)
	defer rdb.Close()

	assert.NoError(t, rdb.Ping(context.Background()).Err())
}

// Package redis implements the snapshot-push task backend on Redis. Each task
// is one JSON document in a per-user hash; every accepted write publishes a
// change event on the user's channel and watchers answer it by re-reading the
// whole partition.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

// maxTxRetries bounds optimistic transaction retries on a contended partition.
const maxTxRetries = 16

// ErrContention is returned when a write kept losing its WATCH race.
var ErrContention = errors.New("task partition is busy, write abandoned")

// Backend implements ports.TaskBackend
type Backend struct {
	rdb    *goredis.Client
	prefix string
	logger *logger.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

var _ ports.TaskBackend = (*Backend)(nil)

// New creates a backend over an existing client. The client stays owned by
// the caller.
func New(rdb *goredis.Client, prefix string, log *logger.Logger) *Backend {
	if prefix == "" {
		prefix = "tasklist"
	}
	return &Backend{
		rdb:    rdb,
		prefix: prefix,
		logger: log.WithComponent("redis_backend"),
		subs:   make(map[*subscription]struct{}),
	}
}

func (b *Backend) tasksKey(userID string) string {
	return fmt.Sprintf("%s:tasks:%s", b.prefix, userID)
}

func (b *Backend) channel(userID string) string {
	return fmt.Sprintf("%s:tasks:%s:changed", b.prefix, userID)
}

// Watch subscribes to the user's change channel, then loads the partition.
// Snapshots are delivered from a dedicated goroutine.
func (b *Backend) Watch(ctx context.Context, userID string, fn ports.SnapshotFunc) (ports.Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel(userID))
	// Wait for the subscription to be confirmed so no write between here
	// and the initial load goes unnoticed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	initial, err := b.load(ctx, userID)
	if err != nil {
		pubsub.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		backend: b,
		pubsub:  pubsub,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(runCtx, userID, initial, fn)

	return sub, nil
}

func (b *Backend) CreateTask(ctx context.Context, task entities.Task) error {
	if task.SubTasks == nil {
		task.SubTasks = entities.SubTasks{}
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, b.tasksKey(task.UserID), task.ID, data)
		pipe.Publish(ctx, b.channel(task.UserID), task.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (b *Backend) UpdateTask(ctx context.Context, userID, taskID string, patch entities.TaskPatch) error {
	return b.mutateTask(ctx, userID, taskID, func(t *entities.Task) error {
		t.ApplyPatch(patch)
		return nil
	})
}

func (b *Backend) ToggleTask(ctx context.Context, userID, taskID string) error {
	return b.mutateTask(ctx, userID, taskID, func(t *entities.Task) error {
		t.IsCompleted = !t.IsCompleted
		return nil
	})
}

func (b *Backend) DeleteTask(ctx context.Context, userID, taskID string) error {
	var removed *goredis.IntCmd
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		removed = pipe.HDel(ctx, b.tasksKey(userID), taskID)
		pipe.Publish(ctx, b.channel(userID), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if removed.Val() == 0 {
		return entities.ErrTaskNotFound
	}
	return nil
}

func (b *Backend) AddSubTask(ctx context.Context, userID, taskID string, subTask entities.SubTask) error {
	return b.mutateTask(ctx, userID, taskID, func(t *entities.Task) error {
		t.SubTasks = append(t.SubTasks, subTask)
		return nil
	})
}

func (b *Backend) DeleteSubTask(ctx context.Context, userID, taskID, subTaskID string) error {
	return b.mutateTask(ctx, userID, taskID, func(t *entities.Task) error {
		return t.RemoveSubTask(subTaskID)
	})
}

func (b *Backend) ToggleSubTask(ctx context.Context, userID, taskID, subTaskID string) error {
	return b.mutateTask(ctx, userID, taskID, func(t *entities.Task) error {
		return t.ToggleSubTask(subTaskID)
	})
}

// Close stops every open watch. The Redis client is left open.
func (b *Backend) Close() error {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

// mutateTask re-reads the task document under WATCH, applies fn and writes
// it back in MULTI together with the change event. Sub-task edits therefore
// always start from the stored sequence.
func (b *Backend) mutateTask(ctx context.Context, userID, taskID string, fn func(*entities.Task) error) error {
	key := b.tasksKey(userID)

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.HGet(ctx, key, taskID).Bytes()
		if errors.Is(err, goredis.Nil) {
			return entities.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("read task: %w", err)
		}

		var task entities.Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return fmt.Errorf("decode task %s: %w", taskID, err)
		}
		if task.SubTasks == nil {
			task.SubTasks = entities.SubTasks{}
		}

		if err := fn(&task); err != nil {
			return err
		}

		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, taskID, data)
			pipe.Publish(ctx, b.channel(userID), taskID)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := b.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}

	b.logger.Warnw("Task write abandoned after contention", "user_id", userID, "task_id", taskID)
	return ErrContention
}

// load reads every task document of the partition.
func (b *Backend) load(ctx context.Context, userID string) ([]entities.Task, error) {
	docs, err := b.rdb.HGetAll(ctx, b.tasksKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	tasks := make([]entities.Task, 0, len(docs))
	for id, raw := range docs {
		var task entities.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			b.logger.Warnw("Skipping undecodable task document", "user_id", userID, "task_id", id, "error", err)
			continue
		}
		if task.UserID != userID {
			continue
		}
		if task.SubTasks == nil {
			task.SubTasks = entities.SubTasks{}
		}
		tasks = append(tasks, task)
	}

	entities.SortByCreation(tasks)
	return tasks, nil
}

type subscription struct {
	backend *Backend
	pubsub  *goredis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) run(ctx context.Context, userID string, initial []entities.Task, fn ports.SnapshotFunc) {
	defer close(s.done)

	fn(initial)

	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-messages:
			if !ok {
				return
			}
			// Coalesce a burst of change events into one reload.
			drained := false
			for !drained {
				select {
				case _, ok := <-messages:
					if !ok {
						return
					}
				default:
					drained = true
				}
			}

			tasks, err := s.backend.load(ctx, userID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.backend.logger.Warnw("Snapshot reload failed", "user_id", userID, "error", err)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fn(tasks)
		}
	}
}

// Close stops delivery and waits for the delivery goroutine to exit.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
		<-s.done

		s.backend.mu.Lock()
		delete(s.backend.subs, s)
		s.backend.mu.Unlock()
	})
	return err
}

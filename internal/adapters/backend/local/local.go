// Package local implements the read-modify-write task backend: one explicit
// in-memory copy of every user's tasks, persisted as a single document in the
// local key-value store after each mutation.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/kvstore"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

// TasksKey is the kv slot holding all users' tasks.
const TasksKey = "tasks"

// Slot is the durable storage the backend writes through to.
type Slot interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

var _ Slot = (*kvstore.Store)(nil)

// Backend implements ports.TaskBackend
type Backend struct {
	slot   Slot
	logger *logger.Logger

	mu       sync.Mutex
	tasks    []entities.Task
	watchers map[string]map[int]ports.SnapshotFunc
	nextID   int
}

var _ ports.TaskBackend = (*Backend)(nil)

// New loads the stored task document and returns a backend over it.
func New(ctx context.Context, slot Slot, log *logger.Logger) (*Backend, error) {
	b := &Backend{
		slot:     slot,
		logger:   log.WithComponent("local_backend"),
		watchers: make(map[string]map[int]ports.SnapshotFunc),
	}

	raw, ok, err := slot.Get(ctx, TasksKey)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	if ok {
		if err := json.Unmarshal(raw, &b.tasks); err != nil {
			return nil, fmt.Errorf("decode tasks: %w", err)
		}
	}
	for i := range b.tasks {
		if b.tasks[i].SubTasks == nil {
			b.tasks[i].SubTasks = entities.SubTasks{}
		}
	}

	return b, nil
}

type subscription struct {
	once    sync.Once
	backend *Backend
	userID  string
	id      int
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.backend.mu.Lock()
		defer s.backend.mu.Unlock()
		delete(s.backend.watchers[s.userID], s.id)
		if len(s.backend.watchers[s.userID]) == 0 {
			delete(s.backend.watchers, s.userID)
		}
	})
	return nil
}

// Watch registers fn and delivers the current partition before returning.
func (b *Backend) Watch(ctx context.Context, userID string, fn ports.SnapshotFunc) (ports.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.watchers[userID] == nil {
		b.watchers[userID] = make(map[int]ports.SnapshotFunc)
	}
	b.watchers[userID][id] = fn

	fn(b.partitionLocked(userID))

	return &subscription{backend: b, userID: userID, id: id}, nil
}

func (b *Backend) CreateTask(ctx context.Context, task entities.Task) error {
	return b.mutate(ctx, task.UserID, func(partition []entities.Task) ([]entities.Task, error) {
		task = task.Clone()
		if task.SubTasks == nil {
			task.SubTasks = entities.SubTasks{}
		}
		return append(partition, task), nil
	})
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
	return b.mutate(ctx, userID, func(partition []entities.Task) ([]entities.Task, error) {
		i := indexOf(partition, taskID)
		if i < 0 {
			return nil, entities.ErrTaskNotFound
		}
		return append(partition[:i], partition[i+1:]...), nil
	})
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

// Close drops all watchers. The slot is owned by the caller.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers = make(map[string]map[int]ports.SnapshotFunc)
	return nil
}

func (b *Backend) mutateTask(ctx context.Context, userID, taskID string, fn func(*entities.Task) error) error {
	return b.mutate(ctx, userID, func(partition []entities.Task) ([]entities.Task, error) {
		i := indexOf(partition, taskID)
		if i < 0 {
			return nil, entities.ErrTaskNotFound
		}
		if err := fn(&partition[i]); err != nil {
			return nil, err
		}
		return partition, nil
	})
}

// mutate computes the user's next partition from a copy of the current one,
// writes every partition back to the slot and only then adopts the result
// and pushes it to watchers. A failed write leaves memory untouched.
func (b *Backend) mutate(ctx context.Context, userID string, fn func([]entities.Task) ([]entities.Task, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := fn(b.partitionLocked(userID))
	if err != nil {
		return err
	}

	all := make([]entities.Task, 0, len(b.tasks)+1)
	for _, t := range b.tasks {
		if t.UserID != userID {
			all = append(all, t)
		}
	}
	all = append(all, next...)

	raw, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	if err := b.slot.Put(ctx, TasksKey, raw); err != nil {
		b.logger.Warnw("Task write failed", "user_id", userID, "error", err)
		return fmt.Errorf("save tasks: %w", err)
	}

	b.tasks = all
	b.notifyLocked(userID)
	return nil
}

// partitionLocked returns a deep copy of the user's tasks in stored order.
func (b *Backend) partitionLocked(userID string) []entities.Task {
	out := make([]entities.Task, 0)
	for _, t := range b.tasks {
		if t.UserID == userID {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (b *Backend) notifyLocked(userID string) {
	for _, fn := range b.watchers[userID] {
		fn(b.partitionLocked(userID))
	}
}

func indexOf(tasks []entities.Task, taskID string) int {
	for i := range tasks {
		if tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}

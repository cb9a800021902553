// Package postgres implements the snapshot-push task backend on PostgreSQL.
// A row trigger NOTIFYs the owning user id on every change; watchers LISTEN
// and answer each notification by re-reading the user's rows.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/database"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

// NotifyChannel is the channel the tasks trigger notifies on.
const NotifyChannel = "tasks_changed"

// Backend implements ports.TaskBackend
type Backend struct {
	db     *database.DB
	logger *logger.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

var _ ports.TaskBackend = (*Backend)(nil)

// New creates a backend over a migrated database. The pool stays owned by
// the caller.
func New(db *database.DB, log *logger.Logger) *Backend {
	return &Backend{
		db:     db,
		logger: log.WithComponent("postgres_backend"),
		subs:   make(map[*subscription]struct{}),
	}
}

// Watch starts listening before the initial load so no change is missed.
func (b *Backend) Watch(ctx context.Context, userID string, fn ports.SnapshotFunc) (ports.Subscription, error) {
	listener := pq.NewListener(b.db.DSN(), time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.logger.Warnw("Listener event", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	initial, err := b.load(ctx, userID)
	if err != nil {
		listener.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		backend:  b,
		listener: listener,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(runCtx, userID, initial, fn)

	return sub, nil
}

func (b *Backend) CreateTask(ctx context.Context, task entities.Task) error {
	query := `
		INSERT INTO tasks (id, user_id, title, description, is_completed, created_at, sub_tasks)
		VALUES (:id, :user_id, :title, :description, :is_completed, :created_at, :sub_tasks)`

	if task.SubTasks == nil {
		task.SubTasks = entities.SubTasks{}
	}
	if _, err := b.db.DB.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (b *Backend) UpdateTask(ctx context.Context, userID, taskID string, patch entities.TaskPatch) error {
	query := `
		UPDATE tasks
		SET title = $3, description = $4
		WHERE id = $1 AND user_id = $2`

	return b.execOne(ctx, "update task", query, taskID, userID, patch.Title, patch.Description)
}

func (b *Backend) ToggleTask(ctx context.Context, userID, taskID string) error {
	query := `
		UPDATE tasks
		SET is_completed = NOT is_completed
		WHERE id = $1 AND user_id = $2`

	return b.execOne(ctx, "toggle task", query, taskID, userID)
}

func (b *Backend) DeleteTask(ctx context.Context, userID, taskID string) error {
	query := `DELETE FROM tasks WHERE id = $1 AND user_id = $2`

	return b.execOne(ctx, "delete task", query, taskID, userID)
}

func (b *Backend) AddSubTask(ctx context.Context, userID, taskID string, subTask entities.SubTask) error {
	return b.mutateSubTasks(ctx, userID, taskID, func(t *entities.Task) error {
		t.SubTasks = append(t.SubTasks, subTask)
		return nil
	})
}

func (b *Backend) DeleteSubTask(ctx context.Context, userID, taskID, subTaskID string) error {
	return b.mutateSubTasks(ctx, userID, taskID, func(t *entities.Task) error {
		return t.RemoveSubTask(subTaskID)
	})
}

func (b *Backend) ToggleSubTask(ctx context.Context, userID, taskID, subTaskID string) error {
	return b.mutateSubTasks(ctx, userID, taskID, func(t *entities.Task) error {
		return t.ToggleSubTask(subTaskID)
	})
}

// Close stops every open watch. The pool is left open.
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

func (b *Backend) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := b.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return entities.ErrTaskNotFound
	}
	return nil
}

// mutateSubTasks locks the parent row, edits the stored sequence and writes
// it back in the same transaction.
func (b *Backend) mutateSubTasks(ctx context.Context, userID, taskID string, fn func(*entities.Task) error) error {
	return b.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var task entities.Task
		err := tx.GetContext(ctx, &task, `
			SELECT id, user_id, title, description, is_completed, created_at, sub_tasks
			FROM tasks
			WHERE id = $1 AND user_id = $2
			FOR UPDATE`, taskID, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return entities.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("lock task: %w", err)
		}

		if err := fn(&task); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET sub_tasks = $3 WHERE id = $1 AND user_id = $2`,
			taskID, userID, task.SubTasks,
		); err != nil {
			return fmt.Errorf("update sub-tasks: %w", err)
		}
		return nil
	})
}

func (b *Backend) load(ctx context.Context, userID string) ([]entities.Task, error) {
	query := `
		SELECT id, user_id, title, description, is_completed, created_at, sub_tasks
		FROM tasks
		WHERE user_id = $1
		ORDER BY created_at, id`

	tasks := make([]entities.Task, 0)
	if err := b.db.DB.SelectContext(ctx, &tasks, query, userID); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	return tasks, nil
}

type subscription struct {
	backend  *Backend
	listener *pq.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func (s *subscription) run(ctx context.Context, userID string, initial []entities.Task, fn ports.SnapshotFunc) {
	defer close(s.done)

	fn(initial)

	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := s.listener.Ping(); err != nil {
				s.backend.logger.Warnw("Listener ping failed", "error", err)
			}
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; changes may have been
			// missed, so reload regardless.
			if n != nil && n.Extra != userID {
				continue
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
		<-s.done
		err = s.listener.Close()

		s.backend.mu.Lock()
		delete(s.backend.subs, s)
		s.backend.mu.Unlock()
	})
	return err
}

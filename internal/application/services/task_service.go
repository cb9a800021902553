package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/infrastructure/metrics"
	"github.com/taskmaster/tasklist/internal/ports"
)

// ActiveSession is what the task store needs from the session manager.
type ActiveSession interface {
	CurrentUser() *entities.User
	OnChange(fn func(*entities.User))
}

var _ ActiveSession = (*SessionManager)(nil)

// TaskSnapshot is the view published to live observers.
type TaskSnapshot struct {
	UserID    string
	Tasks     []entities.Task
	IsLoading bool
}

// TaskStore owns the in-memory view of the active user's tasks. Every
// mutation is written to the backend; the view only ever changes when the
// backend delivers a snapshot.
type TaskStore struct {
	backend     ports.TaskBackend
	backendName string
	notifier    ports.Notifier
	metrics     *metrics.Metrics
	logger      *logger.Logger
	now         func() time.Time
	newID       func() string

	mu         sync.RWMutex
	userID     string
	tasks      []entities.Task
	loading    bool
	generation uint64
	sub        ports.Subscription

	watchMu  sync.Mutex
	watchers map[chan TaskSnapshot]struct{}
}

// NewTaskStore creates a task store bound to session. It starts watching the
// current user's partition immediately and follows every later user switch.
func NewTaskStore(backend ports.TaskBackend, backendName string, session ActiveSession, notifier ports.Notifier, m *metrics.Metrics, log *logger.Logger) *TaskStore {
	s := &TaskStore{
		backend:     backend,
		backendName: backendName,
		notifier:    notifier,
		metrics:     m,
		logger:      log.WithComponent("task_store"),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		watchers:    make(map[chan TaskSnapshot]struct{}),
	}

	session.OnChange(func(user *entities.User) {
		if err := s.switchUser(context.Background(), user); err != nil {
			s.logger.Warnw("Task watch could not be started", "error", err)
		}
	})
	if err := s.switchUser(context.Background(), session.CurrentUser()); err != nil {
		s.logger.Warnw("Task watch could not be started", "error", err)
	}

	return s
}

// Tasks returns a copy of the current view in read-model order. It is empty
// when no user is active.
func (s *TaskStore) Tasks() []entities.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTasks(s.tasks)
}

// IsLoading reports whether the first snapshot for the active user is still
// outstanding.
func (s *TaskStore) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Snapshot returns the current view together with its owner.
func (s *TaskStore) Snapshot() TaskSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel carrying the latest view. The current view is
// sent immediately; slow readers only ever see the newest value. The channel
// is closed when ctx is done.
func (s *TaskStore) Subscribe(ctx context.Context) <-chan TaskSnapshot {
	ch := make(chan TaskSnapshot, 1)

	s.mu.RLock()
	s.watchMu.Lock()
	ch <- s.snapshotLocked()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()
	s.mu.RUnlock()

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.watchMu.Unlock()
	}()

	return ch
}

// Close stops watching the backend.
func (s *TaskStore) Close() error {
	s.mu.Lock()
	s.generation++
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

// AddTask creates a task for the active user. A blank title is a no-op.
func (s *TaskStore) AddTask(ctx context.Context, title, description string) error {
	userID, err := s.activeUserID()
	if err != nil {
		return err
	}
	if entities.IsBlank(title) {
		s.metrics.ObserveMutation("add_task", "skipped")
		return nil
	}

	task := entities.Task{
		ID:          s.newID(),
		Title:       title,
		Description: description,
		IsCompleted: false,
		UserID:      userID,
		// Postgres stores microseconds.
		CreatedAt:   s.now().UTC().Truncate(time.Microsecond),
		SubTasks:    entities.SubTasks{},
	}

	err = s.backend.CreateTask(ctx, task)
	return s.complete(ctx, "add_task", userID, err, entities.NoticeSuccess, "Task added successfully!")
}

// DeleteTask removes a task and its sub-tasks. A missing task is a no-op.
func (s *TaskStore) DeleteTask(ctx context.Context, taskID string) error {
	userID, err := s.activeUserID()
	if err != nil {
		return err
	}

	err = s.backend.DeleteTask(ctx, userID, taskID)
	return s.complete(ctx, "delete_task", userID, err, entities.NoticeInfo, "Task deleted")
}

// ToggleTaskCompletion flips the completion flag of a task.
func (s *TaskStore) ToggleTaskCompletion(ctx context.Context, taskID string) error {
	userID, err := s.activeUserID()
	if err != nil {
		return err
	}

	err = s.backend.ToggleTask(ctx, userID, taskID)
	return s.complete(ctx, "toggle_task", userID, err, "", "")
}

// UpdateTask replaces the title and description of a task. A blank title is
// a no-op, as in AddTask.
func (s *TaskStore) UpdateTask(ctx context.Context, taskID, title, description string) error {
	userID, err := s.activeUserID()
	if err != nil {
		return err
	}
	if entities.IsBlank(title) {
		s.metrics.ObserveMutation("update_task", "skipped")
		return nil
	}

	err = s.backend.UpdateTask(ctx, userID, taskID, entities.TaskPatch{Title: title, Description: description})
	return s.complete(ctx, "update_task", userID, err, entities.NoticeSuccess, "Task updated successfully!")
}

// AddSubTask appends a sub-task to a task. Blank time or details is a no-op.
func (s *TaskStore) AddSubTask(ctx context.Context, taskID, timeLabel, details string) error {
	userID, err := s.activeUserID()
	if err != nil {
		return err
	}
	if entities.IsBlank(timeLabel) || entities.IsBlank(details) {
		s.metrics.ObserveMutation("add_subtask", "skipped")
		return nil
	}

	subTask := entities.SubTask{
		ID:          s.newID(),
		Time:        timeLabel,
		Details:     details,
		IsCompleted: false,
	}

	err = s.backend.AddSubTask(ctx, userID, taskID, subTask)
	return s.complete(ctx, "add_subtask", userID, err, entities.NoticeSuccess, "Sub-task added successfully!")
}

// DeleteSubTask removes one sub-task from a task.
func (s *TaskStore) DeleteSubTask(ctx context.Context, taskID, subTaskID string) error {
	userID, err := s.activeUserID()
	if err != nil {
		return err
	}

	err = s.backend.DeleteSubTask(ctx, userID, taskID, subTaskID)
	return s.complete(ctx, "delete_subtask", userID, err, entities.NoticeInfo, "Sub-task deleted")
}

// ToggleSubTaskCompletion flips the completion flag of one sub-task.
func (s *TaskStore) ToggleSubTaskCompletion(ctx context.Context, taskID, subTaskID string) error {
	userID, err := s.activeUserID()
	if err != nil {
		return err
	}

	err = s.backend.ToggleSubTask(ctx, userID, taskID, subTaskID)
	return s.complete(ctx, "toggle_subtask", userID, err, "", "")
}

func (s *TaskStore) activeUserID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return "", entities.ErrNoActiveUser
	}
	return s.userID, nil
}

// complete turns a backend result into the store's result. Missing tasks and
// sub-tasks are silent no-ops.
func (s *TaskStore) complete(ctx context.Context, op, userID string, err error, level entities.NoticeLevel, message string) error {
	switch {
	case err == nil:
		s.metrics.ObserveMutation(op, "success")
		s.logger.LogUserAction(userID, op, nil)
		if message != "" {
			s.notify(ctx, level, message)
		}
		return nil
	case entities.IsNotFound(err):
		s.metrics.ObserveMutation(op, "not_found")
		s.logger.Debugw("Mutation target not found", "operation", op, "user_id", userID)
		return nil
	default:
		s.metrics.ObserveMutation(op, "failed")
		s.logger.Errorw("Task write failed", "operation", op, "user_id", userID, "error", err)
		s.notify(ctx, entities.NoticeError, "Could not save your changes. Please try again.")
		return entities.NewPersistenceError(op, err)
	}
}

// switchUser drops the current view and watch and, for a non-nil user,
// starts watching that user's partition. The store lock is never held while
// calling the backend: the local backend delivers snapshots synchronously
// and remote subscriptions wait for their delivery goroutine on Close.
func (s *TaskStore) switchUser(ctx context.Context, user *entities.User) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	old := s.sub
	s.sub = nil
	s.tasks = nil
	s.userID = ""
	s.loading = false
	if user != nil {
		s.userID = user.ID
		s.loading = true
	}
	s.publishLocked()
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warnw("Closing task watch failed", "error", err)
		}
	}
	if user == nil {
		return nil
	}

	sub, err := s.backend.Watch(ctx, user.ID, func(tasks []entities.Task) {
		s.applySnapshot(gen, tasks)
	})
	if err != nil {
		s.mu.Lock()
		current := s.generation == gen
		if current {
			s.loading = false
		}
		if current {
			s.publishLocked()
		}
		s.mu.Unlock()

		if current {
			s.notify(ctx, entities.NoticeError, "Could not load your tasks.")
		}
		return entities.NewPersistenceError("watch tasks", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	return nil
}

// applySnapshot replaces the view unless the snapshot belongs to a watch
// that has since been replaced.
func (s *TaskStore) applySnapshot(gen uint64, tasks []entities.Task) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.tasks = cloneTasks(tasks)
	s.loading = false
	s.publishLocked()
	s.mu.Unlock()

	s.metrics.ObserveSnapshot(s.backendName)
}

func (s *TaskStore) snapshotLocked() TaskSnapshot {
	return TaskSnapshot{
		UserID:    s.userID,
		Tasks:     cloneTasks(s.tasks),
		IsLoading: s.loading,
	}
}

// publishLocked pushes the view to every observer, replacing any value
// they have not read yet. Callers hold s.mu so observers see views in order.
func (s *TaskStore) publishLocked() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.snapshotLocked()
	}
}

func (s *TaskStore) notify(ctx context.Context, level entities.NoticeLevel, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, entities.Notice{Level: level, Message: message})
}

func cloneTasks(tasks []entities.Task) []entities.Task {
	out := make([]entities.Task, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Clone()
	}
	return out
}

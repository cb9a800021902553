// Package backendtest holds the behaviour suite every task backend must pass.
// Each backend's tests call Run with a factory returning a fresh, empty
// backend.
package backendtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/tasklist/internal/application/services"
	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// Factory returns an empty backend. It registers its own cleanup.
type Factory func(t *testing.T) ports.TaskBackend

// Session is a minimal switchable session for driving a TaskStore.
type Session struct {
	mu        sync.Mutex
	user      *entities.User
	listeners []func(*entities.User)
}

func (s *Session) CurrentUser() *entities.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) OnChange(fn func(*entities.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Switch makes user active (nil logs out) and informs listeners.
func (s *Session) Switch(user *entities.User) {
	s.mu.Lock()
	s.user = user
	listeners := append([]func(*entities.User){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(user)
	}
}

// NewStore wires a TaskStore over backend with user already active and
// waits for the first snapshot.
func NewStore(t *testing.T, backend ports.TaskBackend, user *entities.User) (*services.TaskStore, *Session) {
	t.Helper()

	session := &Session{user: user}
	store := services.NewTaskStore(backend, "test", session, nil, nil, logger.NewNop())
	t.Cleanup(func() { store.Close() })

	if user != nil {
		require.Eventually(t, func() bool { return !store.IsLoading() }, waitFor, tick)
	}
	return store, session
}

// WaitTasks waits until the store's view satisfies cond and returns it.
func WaitTasks(t *testing.T, store *services.TaskStore, cond func([]entities.Task) bool) []entities.Task {
	t.Helper()

	var tasks []entities.Task
	require.Eventually(t, func() bool {
		tasks = store.Tasks()
		return cond(tasks)
	}, waitFor, tick)
	return tasks
}

// HasTitle reports whether a task with title is in tasks.
func HasTitle(title string) func([]entities.Task) bool {
	return func(tasks []entities.Task) bool {
		return Find(tasks, title) != nil
	}
}

// Find returns the task with the given title, or nil.
func Find(tasks []entities.Task, title string) *entities.Task {
	for i := range tasks {
		if tasks[i].Title == title {
			return &tasks[i]
		}
	}
	return nil
}

func user(id string) *entities.User {
	return &entities.User{ID: id, Email: id + "@example.com"}
}

// Run executes the full suite.
func Run(t *testing.T, newBackend Factory) {
	t.Run("AddTaskCreatesOneTask", func(t *testing.T) { testAddTask(t, newBackend) })
	t.Run("BlankTitleIsNoop", func(t *testing.T) { testBlankTitle(t, newBackend) })
	t.Run("DeleteTaskIsIdempotent", func(t *testing.T) { testDeleteIdempotent(t, newBackend) })
	t.Run("ToggleTaskIsInvolution", func(t *testing.T) { testToggleInvolution(t, newBackend) })
	t.Run("UpdateTask", func(t *testing.T) { testUpdateTask(t, newBackend) })
	t.Run("SubTasks", func(t *testing.T) { testSubTasks(t, newBackend) })
	t.Run("DeleteTaskCascadesSubTasks", func(t *testing.T) { testDeleteCascade(t, newBackend) })
	t.Run("LogoutClearsView", func(t *testing.T) { testLogout(t, newBackend) })
	t.Run("CrossUserIsolation", func(t *testing.T) { testIsolation(t, newBackend) })
	t.Run("MissingIDsReportNotFound", func(t *testing.T) { testBackendNotFound(t, newBackend) })
	t.Run("ConcurrentSubTaskAddsAreKept", func(t *testing.T) { testConcurrentSubTasks(t, newBackend) })
	t.Run("FieldsPreservedVerbatim", func(t *testing.T) { testFieldsPreserved(t, newBackend) })
}

func testAddTask(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	u := user("user-add")
	store, _ := NewStore(t, newBackend(t), u)

	before := time.Now().Add(-time.Second)
	require.NoError(t, store.AddTask(ctx, "Write report", "quarterly numbers"))

	tasks := WaitTasks(t, store, HasTitle("Write report"))
	require.Len(t, tasks, 1)

	task := tasks[0]
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "quarterly numbers", task.Description)
	assert.False(t, task.IsCompleted)
	assert.Empty(t, task.SubTasks)
	assert.Equal(t, u.ID, task.UserID)
	assert.True(t, task.CreatedAt.After(before))
}

func testBlankTitle(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	store, _ := NewStore(t, newBackend(t), user("user-blank"))

	require.NoError(t, store.AddTask(ctx, "", "x"))
	require.NoError(t, store.AddTask(ctx, "   ", "x"))
	// Snapshots arrive in write order, so once the marker is visible any
	// blank write would be too.
	require.NoError(t, store.AddTask(ctx, "marker", ""))

	tasks := WaitTasks(t, store, HasTitle("marker"))
	assert.Len(t, tasks, 1)
}

func testDeleteIdempotent(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	store, _ := NewStore(t, newBackend(t), user("user-delete"))

	require.NoError(t, store.AddTask(ctx, "keep", ""))
	require.NoError(t, store.AddTask(ctx, "drop", ""))
	tasks := WaitTasks(t, store, func(ts []entities.Task) bool { return len(ts) == 2 })
	drop := Find(tasks, "drop")
	require.NotNil(t, drop)

	require.NoError(t, store.DeleteTask(ctx, drop.ID))
	tasks = WaitTasks(t, store, func(ts []entities.Task) bool { return len(ts) == 1 })

	require.NoError(t, store.DeleteTask(ctx, drop.ID))
	require.NoError(t, store.DeleteTask(ctx, "never-existed"))
	require.NoError(t, store.AddTask(ctx, "marker", ""))

	tasks = WaitTasks(t, store, HasTitle("marker"))
	assert.Len(t, tasks, 2)
	assert.NotNil(t, Find(tasks, "keep"))
	assert.Nil(t, Find(tasks, "drop"))
}

func testToggleInvolution(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	store, _ := NewStore(t, newBackend(t), user("user-toggle"))

	require.NoError(t, store.AddTask(ctx, "flip", ""))
	id := Find(WaitTasks(t, store, HasTitle("flip")), "flip").ID

	require.NoError(t, store.ToggleTaskCompletion(ctx, id))
	WaitTasks(t, store, func(ts []entities.Task) bool {
		task := Find(ts, "flip")
		return task != nil && task.IsCompleted
	})

	require.NoError(t, store.ToggleTaskCompletion(ctx, id))
	WaitTasks(t, store, func(ts []entities.Task) bool {
		task := Find(ts, "flip")
		return task != nil && !task.IsCompleted
	})

	require.NoError(t, store.ToggleTaskCompletion(ctx, "never-existed"))
}

func testUpdateTask(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	store, _ := NewStore(t, newBackend(t), user("user-update"))

	require.NoError(t, store.AddTask(ctx, "draft", "old"))
	id := Find(WaitTasks(t, store, HasTitle("draft")), "draft").ID

	require.NoError(t, store.UpdateTask(ctx, id, "final", "new"))
	tasks := WaitTasks(t, store, HasTitle("final"))
	assert.Equal(t, "new", Find(tasks, "final").Description)

	require.NoError(t, store.UpdateTask(ctx, id, "  ", "ignored"))
	require.NoError(t, store.UpdateTask(ctx, "never-existed", "ghost", ""))
	require.NoError(t, store.AddTask(ctx, "marker", ""))

	tasks = WaitTasks(t, store, HasTitle("marker"))
	require.Len(t, tasks, 2)
	assert.Equal(t, "new", Find(tasks, "final").Description)
	assert.Nil(t, Find(tasks, "ghost"))
}

func testSubTasks(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	store, _ := NewStore(t, newBackend(t), user("user-subtasks"))

	require.NoError(t, store.AddTask(ctx, "study", ""))
	id := Find(WaitTasks(t, store, HasTitle("study")), "study").ID

	require.NoError(t, store.AddSubTask(ctx, id, "9am-10am", "Homework"))
	tasks := WaitTasks(t, store, func(ts []entities.Task) bool {
		task := Find(ts, "study")
		return task != nil && len(task.SubTasks) == 1
	})
	sub := Find(tasks, "study").SubTasks[0]
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "9am-10am", sub.Time)
	assert.Equal(t, "Homework", sub.Details)
	assert.False(t, sub.IsCompleted)

	require.NoError(t, store.AddSubTask(ctx, id, "", ""))
	require.NoError(t, store.AddSubTask(ctx, id, "10am", " "))
	require.NoError(t, store.AddSubTask(ctx, "never-existed", "10am", "Reading"))
	require.NoError(t, store.AddSubTask(ctx, id, "11am", "Reading"))
	tasks = WaitTasks(t, store, func(ts []entities.Task) bool {
		task := Find(ts, "study")
		return task != nil && len(task.SubTasks) >= 2
	})
	subs := Find(tasks, "study").SubTasks
	require.Len(t, subs, 2)
	assert.Equal(t, "Homework", subs[0].Details)
	assert.Equal(t, "Reading", subs[1].Details)

	require.NoError(t, store.ToggleSubTaskCompletion(ctx, id, sub.ID))
	WaitTasks(t, store, func(ts []entities.Task) bool {
		task := Find(ts, "study")
		return task != nil && task.SubTasks[0].IsCompleted
	})
	require.NoError(t, store.ToggleSubTaskCompletion(ctx, id, "never-existed"))

	require.NoError(t, store.DeleteSubTask(ctx, id, sub.ID))
	tasks = WaitTasks(t, store, func(ts []entities.Task) bool {
		task := Find(ts, "study")
		return task != nil && len(task.SubTasks) == 1
	})
	assert.Equal(t, "Reading", Find(tasks, "study").SubTasks[0].Details)

	require.NoError(t, store.DeleteSubTask(ctx, id, sub.ID))
	require.NoError(t, store.DeleteSubTask(ctx, "never-existed", sub.ID))
}

func testDeleteCascade(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	store, _ := NewStore(t, newBackend(t), user("user-cascade"))

	require.NoError(t, store.AddTask(ctx, "parent", ""))
	id := Find(WaitTasks(t, store, HasTitle("parent")), "parent").ID
	require.NoError(t, store.AddSubTask(ctx, id, "noon", "Lunch"))
	WaitTasks(t, store, func(ts []entities.Task) bool {
		task := Find(ts, "parent")
		return task != nil && len(task.SubTasks) == 1
	})

	require.NoError(t, store.DeleteTask(ctx, id))
	WaitTasks(t, store, func(ts []entities.Task) bool { return len(ts) == 0 })

	require.NoError(t, store.ToggleSubTaskCompletion(ctx, id, "any"))
}

func testLogout(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	store, session := NewStore(t, newBackend(t), user("user-logout"))

	require.NoError(t, store.AddTask(ctx, "cached", ""))
	WaitTasks(t, store, HasTitle("cached"))

	session.Switch(nil)

	assert.Empty(t, store.Tasks())
	assert.False(t, store.IsLoading())
	assert.ErrorIs(t, store.AddTask(ctx, "orphan", ""), entities.ErrNoActiveUser)
	assert.ErrorIs(t, store.DeleteTask(ctx, "any"), entities.ErrNoActiveUser)
	assert.Empty(t, store.Tasks())
}

func testIsolation(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	x, y := user("user-x"), user("user-y")
	store, session := NewStore(t, newBackend(t), x)

	require.NoError(t, store.AddTask(ctx, "x's task", ""))
	xID := Find(WaitTasks(t, store, HasTitle("x's task")), "x's task").ID

	session.Switch(y)
	require.Eventually(t, func() bool { return !store.IsLoading() }, waitFor, tick)
	assert.Empty(t, store.Tasks())

	require.NoError(t, store.AddTask(ctx, "y's task", ""))
	tasks := WaitTasks(t, store, HasTitle("y's task"))
	require.Len(t, tasks, 1)
	assert.Equal(t, y.ID, tasks[0].UserID)

	// y cannot reach x's task through its id.
	require.NoError(t, store.DeleteTask(ctx, xID))
	require.NoError(t, store.ToggleTaskCompletion(ctx, xID))

	session.Switch(x)
	tasks = WaitTasks(t, store, HasTitle("x's task"))
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].IsCompleted)
	assert.Equal(t, x.ID, tasks[0].UserID)
}

func testBackendNotFound(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	backend := newBackend(t)

	task := entities.Task{
		ID:        "task-1",
		Title:     "exists",
		UserID:    "owner",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		SubTasks:  entities.SubTasks{},
	}
	require.NoError(t, backend.CreateTask(ctx, task))

	assert.ErrorIs(t, backend.ToggleTask(ctx, "owner", "missing"), entities.ErrTaskNotFound)
	assert.ErrorIs(t, backend.DeleteTask(ctx, "owner", "missing"), entities.ErrTaskNotFound)
	assert.ErrorIs(t, backend.UpdateTask(ctx, "owner", "missing", entities.TaskPatch{Title: "t"}), entities.ErrTaskNotFound)
	assert.ErrorIs(t, backend.AddSubTask(ctx, "owner", "missing", entities.SubTask{ID: "s"}), entities.ErrTaskNotFound)
	assert.ErrorIs(t, backend.ToggleSubTask(ctx, "owner", "task-1", "missing"), entities.ErrSubTaskNotFound)
	assert.ErrorIs(t, backend.DeleteSubTask(ctx, "owner", "task-1", "missing"), entities.ErrSubTaskNotFound)

	// Another user addressing the same id sees nothing.
	assert.ErrorIs(t, backend.ToggleTask(ctx, "intruder", "task-1"), entities.ErrTaskNotFound)
	assert.ErrorIs(t, backend.DeleteTask(ctx, "intruder", "task-1"), entities.ErrTaskNotFound)
}

func testConcurrentSubTasks(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	backend := newBackend(t)

	require.NoError(t, backend.CreateTask(ctx, entities.Task{
		ID:        "parent",
		Title:     "busy",
		UserID:    "owner",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		SubTasks:  entities.SubTasks{},
	}))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- backend.AddSubTask(ctx, "owner", "parent", entities.SubTask{
				ID:      fmt.Sprintf("sub-%d", i),
				Time:    "now",
				Details: fmt.Sprintf("item %d", i),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var latest []entities.Task
	var mu sync.Mutex
	sub, err := backend.Watch(ctx, "owner", func(tasks []entities.Task) {
		mu.Lock()
		latest = tasks
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1 && len(latest[0].SubTasks) == writers
	}, waitFor, tick)
}

func testFieldsPreserved(t *testing.T, newBackend Factory) {
	ctx := context.Background()
	backend := newBackend(t)

	want := entities.Task{
		ID:          "verbatim",
		Title:       "  spaced title ",
		Description: "line one\nline two",
		IsCompleted: true,
		UserID:      "owner",
		// TaskStore stamps microsecond precision, the finest Postgres stores.
		CreatedAt:   time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC),
		SubTasks: entities.SubTasks{
			{ID: "a", Time: "9am", Details: "first", IsCompleted: true},
			{ID: "b", Time: "10am", Details: "second"},
		},
	}
	require.NoError(t, backend.CreateTask(ctx, want))

	var latest []entities.Task
	var mu sync.Mutex
	sub, err := backend.Watch(ctx, "owner", func(tasks []entities.Task) {
		mu.Lock()
		latest = tasks
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1
	}, waitFor, tick)

	mu.Lock()
	got := latest[0]
	mu.Unlock()

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.Description, got.Description)
	assert.Equal(t, want.IsCompleted, got.IsCompleted)
	assert.Equal(t, want.UserID, got.UserID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "createdAt %v != %v", want.CreatedAt, got.CreatedAt)
	assert.Equal(t, want.SubTasks, got.SubTasks)
}

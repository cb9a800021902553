package entities

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Common errors
var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrSubTaskNotFound = errors.New("sub-task not found")
	ErrNoActiveUser    = errors.New("no active user")
	ErrUserNotFound    = errors.New("user not found")
)

// User is the identity of a session. It is immutable once created.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SubTask is a child item of a Task. It has no lifecycle of its own.
type SubTask struct {
	ID          string `json:"id"`
	Time        string `json:"time"`
	Details     string `json:"details"`
	IsCompleted bool   `json:"isCompleted"`
}

// SubTasks is the ordered sub-task sequence of a Task. It is stored as a
// single JSON document column.
type SubTasks []SubTask

// Value implements driver.Valuer
func (s SubTasks) Value() (driver.Value, error) {
	if s == nil {
		s = SubTasks{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal sub-tasks: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner
func (s *SubTasks) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = SubTasks{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan sub-tasks: unsupported type %T", src)
	}

	var out SubTasks
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal sub-tasks: %w", err)
	}
	if out == nil {
		out = SubTasks{}
	}
	*s = out
	return nil
}

// Task is a top-level to-do item owned by one user.
type Task struct {
	ID          string    `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	IsCompleted bool      `json:"isCompleted" db:"is_completed"`
	UserID      string    `json:"userId" db:"user_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	SubTasks    SubTasks  `json:"subTasks" db:"sub_tasks"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	out := t
	out.SubTasks = make(SubTasks, len(t.SubTasks))
	copy(out.SubTasks, t.SubTasks)
	return out
}

// SubTaskIndex returns the position of the sub-task with the given id, or -1.
func (t *Task) SubTaskIndex(subTaskID string) int {
	for i := range t.SubTasks {
		if t.SubTasks[i].ID == subTaskID {
			return i
		}
	}
	return -1
}

// SubTaskProgress reports how many sub-tasks are completed out of the total.
func (t *Task) SubTaskProgress() (completed, total int) {
	for _, st := range t.SubTasks {
		if st.IsCompleted {
			completed++
		}
	}
	return completed, len(t.SubTasks)
}

// TaskPatch carries the editable fields of a task.
type TaskPatch struct {
	Title       string
	Description string
}

// Business logic methods for Task

// ApplyPatch replaces title and description.
func (t *Task) ApplyPatch(p TaskPatch) {
	t.Title = p.Title
	t.Description = p.Description
}

// ToggleSubTask flips the completion flag of one sub-task.
func (t *Task) ToggleSubTask(subTaskID string) error {
	i := t.SubTaskIndex(subTaskID)
	if i < 0 {
		return ErrSubTaskNotFound
	}
	t.SubTasks[i].IsCompleted = !t.SubTasks[i].IsCompleted
	return nil
}

// RemoveSubTask drops one sub-task, keeping the order of the rest.
func (t *Task) RemoveSubTask(subTaskID string) error {
	i := t.SubTaskIndex(subTaskID)
	if i < 0 {
		return ErrSubTaskNotFound
	}
	rest := make(SubTasks, 0, len(t.SubTasks)-1)
	rest = append(rest, t.SubTasks[:i]...)
	rest = append(rest, t.SubTasks[i+1:]...)
	t.SubTasks = rest
	return nil
}

// IsBlank reports whether s is empty once surrounding whitespace is removed.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// OrderForDisplay returns a copy of tasks with incomplete tasks first and,
// within each group, the newest CreatedAt first. The input is not modified.
func OrderForDisplay(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsCompleted != out[j].IsCompleted {
			return !out[i].IsCompleted
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SortByCreation orders tasks oldest first, ties broken by id. Backends use
// it so snapshots have a stable read-model order.
func SortByCreation(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

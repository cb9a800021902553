package ports

import (
	"context"
	"errors"

	"github.com/taskmaster/tasklist/internal/domain/entities"
)

// ErrCredentialExists is returned by CredentialStore.Create for a taken email.
var ErrCredentialExists = errors.New("credential already exists")

// IdentityProvider turns credentials into a user identity. Input validation
// (email presence, password length) happens before the provider is called.
type IdentityProvider interface {
	Login(ctx context.Context, email, password string) (*entities.User, error)
	Register(ctx context.Context, email, password string) (*entities.User, error)
}

// Notifier delivers advisory notices to whoever is presenting the session.
type Notifier interface {
	Notify(ctx context.Context, notice entities.Notice)
}

// Request/Response Types

// Auth related types
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int64          `json:"expires_in"`
	User        *entities.User `json:"user"`
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Task related types. Blank titles and sub-task fields are accepted and
// treated as no-ops by the task store.
type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type UpdateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type CreateSubTaskRequest struct {
	Time    string `json:"time"`
	Details string `json:"details"`
}

// TaskView is a task as presented to clients.
type TaskView struct {
	entities.Task
	SubTasksCompleted int `json:"subTasksCompleted"`
	SubTasksTotal     int `json:"subTasksTotal"`
}

// TaskListResponse is the presentation-ordered view of the active user's tasks.
type TaskListResponse struct {
	Tasks     []TaskView `json:"tasks"`
	IsLoading bool       `json:"isLoading"`
}

// SessionResponse describes the session state.
type SessionResponse struct {
	User      *entities.User `json:"user"`
	IsLoading bool           `json:"isLoading"`
}

// NewTaskListResponse orders tasks for display and attaches sub-task progress.
func NewTaskListResponse(tasks []entities.Task, loading bool) TaskListResponse {
	ordered := entities.OrderForDisplay(tasks)
	views := make([]TaskView, 0, len(ordered))
	for i := range ordered {
		done, total := ordered[i].SubTaskProgress()
		views = append(views, TaskView{
			Task:              ordered[i],
			SubTasksCompleted: done,
			SubTasksTotal:     total,
		})
	}
	return TaskListResponse{Tasks: views, IsLoading: loading}
}

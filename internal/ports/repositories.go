package ports

import (
	"context"
	"time"

	"github.com/taskmaster/tasklist/internal/domain/entities"
)

// SnapshotFunc receives the full current task set of one user partition.
// Implementations of TaskBackend never call it concurrently for the same
// subscription.
type SnapshotFunc func(tasks []entities.Task)

// Subscription is a live watch on one user partition.
type Subscription interface {
	// Close stops snapshot delivery. It is safe to call more than once.
	Close() error
}

// TaskBackend is the persistence contract consumed by the task store.
//
// Every write is addressed by user id and task id; the backend filters on
// exact user id. A write to a missing task or sub-task returns
// entities.ErrTaskNotFound or entities.ErrSubTaskNotFound. After a write is
// accepted the backend delivers a fresh snapshot to every watcher of the
// partition, either before returning (local store) or asynchronously
// (document stores with change notifications).
type TaskBackend interface {
	Watch(ctx context.Context, userID string, fn SnapshotFunc) (Subscription, error)

	CreateTask(ctx context.Context, task entities.Task) error
	UpdateTask(ctx context.Context, userID, taskID string, patch entities.TaskPatch) error
	ToggleTask(ctx context.Context, userID, taskID string) error
	DeleteTask(ctx context.Context, userID, taskID string) error

	AddSubTask(ctx context.Context, userID, taskID string, subTask entities.SubTask) error
	DeleteSubTask(ctx context.Context, userID, taskID, subTaskID string) error
	ToggleSubTask(ctx context.Context, userID, taskID, subTaskID string) error

	Close() error
}

// IdentityStore is the durable slot holding the active user between runs.
type IdentityStore interface {
	// Load returns nil, nil when the slot is empty.
	Load(ctx context.Context) (*entities.User, error)
	Save(ctx context.Context, user *entities.User) error
	Clear(ctx context.Context) error
}

// CredentialStore persists accounts for the credential-checking identity
// provider.
type CredentialStore interface {
	// GetByEmail returns entities.ErrUserNotFound when no account matches.
	GetByEmail(ctx context.Context, email string) (*Credential, error)
	// Create fails with ErrCredentialExists when the email is taken.
	Create(ctx context.Context, cred *Credential) error
}

// Credential represents a stored account
type Credential struct {
	UserID       string    `json:"user_id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

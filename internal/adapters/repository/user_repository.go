package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/ports"
)

// UserRepositoryImpl implements the CredentialStore interface on PostgreSQL
type UserRepositoryImpl struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB) ports.CredentialStore {
	return &UserRepositoryImpl{db: db}
}

func (r *UserRepositoryImpl) Create(ctx context.Context, cred *ports.Credential) error {
	query := `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
		RETURNING created_at`

	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx, query,
		cred.UserID, normalizeEmail(cred.Email), cred.PasswordHash, cred.CreatedAt.UTC(),
	).Scan(&cred.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return ports.ErrCredentialExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

func (r *UserRepositoryImpl) GetByEmail(ctx context.Context, email string) (*ports.Credential, error) {
	query := `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE email = $1`

	var cred ports.Credential
	err := r.db.GetContext(ctx, &cred, query, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return &cred, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

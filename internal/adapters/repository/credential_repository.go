package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/kvstore"
	"github.com/taskmaster/tasklist/internal/ports"
)

const credentialSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	user_id       TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TEXT NOT NULL
)`

// CredentialRepositoryImpl implements the CredentialStore interface in the
// local SQLite file
type CredentialRepositoryImpl struct {
	db *sql.DB
}

// NewCredentialRepository creates the credentials table if needed
func NewCredentialRepository(ctx context.Context, store *kvstore.Store) (ports.CredentialStore, error) {
	if _, err := store.DB().ExecContext(ctx, credentialSchema); err != nil {
		return nil, fmt.Errorf("create credentials table: %w", err)
	}
	return &CredentialRepositoryImpl{db: store.DB()}, nil
}

func (r *CredentialRepositoryImpl) Create(ctx context.Context, cred *ports.Credential) error {
	query := `
	INSERT INTO credentials (user_id, email, password_hash, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(email) DO NOTHING`

	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	cred.CreatedAt = cred.CreatedAt.UTC()

	result, err := r.db.ExecContext(ctx, query,
		cred.UserID, normalizeEmail(cred.Email), cred.PasswordHash, cred.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	if rows == 0 {
		return ports.ErrCredentialExists
	}

	return nil
}

func (r *CredentialRepositoryImpl) GetByEmail(ctx context.Context, email string) (*ports.Credential, error) {
	query := `
	SELECT user_id, email, password_hash, created_at
	FROM credentials
	WHERE email = ?`

	var (
		cred      ports.Credential
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, query, normalizeEmail(email)).
		Scan(&cred.UserID, &cred.Email, &cred.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrUserNotFound
		}
		return nil, fmt.Errorf("get credential by email: %w", err)
	}

	cred.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse credential timestamp: %w", err)
	}
	return &cred, nil
}

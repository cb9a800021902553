package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/kvstore"
	"github.com/taskmaster/tasklist/internal/ports"
)

// ActiveUserKey is the slot holding the serialized active user.
const ActiveUserKey = "active_user"

// IdentityRepositoryImpl implements the IdentityStore interface on a kv slot
type IdentityRepositoryImpl struct {
	store *kvstore.Store
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(store *kvstore.Store) ports.IdentityStore {
	return &IdentityRepositoryImpl{store: store}
}

func (r *IdentityRepositoryImpl) Load(ctx context.Context) (*entities.User, error) {
	raw, ok, err := r.store.Get(ctx, ActiveUserKey)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var user entities.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("decode identity: missing user id")
	}
	return &user, nil
}

func (r *IdentityRepositoryImpl) Save(ctx context.Context, user *entities.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := r.store.Put(ctx, ActiveUserKey, raw); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (r *IdentityRepositoryImpl) Clear(ctx context.Context) error {
	if err := r.store.Delete(ctx, ActiveUserKey); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	return nil
}

package services_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/tasklist/internal/adapters/repository"
	"github.com/taskmaster/tasklist/internal/application/services"
	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/kvstore"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

type noticeRecorder struct {
	mu      sync.Mutex
	notices []entities.Notice
}

func (r *noticeRecorder) Notify(ctx context.Context, n entities.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) last() entities.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return entities.Notice{}
	}
	return r.notices[len(r.notices)-1]
}

func openKV(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newSession(t *testing.T, store *kvstore.Store, notifier ports.Notifier) *services.SessionManager {
	t.Helper()
	return services.NewSessionManager(
		repository.NewIdentityRepository(store),
		services.NewPlaceholderProvider(),
		6,
		notifier,
		nil,
		logger.NewNop(),
	)
}

func TestSessionManager_LoginValidation(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantErr  bool
	}{
		{name: "short password", email: "a@b.com", password: "short", wantErr: true},
		{name: "missing email", email: "", password: "longenough", wantErr: true},
		{name: "blank email", email: "   ", password: "longenough", wantErr: true},
		{name: "exactly minimum", email: "a@b.com", password: "sixsix", wantErr: false},
		{name: "valid", email: "a@b.com", password: "longenough", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newSession(t, openKV(t), nil)

			user, err := session.Login(context.Background(), tt.email, tt.password)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, entities.IsAuthError(err))
				assert.Nil(t, user)
				assert.Nil(t, session.CurrentUser())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a@b.com", user.Email)
			assert.Equal(t, user, session.CurrentUser())
		})
	}
}

func TestSessionManager_IdentitySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := openKV(t)

	first := newSession(t, store, nil)
	user, err := first.Login(ctx, "a@b.com", "longenough")
	require.NoError(t, err)

	second := newSession(t, store, nil)
	assert.Nil(t, second.CurrentUser())
	second.Bootstrap(ctx)
	assert.Equal(t, user, second.CurrentUser())
	assert.False(t, second.IsLoading())

	second.Logout(ctx)
	third := newSession(t, store, nil)
	third.Bootstrap(ctx)
	assert.Nil(t, third.CurrentUser())
}

func TestSessionManager_BootstrapCorruptSlot(t *testing.T) {
	ctx := context.Background()
	store := openKV(t)
	require.NoError(t, store.Put(ctx, repository.ActiveUserKey, []byte("not json")))

	session := newSession(t, store, nil)
	session.Bootstrap(ctx)

	assert.Nil(t, session.CurrentUser())
	assert.False(t, session.IsLoading())
}

func TestSessionManager_LoginAndRegisterAreEquivalentForPlaceholder(t *testing.T) {
	ctx := context.Background()

	loggedIn, err := newSession(t, openKV(t), nil).Login(ctx, "Someone@Example.com", "longenough")
	require.NoError(t, err)
	registered, err := newSession(t, openKV(t), nil).Register(ctx, "someone@example.com ", "different")
	require.NoError(t, err)

	assert.Equal(t, loggedIn.ID, registered.ID)
	assert.Equal(t, "someone@example.com", registered.Email)
}

func TestSessionManager_OnChangeAndNotices(t *testing.T) {
	ctx := context.Background()
	notices := &noticeRecorder{}
	session := newSession(t, openKV(t), notices)

	var seen []*entities.User
	session.OnChange(func(u *entities.User) { seen = append(seen, u) })

	_, err := session.Login(ctx, "a@b.com", "short")
	require.Error(t, err)
	assert.Equal(t, entities.NoticeError, notices.last().Level)
	assert.Empty(t, seen)

	user, err := session.Register(ctx, "a@b.com", "longenough")
	require.NoError(t, err)
	assert.Equal(t, "Account created successfully!", notices.last().Message)

	session.Logout(ctx)
	assert.Equal(t, entities.NoticeInfo, notices.last().Level)

	require.Len(t, seen, 2)
	assert.Equal(t, user.ID, seen[0].ID)
	assert.Nil(t, seen[1])
}

type brokenIdentity struct{}

func (brokenIdentity) Load(ctx context.Context) (*entities.User, error) {
	return nil, errors.New("unreadable")
}

func (brokenIdentity) Save(ctx context.Context, user *entities.User) error {
	return errors.New("read-only")
}

func (brokenIdentity) Clear(ctx context.Context) error {
	return errors.New("read-only")
}

func TestSessionManager_IdentitySlotFailures(t *testing.T) {
	ctx := context.Background()
	session := services.NewSessionManager(brokenIdentity{}, services.NewPlaceholderProvider(), 0, nil, nil, logger.NewNop())

	session.Bootstrap(ctx)
	assert.Nil(t, session.CurrentUser())

	_, err := session.Login(ctx, "a@b.com", "longenough")
	require.Error(t, err)
	assert.True(t, entities.IsPersistenceError(err))
	assert.Nil(t, session.CurrentUser())

	assert.NotPanics(t, func() { session.Logout(ctx) })
	assert.Nil(t, session.CurrentUser())
}

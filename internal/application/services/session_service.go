package services

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/infrastructure/metrics"
	"github.com/taskmaster/tasklist/internal/ports"
)

// DefaultMinPasswordLength is used when no minimum is configured.
const DefaultMinPasswordLength = 6

// SessionManager owns the identity of the active user and keeps it in the
// identity slot so it survives a restart.
type SessionManager struct {
	identity    ports.IdentityStore
	provider    ports.IdentityProvider
	notifier    ports.Notifier
	metrics     *metrics.Metrics
	logger      *logger.Logger
	minPassword int

	mu        sync.RWMutex
	user      *entities.User
	pending   int
	listeners []func(*entities.User)
}

// NewSessionManager creates a session manager. notifier and m may be nil.
func NewSessionManager(identity ports.IdentityStore, provider ports.IdentityProvider, minPasswordLength int, notifier ports.Notifier, m *metrics.Metrics, log *logger.Logger) *SessionManager {
	if minPasswordLength <= 0 {
		minPasswordLength = DefaultMinPasswordLength
	}
	return &SessionManager{
		identity:    identity,
		provider:    provider,
		notifier:    notifier,
		metrics:     m,
		logger:      log.WithComponent("session"),
		minPassword: minPasswordLength,
	}
}

// Bootstrap restores the active user from the identity slot. An unreadable
// slot leaves the session unauthenticated.
func (s *SessionManager) Bootstrap(ctx context.Context) {
	s.begin()
	defer s.end()

	user, err := s.identity.Load(ctx)
	if err != nil {
		s.logger.Warnw("Stored identity could not be read", "error", err)
		return
	}
	if user == nil {
		s.logger.Debug("No stored identity")
		return
	}

	s.logger.Infow("Session restored", "user_id", user.ID, "email", user.Email)
	s.setUser(user)
}

// Login validates the credentials, resolves the user through the identity
// provider and makes it the active user.
func (s *SessionManager) Login(ctx context.Context, email, password string) (*entities.User, error) {
	user, err := s.authenticate(ctx, "login", email, password, s.provider.Login)
	if err != nil {
		s.notify(ctx, entities.NoticeError, "Login failed. Please check your credentials.")
		return nil, err
	}
	s.notify(ctx, entities.NoticeSuccess, "Logged in successfully!")
	return user, nil
}

// Register validates the credentials, creates the identity through the
// identity provider and makes it the active user.
func (s *SessionManager) Register(ctx context.Context, email, password string) (*entities.User, error) {
	user, err := s.authenticate(ctx, "register", email, password, s.provider.Register)
	if err != nil {
		s.notify(ctx, entities.NoticeError, "Registration failed. Please try again.")
		return nil, err
	}
	s.notify(ctx, entities.NoticeSuccess, "Account created successfully!")
	return user, nil
}

// Logout forgets the active user. Nothing is deleted from any store.
func (s *SessionManager) Logout(ctx context.Context) {
	previous := s.CurrentUser()

	if err := s.identity.Clear(ctx); err != nil {
		s.logger.Warnw("Stored identity could not be cleared", "error", err)
	}
	s.setUser(nil)

	if previous != nil {
		s.logger.LogUserAction(previous.ID, "logout", nil)
	}
	s.metrics.ObserveSession("logout", "success")
	s.notify(ctx, entities.NoticeInfo, "Logged out successfully")
}

// CurrentUser returns a copy of the active user, or nil.
func (s *SessionManager) CurrentUser() *entities.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsLoading reports whether a bootstrap, login or register is in flight.
func (s *SessionManager) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending > 0
}

// OnChange registers fn to be called with the new active user (nil after
// logout) whenever it changes. fn runs on the goroutine that caused the
// change.
func (s *SessionManager) OnChange(fn func(*entities.User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *SessionManager) authenticate(ctx context.Context, event, email, password string, resolve func(context.Context, string, string) (*entities.User, error)) (*entities.User, error) {
	s.begin()
	defer s.end()

	if err := s.validate(email, password); err != nil {
		s.metrics.ObserveSession(event, "rejected")
		s.logger.Warnw("Credentials rejected", "event", event, "reason", err.Reason)
		return nil, err
	}

	user, err := resolve(ctx, email, password)
	if err != nil {
		outcome := "failed"
		if entities.IsAuthError(err) {
			outcome = "rejected"
		}
		s.metrics.ObserveSession(event, outcome)
		s.logger.Warnw("Identity provider refused credentials", "event", event, "error", err)
		return nil, err
	}

	if err := s.identity.Save(ctx, user); err != nil {
		s.metrics.ObserveSession(event, "failed")
		s.logger.Errorw("Identity could not be persisted", "user_id", user.ID, "error", err)
		return nil, entities.NewPersistenceError("save identity", err)
	}

	s.setUser(user)
	s.metrics.ObserveSession(event, "success")
	s.logger.LogUserAction(user.ID, event, map[string]interface{}{"email": user.Email})

	u := *user
	return &u, nil
}

func (s *SessionManager) validate(email, password string) *entities.AuthError {
	if entities.IsBlank(email) {
		return entities.NewAuthError("email is required")
	}
	if utf8.RuneCountInString(password) < s.minPassword {
		return entities.NewAuthError("password is too short")
	}
	return nil
}

func (s *SessionManager) setUser(user *entities.User) {
	s.mu.Lock()
	if user != nil {
		u := *user
		user = &u
	}
	s.user = user
	listeners := make([]func(*entities.User), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		if user == nil {
			fn(nil)
			continue
		}
		u := *user
		fn(&u)
	}
}

func (s *SessionManager) begin() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
}

func (s *SessionManager) end() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

func (s *SessionManager) notify(ctx context.Context, level entities.NoticeLevel, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, entities.Notice{Level: level, Message: message})
}

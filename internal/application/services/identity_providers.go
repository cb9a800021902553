package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

// userNamespace seeds the deterministic ids of the placeholder provider.
var userNamespace = uuid.MustParse("6f1c1c1e-8a53-4d0b-9a53-2b8f1a5c7e10")

// PlaceholderProvider accepts any well-formed credentials and derives the
// user id from the email. Login and Register are the same operation.
type PlaceholderProvider struct{}

// NewPlaceholderProvider creates the default identity provider
func NewPlaceholderProvider() *PlaceholderProvider {
	return &PlaceholderProvider{}
}

func (p *PlaceholderProvider) Login(ctx context.Context, email, password string) (*entities.User, error) {
	email = normalizeEmail(email)
	return &entities.User{
		ID:    uuid.NewSHA1(userNamespace, []byte(email)).String(),
		Email: email,
	}, nil
}

func (p *PlaceholderProvider) Register(ctx context.Context, email, password string) (*entities.User, error) {
	return p.Login(ctx, email, password)
}

// AccountProvider checks credentials against stored bcrypt hashes.
type AccountProvider struct {
	credentials ports.CredentialStore
	logger      *logger.Logger
	now         func() time.Time
}

// NewAccountProvider creates a credential-checking identity provider
func NewAccountProvider(credentials ports.CredentialStore, log *logger.Logger) *AccountProvider {
	return &AccountProvider{
		credentials: credentials,
		logger:      log.WithComponent("account_provider"),
		now:         time.Now,
	}
}

func (p *AccountProvider) Register(ctx context.Context, email, password string) (*entities.User, error) {
	email = normalizeEmail(email)

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &ports.Credential{
		UserID:       uuid.New().String(),
		Email:        email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    p.now().UTC(),
	}
	if err := p.credentials.Create(ctx, cred); err != nil {
		if errors.Is(err, ports.ErrCredentialExists) {
			return nil, entities.NewAuthError("an account with this email already exists")
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	p.logger.Infow("Account created", "user_id", cred.UserID, "email", email)
	return &entities.User{ID: cred.UserID, Email: email}, nil
}

func (p *AccountProvider) Login(ctx context.Context, email, password string) (*entities.User, error) {
	email = normalizeEmail(email)

	cred, err := p.credentials.GetByEmail(ctx, email)
	if errors.Is(err, entities.ErrUserNotFound) {
		p.logger.Warnw("Login attempt with unknown email", "email", email)
		return nil, entities.NewAuthError("invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		p.logger.Warnw("Login attempt with invalid password", "email", email, "user_id", cred.UserID)
		return nil, entities.NewAuthError("invalid credentials")
	}

	return &entities.User{ID: cred.UserID, Email: cred.Email}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

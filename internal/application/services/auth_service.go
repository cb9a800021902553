package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/infrastructure/config"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

// Claims represents the JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// AuthService issues and validates access tokens for the active user
type AuthService struct {
	secret    []byte
	expiresIn time.Duration
	issuer    string
	logger    *logger.Logger
	now       func() time.Time
}

// NewAuthService creates a new auth service. An empty secret is replaced by
// a random one, which invalidates tokens on restart.
func NewAuthService(jwtConfig config.JWTConfig, log *logger.Logger) (*AuthService, error) {
	log = log.WithComponent("auth")

	secret := []byte(jwtConfig.Secret)
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
		secret = []byte(hex.EncodeToString(buf))
		log.Warn("JWT secret not configured, using a random secret for this process")
	}

	expiresIn := jwtConfig.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}

	return &AuthService{
		secret:    secret,
		expiresIn: expiresIn,
		issuer:    jwtConfig.Issuer,
		logger:    log,
		now:       time.Now,
	}, nil
}

// IssueToken builds the auth response for user
func (s *AuthService) IssueToken(user *entities.User) (*ports.AuthResponse, error) {
	now := s.now()
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	u := *user
	return &ports.AuthResponse{
		AccessToken: tokenString,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.expiresIn.Seconds()),
		User:        &u,
	}, nil
}

// ValidateToken validates a JWT token and returns claims
func (s *AuthService) ValidateToken(tokenString string) (*ports.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" || claims.Subject != claims.UserID {
		return nil, fmt.Errorf("invalid token subject")
	}

	return &ports.Claims{
		UserID: claims.UserID,
		Email:  claims.Email,
	}, nil
}

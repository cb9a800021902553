package entities

import (
	"errors"
	"fmt"
)

// AuthError is returned when credentials are rejected. The session stays
// unauthenticated.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// NewAuthError creates an AuthError with the given reason
func NewAuthError(reason string) *AuthError {
	return &AuthError{Reason: reason}
}

// PersistenceError wraps a backend read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps err unless it is nil
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsAuthError reports whether err is or wraps an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsPersistenceError reports whether err is or wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr)
}

// IsNotFound reports whether err means the addressed task or sub-task does
// not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrSubTaskNotFound)
}

// NoticeLevel classifies an advisory notice shown to the user.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeError   NoticeLevel = "error"
)

// Notice is a short user-visible message about the outcome of an action.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

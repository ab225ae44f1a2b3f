// Package common defines shared constants and sentinel errors used across
// the server, transports and the admin CLI. Callers should use errors.Is /
// errors.As to match these values.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
	ErrForbidden  = errors.New("forbidden")

	// Auth errors. ErrAuthenticationFailed never says whether the email exists.
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrAccountLocked         = errors.New("account locked")
	ErrTokenInvalidOrExpired = errors.New("token invalid or expired")

	// Input validation.
	ErrValidation = errors.New("validation error")

	// Email provider or brewery API unavailable / misconfigured.
	ErrExternalService = errors.New("external service error")
)

// LockedError is returned when an identity is locked out. It matches
// ErrAccountLocked with errors.Is.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// ValidationError describes a malformed input field. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// ExternalError wraps a failure of an outbound call (email, brewery API, storage).
func ExternalError(service string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrExternalService, service, err)
}

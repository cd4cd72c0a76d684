// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity or credential does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates a credential whose validity window has ended.
	ErrExpired = errors.New("expired")

	// ErrReplayDetected indicates reuse of an already rotated or revoked refresh token.
	ErrReplayDetected = errors.New("refresh token replay detected")

	// ErrAlreadyUsed indicates a single-use credential that was already consumed.
	ErrAlreadyUsed = errors.New("already used")

	// ErrLockedOut indicates the account is temporarily locked after repeated failures.
	ErrLockedOut = errors.New("locked out")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInactive indicates a deactivated account.
	ErrInactive = errors.New("account inactive")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict indicates a lost compare-and-swap on a state transition.
	ErrVersionConflict = errors.New("version conflict")

	// ErrValidation is the kind shared by every ValidationError.
	ErrValidation = errors.New("validation")
)

// ValidationError reports malformed input for entity construction or mutation.
type ValidationError struct {
	Field  string
	Reason string
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// LockedOutError carries the remaining lockout time so callers may disclose it.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("locked out for %s", e.Remaining.Round(time.Second))
}

func (e *LockedOutError) Unwrap() error { return ErrLockedOut }

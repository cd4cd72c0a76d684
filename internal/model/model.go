// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/basejwt/internal/errs"
)

// Tokens collects an issued access/refresh pair.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string // raw secret, returned once
	RefreshExpiresAt time.Time
}

// ExpiresInSeconds reports the access token lifetime left at now.
func (t Tokens) ExpiresInSeconds(now time.Time) int {
	d := t.AccessExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// TokenState is the lifecycle state of a refresh token at a given instant.
type TokenState int

const (
	TokenActive TokenState = iota
	TokenRevoked
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenRevoked:
		return "revoked"
	default:
		return "expired"
	}
}

// RefreshToken is a persisted refresh credential. Only the hash of the secret is stored.
type RefreshToken struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	TokenHash         string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	ReplacedByTokenID *uuid.UUID // successor in the rotation chain
}

// IsRevoked reports whether the token was revoked or rotated.
func (t *RefreshToken) IsRevoked() bool { return t.RevokedAt != nil }

// IsExpired reports expiresAt <= now.
func (t *RefreshToken) IsExpired(now time.Time) bool { return !t.ExpiresAt.After(now) }

// IsActive reports not revoked and not expired.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// State resolves the lifecycle state; revocation wins over expiry.
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.IsRevoked():
		return TokenRevoked
	case t.IsExpired(now):
		return TokenExpired
	default:
		return TokenActive
	}
}

// Revoke marks the token revoked at now. Only the first call has an effect;
// it reports whether the state changed.
func (t *RefreshToken) Revoke(now time.Time, replacedBy *uuid.UUID) bool {
	if t.RevokedAt != nil {
		return false
	}
	at := now
	t.RevokedAt = &at
	if replacedBy != nil {
		id := *replacedBy
		t.ReplacedByTokenID = &id
	}
	return true
}

// PasswordResetToken is a single-use token authorizing a password change.
type PasswordResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	IsUsed    bool
}

// Check validates ownership, expiry and the used flag, in that order.
func (t *PasswordResetToken) Check(userID uuid.UUID, now time.Time) error {
	if t.UserID != userID {
		return errs.ErrNotFound
	}
	if !t.ExpiresAt.After(now) {
		return errs.ErrExpired
	}
	if t.IsUsed {
		return errs.ErrAlreadyUsed
	}
	return nil
}

// Consume validates the token and flips IsUsed. Irreversible.
func (t *PasswordResetToken) Consume(userID uuid.UUID, now time.Time) error {
	if err := t.Check(userID, now); err != nil {
		return err
	}
	t.IsUsed = true
	return nil
}

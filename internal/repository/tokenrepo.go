package repository

import (
	"context"
	"time"

	"github.com/and161185/basejwt/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RefreshTokenRepository stores refresh tokens. Tokens are never deleted.
type RefreshTokenRepository interface {
	// Create inserts a new token.
	Create(ctx context.Context, t *model.RefreshToken) error
	// GetByHash loads a token by the hash of its secret.
	GetByHash(ctx context.Context, hash string) (*model.RefreshToken, error)
	// GetByID loads a token by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.RefreshToken, error)
	// ListActiveByUser returns tokens of userID neither revoked nor expired at now.
	ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.RefreshToken, error)
	// Revoke sets revoked_at if unset. Revoking a revoked token is a no-op.
	Revoke(ctx context.Context, id uuid.UUID, now time.Time) error
	// Rotate atomically inserts next and revokes oldID with replaced_by = next.ID,
	// only if oldID is still unrevoked; otherwise ErrVersionConflict and nothing is written.
	Rotate(ctx context.Context, oldID uuid.UUID, next *model.RefreshToken, now time.Time) error
	// RevokeAllForUser revokes every unrevoked token of userID and returns how many changed.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

// ResetTokenRepository stores password-reset tokens.
type ResetTokenRepository interface {
	// Create inserts a new reset token.
	Create(ctx context.Context, t *model.PasswordResetToken) error
	// GetByToken loads a reset token by value.
	GetByToken(ctx context.Context, token string) (*model.PasswordResetToken, error)
	// MarkUsed flips is_used if still false; ErrAlreadyUsed otherwise.
	MarkUsed(ctx context.Context, id uuid.UUID) error
}

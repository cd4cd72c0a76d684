package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RefreshTokenRepo implements RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepo struct{ db *DB }

// NewRefreshTokenRepo constructs a refresh token repository.
func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

const refreshCols = `id, user_id, token_hash, created_at, expires_at, revoked_at, replaced_by_token_id`

const (
	qRefreshInsert = `
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	qRefreshByHash = `SELECT ` + refreshCols + ` FROM refresh_tokens WHERE token_hash=$1`
	qRefreshByID   = `SELECT ` + refreshCols + ` FROM refresh_tokens WHERE id=$1`
	qRefreshActive = `SELECT ` + refreshCols + ` FROM refresh_tokens
WHERE user_id=$1 AND revoked_at IS NULL AND expires_at > $2
ORDER BY created_at`
	qRefreshRevoke    = `UPDATE refresh_tokens SET revoked_at=$2 WHERE id=$1 AND revoked_at IS NULL`
	qRefreshReplace   = `UPDATE refresh_tokens SET revoked_at=$2, replaced_by_token_id=$3 WHERE id=$1 AND revoked_at IS NULL`
	qRefreshRevokeAll = `UPDATE refresh_tokens SET revoked_at=$2 WHERE user_id=$1 AND revoked_at IS NULL`
)

func scanRefresh(row pgx.Row) (*model.RefreshToken, error) {
	var t model.RefreshToken
	var replacedBy uuid.NullUUID
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt, &replacedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if replacedBy.Valid {
		id := replacedBy.UUID
		t.ReplacedByTokenID = &id
	}
	return &t, nil
}

// Create inserts a refresh token row.
func (r *RefreshTokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	return insertRefresh(ctx, r.db.Pool, t)
}

func insertRefresh(ctx context.Context, q querier, t *model.RefreshToken) error {
	_, err := q.Exec(ctx, qRefreshInsert, t.ID, t.UserID, t.TokenHash, t.CreatedAt, t.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByHash selects a token by secret hash.
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	return scanRefresh(r.db.Pool.QueryRow(ctx, qRefreshByHash, hash))
}

// GetByID selects a token by ID.
func (r *RefreshTokenRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.RefreshToken, error) {
	return scanRefresh(r.db.Pool.QueryRow(ctx, qRefreshByID, id))
}

// ListActiveByUser returns unrevoked, unexpired tokens ordered by creation.
func (r *RefreshTokenRepo) ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.RefreshToken, error) {
	rows, err := r.db.Pool.Query(ctx, qRefreshActive, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RefreshToken
	for rows.Next() {
		t, err := scanRefresh(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Revoke sets revoked_at unless already set.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.db.Pool.Exec(ctx, qRefreshRevoke, id, now)
	return err
}

// Rotate inserts next and links oldID to it; the update is a compare-and-swap on revoked_at.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, oldID uuid.UUID, next *model.RefreshToken, now time.Time) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertRefresh(ctx, tx, next); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, qRefreshReplace, oldID, now, next.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrVersionConflict
		}
		return nil
	})
}

// RevokeAllForUser revokes every live token of the user in one statement.
func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, qRefreshRevokeAll, userID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResetTokenRepo implements ResetTokenRepository using PostgreSQL.
type ResetTokenRepo struct{ db *DB }

// NewResetTokenRepo constructs a password-reset token repository.
func NewResetTokenRepo(db *DB) *ResetTokenRepo { return &ResetTokenRepo{db: db} }

const (
	qResetInsert   = `INSERT INTO password_reset_tokens (id, user_id, token, expires_at, is_used) VALUES ($1, $2, $3, $4, false)`
	qResetByToken  = `SELECT id, user_id, token, expires_at, is_used FROM password_reset_tokens WHERE token=$1`
	qResetMarkUsed = `UPDATE password_reset_tokens SET is_used=true WHERE id=$1 AND is_used=false`
)

// Create inserts a reset token.
func (r *ResetTokenRepo) Create(ctx context.Context, t *model.PasswordResetToken) error {
	_, err := r.db.Pool.Exec(ctx, qResetInsert, t.ID, t.UserID, t.Token, t.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByToken selects a reset token by value.
func (r *ResetTokenRepo) GetByToken(ctx context.Context, token string) (*model.PasswordResetToken, error) {
	var t model.PasswordResetToken
	err := r.db.Pool.QueryRow(ctx, qResetByToken, token).Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.IsUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkUsed flips is_used exactly once.
func (r *ResetTokenRepo) MarkUsed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, qResetMarkUsed, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadyUsed
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userCols = `id, full_name, email, phone_number, identity_number, address, gender, date_of_birth, role_id,
pwd_hash, salt_auth, is_active, is_patient, needs_verification, failed_login_attempts, lockout_end, created_at`

const (
	qUserInsert = `
INSERT INTO users (id, full_name, email, phone_number, identity_number, address, gender, date_of_birth, role_id,
pwd_hash, salt_auth, is_active, is_patient, needs_verification, failed_login_attempts, lockout_end, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, COALESCE($17::timestamptz, now()))`
	qUserByID          = `SELECT ` + userCols + ` FROM users WHERE id=$1`
	qUserByIDForUpdate = `SELECT ` + userCols + ` FROM users WHERE id=$1 FOR UPDATE`
	qUserByEmail       = `SELECT ` + userCols + ` FROM users WHERE email=$1`
	qUserUpdate        = `
UPDATE users SET full_name=$2, email=$3, phone_number=$4, identity_number=$5, address=$6, gender=$7,
date_of_birth=$8, role_id=$9, pwd_hash=$10, salt_auth=$11, is_active=$12, is_patient=$13,
needs_verification=$14, failed_login_attempts=$15, lockout_end=$16
WHERE id=$1`
)

func userArgs(u *model.User) []any {
	return []any{u.ID, u.FullName, strings.ToLower(u.Email), u.PhoneNumber, u.IdentityNumber, u.Address, u.Gender,
		u.DateOfBirth, u.RoleID, u.PwdHash, u.SaltAuth, u.IsActive, u.IsPatient, u.NeedsVerification,
		u.FailedLoginAttempts, u.LockoutEnd}
}

// insertArgs appends created_at; a zero CreatedAt defers to the database clock.
func insertArgs(u *model.User) []any {
	var created any
	if !u.CreatedAt.IsZero() {
		created = u.CreatedAt
	}
	return append(userArgs(u), created)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PhoneNumber, &u.IdentityNumber, &u.Address, &u.Gender,
		&u.DateOfBirth, &u.RoleID, &u.PwdHash, &u.SaltAuth, &u.IsActive, &u.IsPatient, &u.NeedsVerification,
		&u.FailedLoginAttempts, &u.LockoutEnd, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	_, err := r.db.Pool.Exec(ctx, qUserInsert, insertArgs(u)...)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return scanUser(r.db.Pool.QueryRow(ctx, qUserByID, id))
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.db.Pool.QueryRow(ctx, qUserByEmail, strings.ToLower(email)))
}

// Save overwrites the user's mutable columns.
func (r *UserRepo) Save(ctx context.Context, u *model.User) error {
	return saveUser(ctx, r.db.Pool, u)
}

// Update locks the row with SELECT ... FOR UPDATE, applies fn and writes it back in one transaction.
func (r *UserRepo) Update(ctx context.Context, id uuid.UUID, fn func(u *model.User) error) (*model.User, error) {
	var out *model.User
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx, qUserByIDForUpdate, id))
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func saveUser(ctx context.Context, q querier, u *model.User) error {
	tag, err := q.Exec(ctx, qUserUpdate, userArgs(u)...)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

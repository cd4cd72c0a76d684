package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/basejwt/internal/crypto"
	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/guard"
	"github.com/and161185/basejwt/internal/model"
	"github.com/and161185/basejwt/internal/repository"
	"github.com/and161185/basejwt/internal/token"
)

// ResetService issues and redeems password-reset tokens.
type ResetService interface {
	// Issue creates a reset token for userID. Delivery is up to the caller.
	Issue(ctx context.Context, userID uuid.UUID) (*model.PasswordResetToken, error)
	// RequestByEmail is Issue for the user owning email.
	RequestByEmail(ctx context.Context, email string) (*model.PasswordResetToken, error)
	// Consume redeems token for userID exactly once.
	Consume(ctx context.Context, token string, userID uuid.UUID) error
	// ResetPassword consumes token, sets the new password and revokes all sessions.
	ResetPassword(ctx context.Context, userID uuid.UUID, token, newPassword, confirm string) error
}

type ResetServiceImpl struct {
	users   repository.UserRepository
	resets  repository.ResetTokenRepository
	issuer  *token.Issuer
	guard   *guard.Guard
	refresh *RefreshServiceImpl
	clock   clockwork.Clock
	log     *zap.Logger
}

// NewResetService constructs ResetService.
func NewResetService(d Deps, refresh *RefreshServiceImpl) *ResetServiceImpl {
	d = d.normalized()
	return &ResetServiceImpl{
		users:   d.Users,
		resets:  d.Resets,
		issuer:  d.Issuer,
		guard:   d.Guard,
		refresh: refresh,
		clock:   d.Clock,
		log:     d.Log.Named("reset"),
	}
}

func (s *ResetServiceImpl) Issue(ctx context.Context, userID uuid.UUID) (*model.PasswordResetToken, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	t, err := s.issuer.IssueResetToken(userID)
	if err != nil {
		return nil, err
	}
	if err := s.resets.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}
	s.log.Info("password reset issued", zap.Stringer("user_id", userID), zap.Time("expires_at", t.ExpiresAt))
	return t, nil
}

func (s *ResetServiceImpl) RequestByEmail(ctx context.Context, email string) (*model.PasswordResetToken, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.Issue(ctx, u.ID)
}

// Consume checks match, expiry and the used flag in that order, then marks the
// token used. A concurrent consumer that loses the race gets ErrAlreadyUsed.
func (s *ResetServiceImpl) Consume(ctx context.Context, tok string, userID uuid.UUID) error {
	t, err := s.resets.GetByToken(ctx, tok)
	if err != nil {
		return err
	}
	if err := t.Check(userID, s.clock.Now()); err != nil {
		return err
	}
	return s.resets.MarkUsed(ctx, t.ID)
}

// ResetPassword also clears any lockout, since the caller proved control of the account.
//
// The token is marked used before the password is written, so two holders of one
// token can never both set a password. If that write then fails the token stays
// spent and the user requests a new one. Hashing happens before the token is
// marked, leaving the store write as the only step that can fail after it.
func (s *ResetServiceImpl) ResetPassword(ctx context.Context, userID uuid.UUID, tok, newPassword, confirm string) error {
	if err := validatePassword("new_password", newPassword); err != nil {
		return err
	}
	if newPassword != confirm {
		return errs.Invalid("confirm_password", "does not match new_password")
	}
	t, err := s.resets.GetByToken(ctx, tok)
	if err != nil {
		return err
	}
	if err := t.Check(userID, s.clock.Now()); err != nil {
		return err
	}

	hash, salt, err := pkgcrypto.NewPasswordHash([]byte(newPassword))
	if err != nil {
		return err
	}
	if err := s.resets.MarkUsed(ctx, t.ID); err != nil {
		return err
	}
	_, err = s.users.Update(ctx, userID, func(u *model.User) error {
		u.PwdHash, u.SaltAuth = hash, salt
		s.guard.Unlock(u)
		return nil
	})
	if err != nil {
		s.log.Error("password write after token use", zap.Stringer("user_id", userID), zap.Error(err))
		return fmt.Errorf("reset password: %w", err)
	}

	n, err := s.refresh.RevokeAll(ctx, userID)
	if err != nil {
		s.log.Error("revoke sessions after reset", zap.Stringer("user_id", userID), zap.Error(err))
		return err
	}
	s.log.Info("password reset", zap.Stringer("user_id", userID), zap.Int("sessions_revoked", n))
	return nil
}

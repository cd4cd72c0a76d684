package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/guard"
	"github.com/and161185/basejwt/internal/metrics"
	"github.com/and161185/basejwt/internal/model"
	"github.com/and161185/basejwt/internal/repository"
	"github.com/and161185/basejwt/internal/token"
)

// RefreshService rotates and revokes refresh tokens.
type RefreshService interface {
	// Rotate exchanges a raw refresh secret for a new token pair.
	// It fails with ErrNotFound, ErrExpired or ErrReplayDetected.
	Rotate(ctx context.Context, raw string) (model.Tokens, error)
	// Logout revokes the token identified by its raw secret.
	Logout(ctx context.Context, raw string) error
	// Revoke revokes one token of userID. Idempotent.
	Revoke(ctx context.Context, userID, tokenID uuid.UUID) error
	// RevokeAll revokes every live token of userID and returns how many changed.
	RevokeAll(ctx context.Context, userID uuid.UUID) (int, error)
	// ActiveSessions lists live tokens of userID.
	ActiveSessions(ctx context.Context, userID uuid.UUID) ([]model.RefreshToken, error)
}

type RefreshServiceImpl struct {
	users   repository.UserRepository
	tokens  repository.RefreshTokenRepository
	issuer  *token.Issuer
	guard   *guard.Guard
	access  *AccessServiceImpl
	clock   clockwork.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewRefreshService constructs RefreshService.
func NewRefreshService(d Deps, access *AccessServiceImpl) *RefreshServiceImpl {
	d = d.normalized()
	return &RefreshServiceImpl{
		users:   d.Users,
		tokens:  d.Tokens,
		issuer:  d.Issuer,
		guard:   d.Guard,
		access:  access,
		clock:   d.Clock,
		metrics: d.Metrics,
		log:     d.Log.Named("refresh"),
	}
}

// Rotate checks, in order: unknown secret, expiry, prior revocation. An expired
// token therefore reports ErrExpired even when it was also revoked. Presenting a
// revoked token, or losing a concurrent rotation of the same token, revokes every
// live token of the owner.
func (s *RefreshServiceImpl) Rotate(ctx context.Context, raw string) (model.Tokens, error) {
	now := s.clock.Now()
	old, err := s.tokens.GetByHash(ctx, s.issuer.HashSecret(raw))
	if errors.Is(err, errs.ErrNotFound) {
		s.metrics.Refresh(metrics.ResultNotFound)
		return model.Tokens{}, errs.ErrNotFound
	}
	if err != nil {
		s.metrics.Refresh(metrics.ResultError)
		return model.Tokens{}, fmt.Errorf("rotate: lookup: %w", err)
	}
	if old.IsExpired(now) {
		s.metrics.Refresh(metrics.ResultExpired)
		return model.Tokens{}, errs.ErrExpired
	}
	if old.IsRevoked() {
		return model.Tokens{}, s.replay(ctx, old, now, "revoked token presented")
	}

	u, err := s.users.GetByID(ctx, old.UserID)
	if err != nil {
		s.metrics.Refresh(metrics.ResultError)
		return model.Tokens{}, fmt.Errorf("rotate: owner: %w", err)
	}
	if !u.IsActive {
		s.metrics.Refresh(metrics.ResultInactive)
		return model.Tokens{}, errs.ErrInactive
	}
	if s.guard.IsLockedOut(u) {
		s.metrics.Refresh(metrics.ResultLockedOut)
		return model.Tokens{}, &errs.LockedOutError{Remaining: s.guard.Remaining(u)}
	}

	access, accessExp, err := s.access.IssueAccess(ctx, u)
	if err != nil {
		s.metrics.Refresh(metrics.ResultError)
		return model.Tokens{}, fmt.Errorf("rotate: access token: %w", err)
	}
	nextRaw, next, err := s.issuer.IssueRefreshToken(u.ID)
	if err != nil {
		s.metrics.Refresh(metrics.ResultError)
		return model.Tokens{}, fmt.Errorf("rotate: refresh token: %w", err)
	}
	if err := s.tokens.Rotate(ctx, old.ID, next, now); err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			return model.Tokens{}, s.replay(ctx, old, now, "concurrent rotation lost")
		}
		s.metrics.Refresh(metrics.ResultError)
		return model.Tokens{}, fmt.Errorf("rotate: persist: %w", err)
	}

	s.metrics.Refresh(metrics.ResultOK)
	return model.Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     nextRaw,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

func (s *RefreshServiceImpl) replay(ctx context.Context, old *model.RefreshToken, now time.Time, reason string) error {
	s.metrics.Refresh(metrics.ResultReplay)
	n, err := s.tokens.RevokeAllForUser(ctx, old.UserID, now)
	if err != nil {
		s.log.Error("replay response failed",
			zap.Stringer("user_id", old.UserID), zap.Stringer("token_id", old.ID), zap.Error(err))
		return fmt.Errorf("%w: revoke all: %v", errs.ErrReplayDetected, err)
	}
	s.metrics.TokensRevoked(int(n))
	s.log.Warn("refresh token replay detected",
		zap.String("reason", reason),
		zap.Stringer("user_id", old.UserID),
		zap.Stringer("token_id", old.ID),
		zap.Int64("revoked", n))
	return errs.ErrReplayDetected
}

func (s *RefreshServiceImpl) Logout(ctx context.Context, raw string) error {
	t, err := s.tokens.GetByHash(ctx, s.issuer.HashSecret(raw))
	if err != nil {
		return err
	}
	return s.revoke(ctx, t)
}

func (s *RefreshServiceImpl) Revoke(ctx context.Context, userID, tokenID uuid.UUID) error {
	t, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if t.UserID != userID {
		return errs.ErrNotFound
	}
	return s.revoke(ctx, t)
}

func (s *RefreshServiceImpl) revoke(ctx context.Context, t *model.RefreshToken) error {
	if t.IsRevoked() {
		return nil
	}
	if err := s.tokens.Revoke(ctx, t.ID, s.clock.Now()); err != nil {
		return err
	}
	s.metrics.TokensRevoked(1)
	return nil
}

func (s *RefreshServiceImpl) RevokeAll(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.metrics.TokensRevoked(int(n))
	s.log.Info("all sessions revoked", zap.Stringer("user_id", userID), zap.Int64("revoked", n))
	return int(n), nil
}

func (s *RefreshServiceImpl) ActiveSessions(ctx context.Context, userID uuid.UUID) ([]model.RefreshToken, error) {
	return s.tokens.ListActiveByUser(ctx, userID, s.clock.Now())
}

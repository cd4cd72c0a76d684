package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/basejwt/internal/crypto"
	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/guard"
	"github.com/and161185/basejwt/internal/metrics"
	"github.com/and161185/basejwt/internal/model"
	"github.com/and161185/basejwt/internal/repository"
	"github.com/and161185/basejwt/internal/token"
)

// AuthService defines registration, login and account administration.
type AuthService interface {
	// Register creates a user on the given role, or on the default role when RoleID is 0.
	Register(ctx context.Context, p model.NewUserParams, password string) (*model.User, error)
	// Login verifies credentials under the lockout policy and issues a token pair.
	Login(ctx context.Context, email, password string) (LoginResult, error)
	// Authenticate verifies an access token and loads its subject.
	Authenticate(ctx context.Context, accessToken string) (*model.User, *token.Claims, error)
	// Unlock clears a lockout and the failure counter.
	Unlock(ctx context.Context, userID uuid.UUID) error
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Tokens model.Tokens
	User   model.User
}

type AuthServiceImpl struct {
	users   repository.UserRepository
	roles   repository.RoleRepository
	tokens  repository.RefreshTokenRepository
	issuer  *token.Issuer
	guard   *guard.Guard
	access  *AccessServiceImpl
	clock   clockwork.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewAuthService constructs AuthService.
func NewAuthService(d Deps, access *AccessServiceImpl) *AuthServiceImpl {
	d = d.normalized()
	return &AuthServiceImpl{
		users:   d.Users,
		roles:   d.Roles,
		tokens:  d.Tokens,
		issuer:  d.Issuer,
		guard:   d.Guard,
		access:  access,
		clock:   d.Clock,
		metrics: d.Metrics,
		log:     d.Log.Named("auth"),
	}
}

func validatePassword(field, password string) error {
	if len([]rune(password)) < MinPasswordLen {
		return errs.Invalid(field, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	return nil
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, p model.NewUserParams, password string) (*model.User, error) {
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}
	if p.RoleID == 0 {
		role, err := s.roles.GetDefaultRole(ctx)
		if err != nil {
			return nil, fmt.Errorf("default role: %w", err)
		}
		p.RoleID = role.ID
	}
	hash, salt, err := pkgcrypto.NewPasswordHash([]byte(password))
	if err != nil {
		return nil, err
	}
	u, err := model.NewUser(p, hash, salt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = s.clock.Now()
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.Stringer("user_id", u.ID), zap.Int("role_id", u.RoleID))
	return u, nil
}

// Login authenticates by email. The lockout check precedes the password check,
// so a correct password is rejected while locked and the counter is left as is.
// Unknown emails and wrong passwords both yield ErrUnauthorized.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		s.metrics.Login(metrics.ResultUnknown)
		return LoginResult{}, errs.ErrUnauthorized
	}
	if err != nil {
		s.metrics.Login(metrics.ResultError)
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}
	if !u.IsActive {
		s.metrics.Login(metrics.ResultInactive)
		return LoginResult{}, errs.ErrUnauthorized
	}
	// Checked again under the row lock below; this one skips the hash while locked.
	if s.guard.IsLockedOut(u) {
		s.metrics.Login(metrics.ResultLockedOut)
		return LoginResult{}, &errs.LockedOutError{Remaining: s.guard.Remaining(u)}
	}

	ok := pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash)

	var lockedNow bool
	u, err = s.users.Update(ctx, u.ID, func(u *model.User) error {
		if s.guard.IsLockedOut(u) {
			return &errs.LockedOutError{Remaining: s.guard.Remaining(u)}
		}
		if ok {
			s.guard.RecordSuccess(u)
			return nil
		}
		lockedNow = s.guard.RecordFailure(u)
		return nil
	})
	if errors.Is(err, errs.ErrLockedOut) {
		s.metrics.Login(metrics.ResultLockedOut)
		return LoginResult{}, err
	}
	if err != nil {
		s.metrics.Login(metrics.ResultError)
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}

	if !ok {
		s.metrics.Login(metrics.ResultBadPassword)
		if lockedNow {
			s.metrics.Lockout()
			s.log.Warn("account locked",
				zap.Stringer("user_id", u.ID),
				zap.Int("failed_attempts", u.FailedLoginAttempts),
				zap.Duration("duration", s.guard.Policy().LockoutDuration))
			return LoginResult{}, &errs.LockedOutError{Remaining: s.guard.Remaining(u)}
		}
		return LoginResult{}, errs.ErrUnauthorized
	}

	tokens, err := s.issuePair(ctx, u)
	if err != nil {
		s.metrics.Login(metrics.ResultError)
		return LoginResult{}, err
	}
	s.metrics.Login(metrics.ResultOK)
	return LoginResult{Tokens: tokens, User: *u}, nil
}

// issuePair issues an access token and a fresh refresh token family head.
func (s *AuthServiceImpl) issuePair(ctx context.Context, u *model.User) (model.Tokens, error) {
	access, accessExp, err := s.access.IssueAccess(ctx, u)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("issue access token: %w", err)
	}
	raw, rt, err := s.issuer.IssueRefreshToken(u.ID)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := s.tokens.Create(ctx, rt); err != nil {
		return model.Tokens{}, fmt.Errorf("store refresh token: %w", err)
	}
	return model.Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: rt.ExpiresAt,
	}, nil
}

// Authenticate verifies the bearer token and returns its current subject.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, accessToken string) (*model.User, *token.Claims, error) {
	claims, err := s.issuer.Verify(accessToken)
	if err != nil {
		return nil, nil, errs.ErrUnauthorized
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return nil, nil, errs.ErrUnauthorized
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil, errs.ErrUnauthorized
	}
	if err != nil {
		return nil, nil, err
	}
	return u, claims, nil
}

// Unlock is the administrative override of a lockout.
func (s *AuthServiceImpl) Unlock(ctx context.Context, userID uuid.UUID) error {
	_, err := s.users.Update(ctx, userID, func(u *model.User) error {
		s.guard.Unlock(u)
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("account unlocked", zap.Stringer("user_id", userID))
	return nil
}

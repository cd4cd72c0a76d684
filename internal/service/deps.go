// Package service contains the authentication, session, access-control and
// password-reset application services.
package service

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/and161185/basejwt/internal/cache"
	"github.com/and161185/basejwt/internal/guard"
	"github.com/and161185/basejwt/internal/metrics"
	"github.com/and161185/basejwt/internal/repository"
	"github.com/and161185/basejwt/internal/token"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 8

// Deps bundles the collaborators shared by every service.
type Deps struct {
	Users  repository.UserRepository
	Roles  repository.RoleRepository
	Tokens repository.RefreshTokenRepository
	Resets repository.ResetTokenRepository

	Issuer *token.Issuer
	Guard  *guard.Guard
	Clock  clockwork.Clock

	Cache    cache.Client  // role privilege cache; nil means in-process
	CacheTTL time.Duration // TTL for cached privilege sets

	Metrics *metrics.Metrics // optional
	Log     *zap.Logger      // optional
}

func (d Deps) normalized() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Guard == nil {
		d.Guard = guard.New(guard.Policy{Threshold: 5, LockoutDuration: 15 * time.Minute}, d.Clock)
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = 5 * time.Minute
	}
	if d.Cache == nil {
		d.Cache = cache.NewMemory(d.CacheTTL)
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return d
}

var (
	_ AuthService    = (*AuthServiceImpl)(nil)
	_ AccessService  = (*AccessServiceImpl)(nil)
	_ RefreshService = (*RefreshServiceImpl)(nil)
	_ ResetService   = (*ResetServiceImpl)(nil)
)

// Services is the full set of wired services.
type Services struct {
	Auth    *AuthServiceImpl
	Access  *AccessServiceImpl
	Refresh *RefreshServiceImpl
	Reset   *ResetServiceImpl
}

// New wires every service over the same dependencies.
func New(d Deps) *Services {
	d = d.normalized()
	access := NewAccessService(d)
	refresh := NewRefreshService(d, access)
	return &Services{
		Auth:    NewAuthService(d, access),
		Access:  access,
		Refresh: refresh,
		Reset:   NewResetService(d, refresh),
	}
}

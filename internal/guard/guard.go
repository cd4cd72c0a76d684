// Package guard implements the failed-login counter and lockout state machine of a user.
//
// Guard only mutates the User it is given. Callers make the read-modify-write atomic
// (see repository.UserRepository.Update) and persist the result.
package guard

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/and161185/basejwt/internal/model"
)

// Policy configures the lockout threshold and duration.
type Policy struct {
	Threshold       int           // failures that trigger a lockout
	LockoutDuration time.Duration // how long a lockout lasts
}

// Guard applies Policy to users using the injected clock.
type Guard struct {
	policy Policy
	clock  clockwork.Clock
}

// New constructs a Guard. A nil clock means the real clock.
func New(p Policy, clock clockwork.Clock) *Guard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if p.Threshold < 1 {
		p.Threshold = 1
	}
	return &Guard{policy: p, clock: clock}
}

// Policy returns the configured policy.
func (g *Guard) Policy() Policy { return g.policy }

// IsLockedOut reports whether u has a lockout ending in the future.
func (g *Guard) IsLockedOut(u *model.User) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(g.clock.Now())
}

// Remaining returns the lockout time left, or 0.
func (g *Guard) Remaining(u *model.User) time.Duration {
	if !g.IsLockedOut(u) {
		return 0
	}
	return u.LockoutEnd.Sub(g.clock.Now())
}

// RecordFailure counts a failed attempt and reports whether it locked the account.
// A lapsed lockout is cleared first, so counting restarts from zero.
func (g *Guard) RecordFailure(u *model.User) bool {
	g.expire(u)
	if g.IsLockedOut(u) {
		return false
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts < g.policy.Threshold {
		return false
	}
	end := g.clock.Now().Add(g.policy.LockoutDuration)
	u.LockoutEnd = &end
	return true
}

// RecordSuccess resets the counter and clears any lockout.
func (g *Guard) RecordSuccess(u *model.User) { reset(u) }

// Unlock is the administrative override; same effect as RecordSuccess.
func (g *Guard) Unlock(u *model.User) { reset(u) }

func (g *Guard) expire(u *model.User) {
	if u.LockoutEnd != nil && !u.LockoutEnd.After(g.clock.Now()) {
		reset(u)
	}
}

func reset(u *model.User) {
	u.FailedLoginAttempts = 0
	u.LockoutEnd = nil
}

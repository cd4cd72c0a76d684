package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/model"
	"github.com/and161185/basejwt/internal/repository"
)

func TestReset_ConsumeExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "dana@clinic.org")

	tok, err := env.svc.Reset.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.IsUsed || !tok.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected token: %+v", tok)
	}

	if err := env.svc.Reset.Consume(ctx, tok.Token, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("other user: want ErrNotFound, got %v", err)
	}
	if err := env.svc.Reset.Consume(ctx, tok.Token, u.ID); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := env.svc.Reset.Consume(ctx, tok.Token, u.ID); !errors.Is(err, errs.ErrAlreadyUsed) {
		t.Fatalf("second Consume: want ErrAlreadyUsed, got %v", err)
	}
	if err := env.svc.Reset.Consume(ctx, "no-such-token", u.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown token: want ErrNotFound, got %v", err)
	}
}

func TestReset_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "dana@clinic.org")
	tok, _ := env.svc.Reset.RequestByEmail(ctx, "DANA@clinic.org")

	env.clock.Advance(time.Hour)
	if err := env.svc.Reset.Consume(ctx, tok.Token, u.ID); !errors.Is(err, errs.ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestReset_RequestUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Reset.RequestByEmail(context.Background(), "ghost@clinic.org"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestReset_ResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "dana@clinic.org")
	session := env.login(t, u.Email).Tokens.RefreshToken
	for i := 0; i < 5; i++ {
		_, _ = env.svc.Auth.Login(ctx, u.Email, "wrong-password")
	}
	tok, _ := env.svc.Reset.Issue(ctx, u.ID)

	const newPassword = "battery-staple"
	if err := env.svc.Reset.ResetPassword(ctx, u.ID, tok.Token, newPassword, "different"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("mismatch: want ErrValidation, got %v", err)
	}
	if err := env.svc.Reset.ResetPassword(ctx, u.ID, tok.Token, "short", "short"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("short: want ErrValidation, got %v", err)
	}
	if err := env.svc.Reset.ResetPassword(ctx, u.ID, tok.Token, newPassword, newPassword); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if err := env.svc.Reset.ResetPassword(ctx, u.ID, tok.Token, newPassword, newPassword); !errors.Is(err, errs.ErrAlreadyUsed) {
		t.Fatalf("reuse: want ErrAlreadyUsed, got %v", err)
	}

	if env.refreshRecord(t, session).IsActive(env.clock.Now()) {
		t.Fatalf("sessions must be revoked after a reset")
	}
	if _, err := env.svc.Auth.Login(ctx, u.Email, testPassword); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("old password: want ErrUnauthorized, got %v", err)
	}
	if _, err := env.svc.Auth.Login(ctx, u.Email, newPassword); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

// failingUsers fails every Update once armed.
type failingUsers struct {
	repository.UserRepository
	fail bool
}

func (r *failingUsers) Update(ctx context.Context, id uuid.UUID, fn func(*model.User) error) (*model.User, error) {
	if r.fail {
		return nil, errors.New("disk full")
	}
	return r.UserRepository.Update(ctx, id, fn)
}

func TestReset_ResetPassword_FailedWriteSpendsToken(t *testing.T) {
	users := &failingUsers{}
	env := newTestEnv(t, func(d *Deps) {
		users.UserRepository = d.Users
		d.Users = users
	})
	ctx := context.Background()
	u := env.register(t, "dana@clinic.org")
	session := env.login(t, u.Email).Tokens.RefreshToken
	tok, _ := env.svc.Reset.Issue(ctx, u.ID)

	const newPassword = "battery-staple"
	users.fail = true
	if err := env.svc.Reset.ResetPassword(ctx, u.ID, tok.Token, newPassword, newPassword); err == nil {
		t.Fatalf("want error from failed write")
	}
	users.fail = false

	stored, err := env.store.ResetTokens().GetByToken(ctx, tok.Token)
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}
	if !stored.IsUsed {
		t.Fatalf("token must stay spent after a failed write")
	}
	if !env.refreshRecord(t, session).IsActive(env.clock.Now()) {
		t.Fatalf("sessions must survive a failed reset")
	}
	if _, err := env.svc.Auth.Login(ctx, u.Email, testPassword); err != nil {
		t.Fatalf("old password must still work: %v", err)
	}
	if err := env.svc.Reset.ResetPassword(ctx, u.ID, tok.Token, newPassword, newPassword); !errors.Is(err, errs.ErrAlreadyUsed) {
		t.Fatalf("retry with spent token: want ErrAlreadyUsed, got %v", err)
	}

	fresh, _ := env.svc.Reset.Issue(ctx, u.ID)
	if err := env.svc.Reset.ResetPassword(ctx, u.ID, fresh.Token, newPassword, newPassword); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
}

func TestReset_ResetPassword_RejectsBeforeSpending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "dana@clinic.org")
	other := env.register(t, "sam@clinic.org")
	tok, _ := env.svc.Reset.Issue(ctx, u.ID)

	if err := env.svc.Reset.ResetPassword(ctx, other.ID, tok.Token, "battery-staple", "battery-staple"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("other user: want ErrNotFound, got %v", err)
	}
	stored, _ := env.store.ResetTokens().GetByToken(ctx, tok.Token)
	if stored.IsUsed {
		t.Fatalf("a rejected reset must not spend the token")
	}
}

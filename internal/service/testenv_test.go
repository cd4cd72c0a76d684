package service

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	pkgcrypto "github.com/and161185/basejwt/internal/crypto"
	"github.com/and161185/basejwt/internal/guard"
	"github.com/and161185/basejwt/internal/metrics"
	"github.com/and161185/basejwt/internal/model"
	"github.com/and161185/basejwt/internal/repository/memory"
	"github.com/and161185/basejwt/internal/token"
)

const (
	testPassword = "correct-horse"
	refreshTTL   = 24 * time.Hour
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *memory.Store
	clock  *clockwork.FakeClock
	issuer *token.Issuer
	deps   Deps
	svc    *Services
	role   *model.Role // default "Clinician" role holding ViewRecords
	view   *model.Privilege
}

func newTestEnv(t *testing.T, mutate ...func(d *Deps)) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store := memory.New(memory.WithClock(clock))
	signer := token.NewHS256Signer([]byte("0123456789abcdef0123456789abcdef"), 0, clock)
	issuer := token.NewIssuer(token.Policy{
		Issuer:     "test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: refreshTTL,
		ResetTTL:   time.Hour,
	}, signer, pkgcrypto.NewHMACHasher([]byte("pepper")), clock)
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	d := Deps{
		Users:   store.Users(),
		Roles:   store.Roles(),
		Tokens:  store.RefreshTokens(),
		Resets:  store.ResetTokens(),
		Issuer:  issuer,
		Guard:   guard.New(guard.Policy{Threshold: 5, LockoutDuration: 15 * time.Minute}, clock),
		Clock:   clock,
		Metrics: m,
		Log:     zaptest.NewLogger(t),
	}
	for _, fn := range mutate {
		fn(&d)
	}
	env := &testEnv{store: store, clock: clock, issuer: issuer, deps: d, svc: New(d)}

	ctx := context.Background()
	role, err := env.svc.Access.CreateRole(ctx, "Clinician", "CLN", "Clinical staff", true)
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	view, err := env.svc.Access.CreatePrivilege(ctx, "ViewRecords")
	if err != nil {
		t.Fatalf("CreatePrivilege: %v", err)
	}
	if err := env.svc.Access.GrantPrivilege(ctx, role.ID, view.ID); err != nil {
		t.Fatalf("GrantPrivilege: %v", err)
	}
	env.role, env.view = role, view
	return env
}

func userParams(email string) model.NewUserParams {
	return model.NewUserParams{
		FullName:       "Dana Reyes",
		PhoneNumber:    "071-234-5678",
		Email:          email,
		IdentityNumber: "123456789012",
		Address:        "1 Main St",
		DateOfBirth:    time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (e *testEnv) register(t *testing.T, email string) *model.User {
	t.Helper()
	u, err := e.svc.Auth.Register(context.Background(), userParams(email), testPassword)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u
}

func (e *testEnv) login(t *testing.T, email string) LoginResult {
	t.Helper()
	res, err := e.svc.Auth.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

func (e *testEnv) user(t *testing.T, u *model.User) *model.User {
	t.Helper()
	got, err := e.store.Users().GetByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return got
}

func (e *testEnv) refreshRecord(t *testing.T, raw string) *model.RefreshToken {
	t.Helper()
	rt, err := e.store.RefreshTokens().GetByHash(context.Background(), e.issuer.HashSecret(raw))
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	return rt
}

package model

import (
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/basejwt/internal/errs"
)

func validParams() NewUserParams {
	return NewUserParams{
		FullName:       "Ada Lovelace",
		PhoneNumber:    "0912-345 678",
		Email:          "Ada@Example.com",
		IdentityNumber: "123456789012",
		Address:        "12 St James's Square",
		DateOfBirth:    time.Date(1990, time.December, 10, 0, 0, 0, 0, time.UTC),
		RoleID:         2,
	}
}

func TestNewUser_Defaults(t *testing.T) {
	t.Parallel()

	u, err := NewUser(validParams(), []byte("hash"), []byte("salt"))
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if u.ID == uuid.Nil {
		t.Fatalf("id not generated")
	}
	if u.Email != "ada@example.com" {
		t.Fatalf("email not lower-cased: %q", u.Email)
	}
	if !u.IsActive || !u.NeedsVerification {
		t.Fatalf("want active user needing verification, got %+v", u)
	}
	if u.FailedLoginAttempts != 0 || u.LockoutEnd != nil {
		t.Fatalf("fresh user must not carry lockout state")
	}
}

func TestNewUser_Validation(t *testing.T) {
	t.Parallel()

	cases := map[string]func(p *NewUserParams){
		"full_name":       func(p *NewUserParams) { p.FullName = "A" },
		"phone_number":    func(p *NewUserParams) { p.PhoneNumber = "1912345678" },
		"email":           func(p *NewUserParams) { p.Email = "ada@@example.com" },
		"identity_number": func(p *NewUserParams) { p.IdentityNumber = "12345" },
		"address":         func(p *NewUserParams) { p.Address = "   " },
	}
	for field, mutate := range cases {
		p := validParams()
		mutate(&p)
		_, err := NewUser(p, []byte("hash"), nil)
		var ve *errs.ValidationError
		if !errors.As(err, &ve) || ve.Field != field {
			t.Fatalf("%s: want validation error on field, got %v", field, err)
		}
		if !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("%s: ValidationError must unwrap to ErrValidation", field)
		}
	}

	if _, err := NewUser(validParams(), nil, nil); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on empty password hash, got %v", err)
	}
}

func TestUser_UpdateAndAge(t *testing.T) {
	t.Parallel()

	u, _ := NewUser(validParams(), []byte("hash"), nil)
	blank := "  "
	addr := "New Address 1"
	u.Update(UserPatch{FullName: &blank, Address: &addr})
	if u.FullName != "Ada Lovelace" || u.Address != addr {
		t.Fatalf("patch applied wrongly: %+v", u)
	}

	if got := u.Age(time.Date(2020, time.December, 9, 0, 0, 0, 0, time.UTC)); got != 29 {
		t.Fatalf("age before birthday = %d", got)
	}
	if got := u.Age(time.Date(2020, time.December, 10, 0, 0, 0, 0, time.UTC)); got != 30 {
		t.Fatalf("age on birthday = %d", got)
	}
}

func TestRoleAndPrivilege_Invariants(t *testing.T) {
	t.Parallel()

	r, err := NewRole("Clinician", "CLN", "Clinical staff", false)
	if err != nil {
		t.Fatalf("NewRole: %v", err)
	}
	if err := r.Rename(""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on blank rename, got %v", err)
	}
	if r.Name != "Clinician" {
		t.Fatalf("failed rename must not change name")
	}
	if _, err := NewRole("x", " ", "d", false); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on blank code")
	}
	if _, err := NewRole("x", "c", "", false); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on blank description")
	}

	if _, err := NewPrivilege("\t"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on blank privilege")
	}
	p, _ := NewPrivilege("ViewRecords")
	r.Privileges = []Privilege{*p, {Name: "EditRecords"}, {Name: "ViewRecords"}}
	set := r.PrivilegeSet()
	if len(set) != 2 || !set.Has("ViewRecords") || !set.Has("EditRecords") {
		t.Fatalf("unexpected set: %v", set.Names())
	}
	if names := set.Names(); names[0] != "EditRecords" {
		t.Fatalf("names not sorted: %v", names)
	}
}

func TestRefreshToken_StateBoundaries(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rt := &RefreshToken{ID: uuid.Must(uuid.NewV4()), ExpiresAt: now}

	if rt.IsActive(now) || !rt.IsExpired(now) {
		t.Fatalf("expiresAt == now must be expired")
	}
	if !rt.IsActive(now.Add(-time.Nanosecond)) {
		t.Fatalf("must be active just before expiry")
	}
	if rt.State(now) != TokenExpired {
		t.Fatalf("state = %v", rt.State(now))
	}

	next := uuid.Must(uuid.NewV4())
	if !rt.Revoke(now.Add(-time.Minute), &next) {
		t.Fatalf("first revoke must change state")
	}
	if rt.Revoke(now, nil) {
		t.Fatalf("second revoke must be a no-op")
	}
	if !rt.RevokedAt.Equal(now.Add(-time.Minute)) || *rt.ReplacedByTokenID != next {
		t.Fatalf("second revoke overwrote state: %+v", rt)
	}
	if rt.State(now.Add(-time.Hour)) != TokenRevoked {
		t.Fatalf("revocation must win over activity")
	}
}

func TestPasswordResetToken_ConsumeOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	owner := uuid.Must(uuid.NewV4())
	tok := &PasswordResetToken{UserID: owner, Token: "t", ExpiresAt: now.Add(time.Hour)}

	if err := tok.Consume(uuid.Must(uuid.NewV4()), now); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("foreign user: want ErrNotFound, got %v", err)
	}
	if err := tok.Consume(owner, now); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := tok.Consume(owner, now); !errors.Is(err, errs.ErrAlreadyUsed) {
		t.Fatalf("second consume: want ErrAlreadyUsed, got %v", err)
	}

	expired := &PasswordResetToken{UserID: owner, ExpiresAt: now}
	if err := expired.Consume(owner, now); !errors.Is(err, errs.ErrExpired) {
		t.Fatalf("want ErrExpired at boundary, got %v", err)
	}
	if expired.IsUsed {
		t.Fatalf("failed consume must not flip IsUsed")
	}
}

func TestTokens_ExpiresInSeconds(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tk := Tokens{AccessExpiresAt: now.Add(90 * time.Second)}
	if got := tk.ExpiresInSeconds(now); got != 90 {
		t.Fatalf("got %d", got)
	}
	if got := tk.ExpiresInSeconds(now.Add(time.Hour)); got != 0 {
		t.Fatalf("expired pair must report 0, got %d", got)
	}
}

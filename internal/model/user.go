package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/basejwt/internal/errs"
)

// User represents an account. Lockout fields are mutated only through guard.Guard.
type User struct {
	ID             uuid.UUID // PK
	FullName       string
	Email          string // unique, lower-cased
	PhoneNumber    string
	IdentityNumber string
	Address        string
	Gender         bool
	DateOfBirth    time.Time
	RoleID         int // FK -> roles.id

	PwdHash  []byte // Argon2id(password, SaltAuth)
	SaltAuth []byte // per-user auth salt

	IsActive          bool
	IsPatient         bool
	NeedsVerification bool

	FailedLoginAttempts int        // >= 0
	LockoutEnd          *time.Time // nil when not locked
	CreatedAt           time.Time
}

// NewUserParams holds the profile data required to register a user.
type NewUserParams struct {
	FullName       string
	PhoneNumber    string
	Email          string
	IdentityNumber string
	Address        string
	Gender         bool
	DateOfBirth    time.Time
	RoleID         int
	IsPatient      bool
}

// NewUser validates params and builds an active user that still needs verification.
func NewUser(p NewUserParams, pwdHash, saltAuth []byte) (*User, error) {
	if err := validateFullName(p.FullName); err != nil {
		return nil, err
	}
	if err := validatePhone(p.PhoneNumber); err != nil {
		return nil, err
	}
	if err := validateEmail(p.Email); err != nil {
		return nil, err
	}
	if err := validateIdentityNumber(p.IdentityNumber); err != nil {
		return nil, err
	}
	if isBlank(p.Address) {
		return nil, errs.Invalid("address", "must not be blank")
	}
	if len(pwdHash) == 0 {
		return nil, errs.Invalid("password_hash", "must not be empty")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &User{
		ID:                id,
		FullName:          p.FullName,
		Email:             strings.ToLower(p.Email),
		PhoneNumber:       p.PhoneNumber,
		IdentityNumber:    p.IdentityNumber,
		Address:           p.Address,
		Gender:            p.Gender,
		DateOfBirth:       p.DateOfBirth,
		RoleID:            p.RoleID,
		PwdHash:           pwdHash,
		SaltAuth:          saltAuth,
		IsActive:          true,
		IsPatient:         p.IsPatient,
		NeedsVerification: true,
	}, nil
}

// UserPatch lists optional profile changes; nil or blank values are ignored.
type UserPatch struct {
	FullName       *string
	PhoneNumber    *string
	Email          *string
	Gender         *bool
	IdentityNumber *string
	DateOfBirth    *time.Time
	Address        *string
}

// Update applies the non-blank fields of p.
func (u *User) Update(p UserPatch) {
	if p.FullName != nil && !isBlank(*p.FullName) {
		u.FullName = *p.FullName
	}
	if p.PhoneNumber != nil && !isBlank(*p.PhoneNumber) {
		u.PhoneNumber = *p.PhoneNumber
	}
	if p.Email != nil && !isBlank(*p.Email) {
		u.Email = strings.ToLower(*p.Email)
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.IdentityNumber != nil && !isBlank(*p.IdentityNumber) {
		u.IdentityNumber = *p.IdentityNumber
	}
	if p.DateOfBirth != nil {
		u.DateOfBirth = *p.DateOfBirth
	}
	if p.Address != nil && !isBlank(*p.Address) {
		u.Address = *p.Address
	}
}

// Age returns full years between DateOfBirth and now.
func (u *User) Age(now time.Time) int {
	dob := u.DateOfBirth
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

func validateFullName(name string) error {
	switch n := len([]rune(name)); {
	case n == 0:
		return errs.Invalid("full_name", "must not be empty")
	case n < 2:
		return errs.Invalid("full_name", "must be at least 2 characters")
	case n > 100:
		return errs.Invalid("full_name", "must not exceed 100 characters")
	}
	return nil
}

func validatePhone(phone string) error {
	if phone == "" {
		return errs.Invalid("phone_number", "must not be empty")
	}
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(phone)
	if len(cleaned) != 10 || cleaned[0] != '0' || !allDigits(cleaned) {
		return errs.Invalid("phone_number", "must be 10 digits starting with 0")
	}
	return nil
}

func validateEmail(email string) error {
	if isBlank(email) {
		return errs.Invalid("email", "must not be empty")
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || isBlank(parts[0]) || isBlank(parts[1]) || !strings.Contains(email, ".") {
		return errs.Invalid("email", "invalid format")
	}
	return nil
}

func validateIdentityNumber(id string) error {
	if isBlank(id) {
		return errs.Invalid("identity_number", "must not be empty")
	}
	if len(id) != 12 || !allDigits(id) {
		return errs.Invalid("identity_number", "must be exactly 12 digits")
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

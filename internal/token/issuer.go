package token

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/and161185/basejwt/internal/crypto"
	"github.com/and161185/basejwt/internal/model"
)

// Policy holds token lifetimes and the issuer name.
type Policy struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

// Issuer creates credentials. It never persists anything.
type Issuer struct {
	policy Policy
	signer Signer
	hasher crypto.Hasher
	clock  clockwork.Clock
	rand   io.Reader
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithRandom overrides the entropy source (tests only).
func WithRandom(r io.Reader) Option { return func(i *Issuer) { i.rand = r } }

// NewIssuer constructs an Issuer. A nil clock means the real clock.
func NewIssuer(p Policy, signer Signer, hasher crypto.Hasher, clock clockwork.Clock, opts ...Option) *Issuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	i := &Issuer{policy: p, signer: signer, hasher: hasher, clock: clock, rand: rand.Reader}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IssueAccessToken signs a short-lived token carrying identity, role code and privileges.
func (i *Issuer) IssueAccessToken(u *model.User, roleCode string, privileges model.PrivilegeSet) (string, time.Time, error) {
	now := i.clock.Now()
	exp := now.Add(i.policy.AccessTTL)
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	c := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.policy.Issuer,
			Subject:   u.ID.String(),
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:      u.Email,
		Role:       roleCode,
		Privileges: privileges.Names(),
	}
	signed, err := i.signer.Sign(c)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefreshToken draws a fresh secret for userID. The raw secret is returned once;
// the entity carries only its hash.
func (i *Issuer) IssueRefreshToken(userID uuid.UUID) (string, *model.RefreshToken, error) {
	raw, err := crypto.NewOpaqueSecret(i.rand)
	if err != nil {
		return "", nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", nil, err
	}
	now := i.clock.Now()
	return raw, &model.RefreshToken{
		ID:        id,
		UserID:    userID,
		TokenHash: i.hasher.Hash(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(i.policy.RefreshTTL),
	}, nil
}

// IssueResetToken creates an unused password-reset token for userID.
func (i *Issuer) IssueResetToken(userID uuid.UUID) (*model.PasswordResetToken, error) {
	raw, err := crypto.NewOpaqueSecret(i.rand)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &model.PasswordResetToken{
		ID:        id,
		UserID:    userID,
		Token:     raw,
		ExpiresAt: i.clock.Now().Add(i.policy.ResetTTL),
	}, nil
}

// HashSecret returns the stored form of a raw refresh secret.
func (i *Issuer) HashSecret(raw string) string { return i.hasher.Hash(raw) }

// Verify checks an access token issued by this Issuer.
func (i *Issuer) Verify(token string) (*Claims, error) { return i.signer.Verify(token) }

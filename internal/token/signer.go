// Package token issues access tokens, refresh tokens and password-reset tokens.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// Claims is the access-token claim set.
type Claims struct {
	jwt.RegisteredClaims
	Email      string   `json:"email,omitempty"`
	Role       string   `json:"role"`
	Privileges []string `json:"privileges,omitempty"`
}

// Signer produces and verifies signed access tokens.
type Signer interface {
	Sign(c *Claims) (string, error)
	Verify(token string) (*Claims, error)
}

// HS256Signer signs with a shared HMAC key.
type HS256Signer struct {
	key    []byte
	leeway time.Duration
	clock  clockwork.Clock
}

// NewHS256Signer constructs a signer. A nil clock means the real clock.
func NewHS256Signer(key []byte, leeway time.Duration, clock clockwork.Clock) *HS256Signer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HS256Signer{key: key, leeway: leeway, clock: clock}
}

// Sign returns the compact JWS for c.
func (s *HS256Signer) Sign(c *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
}

// Verify checks signature, algorithm and time claims.
func (s *HS256Signer) Verify(token string) (*Claims, error) {
	var c Claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return &c, nil
}

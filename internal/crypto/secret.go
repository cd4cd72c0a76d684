package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
)

// SecretLen is the number of random bytes behind every opaque token.
const SecretLen = 32

// NewOpaqueSecret reads SecretLen bytes from src and encodes them base64url without padding.
func NewOpaqueSecret(src io.Reader) (string, error) {
	b := make([]byte, SecretLen)
	if _, err := io.ReadFull(src, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hasher maps a raw secret to its stored, irreversible form. Must be deterministic.
type Hasher interface {
	Hash(secret string) string
}

// HMACHasher hashes secrets with HMAC-SHA256 under a server-side pepper.
// A nil or empty key degrades to plain SHA-256.
type HMACHasher struct{ key []byte }

// NewHMACHasher constructs a hasher keyed by pepper.
func NewHMACHasher(pepper []byte) *HMACHasher {
	return &HMACHasher{key: append([]byte(nil), pepper...)}
}

// Hash returns the lowercase hex digest of secret.
func (h *HMACHasher) Hash(secret string) string {
	if len(h.key) == 0 {
		sum := sha256.Sum256([]byte(secret))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, h.key)
	m.Write([]byte(secret))
	return hex.EncodeToString(m.Sum(nil))
}

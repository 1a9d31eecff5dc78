package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// secretBytes is the entropy of a refresh secret: 64 bytes (512 bits).
const secretBytes = 64

// Hasher generates opaque refresh secrets and computes the one-way digests
// under which they are stored. Only the digest ever reaches the database.
type Hasher interface {
	NewSecret() (string, error)
	Digest(secret string) string
}

type sha256Hasher struct{}

// NewHasher creates a Hasher backed by crypto/rand and SHA-256.
func NewHasher() Hasher {
	return sha256Hasher{}
}

// NewSecret returns a fresh high-entropy secret, base64url-encoded without
// padding so it is safe in headers and query strings.
func (sha256Hasher) NewSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh secret: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Digest returns the hex-encoded SHA-256 of the secret. Deterministic, so
// records can be looked up by digest without retaining the secret.
func (sha256Hasher) Digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

package models

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories for exact-match lookups that match
// no record. Services translate it into their own error kinds.
var ErrNotFound = errors.New("record not found")

// RefreshTokenRepository is the per-record contract of the refresh token
// store. GetByDigest is exact-match only. MarkRevoked is idempotent: revoking
// an already-revoked or unknown digest is a no-op, not an error.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByDigest(ctx context.Context, digest string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, digest string, at time.Time) error
	Touch(ctx context.Context, digest string, at time.Time) error
	CleanExpired(ctx context.Context) (int64, error)
}

// RefreshTokenStore adds transactional access on top of the repository
// contract. The repository passed to the InTx callback locks rows it reads,
// so a read-validate-write sequence on one digest is serialized per record.
type RefreshTokenStore interface {
	RefreshTokenRepository

	InTx(ctx context.Context, fn func(RefreshTokenRepository) error) error
	RunMigrations(migrationsPath string) error
	Close() error
}

type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

package cache

import (
	"context"
	"time"
)

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Increment(ctx context.Context, key string) (int64, error)
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
	Ping(ctx context.Context) error
}

// LoginGuard tracks login activity per user so the HTTP layer can lock out
// brute-force attempts and spot logins from previously unseen addresses.
type LoginGuard interface {
	RecordAttempt(ctx context.Context, username, ipAddress string) (int64, error)
	RecordFailure(ctx context.Context, username string) (int64, error)
	ClearFailures(ctx context.Context, username string) error
	BlockUser(ctx context.Context, username string, duration time.Duration) error
	IsUserBlocked(ctx context.Context, username string) (bool, error)
}

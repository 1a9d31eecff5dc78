package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/nmorozov/authd/internal/logger"
)

const (
	// attemptWindow is how long a user+IP pair counts as recently seen.
	attemptWindow = 24 * time.Hour
	// failureWindow is the sliding window for failed login counting.
	failureWindow = 15 * time.Minute
)

type loginGuard struct {
	cache  Cache
	logger logger.Logger
}

// NewLoginGuard creates a LoginGuard on top of the shared cache.
func NewLoginGuard(cache Cache, l logger.Logger) LoginGuard {
	return &loginGuard{
		cache:  cache,
		logger: l,
	}
}

// RecordAttempt counts a login from a user+IP pair. A returned count of 1
// means this address has not been seen for the user within the window.
func (g *loginGuard) RecordAttempt(ctx context.Context, username, ipAddress string) (int64, error) {
	key := fmt.Sprintf("%s%s:%s", IPAttemptPrefix, username, ipAddress)

	count, err := g.cache.IncrementWithTTL(ctx, key, attemptWindow)
	if err != nil {
		g.logger.Error("Failed to record login attempt",
			logger.String("username", username),
			logger.String("ip", ipAddress),
			logger.Error(err))
		return 0, fmt.Errorf("failed to record login attempt: %w", err)
	}

	return count, nil
}

// RecordFailure counts a failed login for the user and returns the running total.
func (g *loginGuard) RecordFailure(ctx context.Context, username string) (int64, error) {
	key := LoginFailurePrefix + username

	count, err := g.cache.IncrementWithTTL(ctx, key, failureWindow)
	if err != nil {
		g.logger.Error("Failed to record login failure",
			logger.String("username", username),
			logger.Error(err))
		return 0, fmt.Errorf("failed to record login failure: %w", err)
	}

	return count, nil
}

// ClearFailures resets the failure counter after a successful login.
func (g *loginGuard) ClearFailures(ctx context.Context, username string) error {
	key := LoginFailurePrefix + username

	if err := g.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to clear login failures: %w", err)
	}
	return nil
}

// BlockUser locks the user out of login for the given duration.
func (g *loginGuard) BlockUser(ctx context.Context, username string, duration time.Duration) error {
	key := UserBlockPrefix + username

	err := g.cache.Set(ctx, key, "blocked", duration)
	if err != nil {
		g.logger.Error("Failed to block user",
			logger.String("username", username),
			logger.Error(err))
		return fmt.Errorf("failed to block user: %w", err)
	}

	g.logger.Warn("User blocked",
		logger.String("username", username),
		logger.String("duration", duration.String()))
	return nil
}

// IsUserBlocked checks whether the user is currently locked out.
func (g *loginGuard) IsUserBlocked(ctx context.Context, username string) (bool, error) {
	key := UserBlockPrefix + username

	exists, err := g.cache.Exists(ctx, key)
	if err != nil {
		g.logger.Error("Failed to check user block status",
			logger.String("username", username),
			logger.Error(err))
		return false, fmt.Errorf("failed to check user block status: %w", err)
	}

	return exists, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nmorozov/authd/internal/config"
	"github.com/nmorozov/authd/internal/logger"
	"github.com/nmorozov/authd/internal/repository/models"
	"github.com/nmorozov/authd/internal/token"
)

var (
	// ErrInvalidRefreshToken is returned when a presented secret matches no stored digest.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRevokedRefreshToken is returned when the matching record has been revoked.
	ErrRevokedRefreshToken = errors.New("refresh token revoked")

	// ErrExpiredRefreshToken is returned when the matching record is past its expiry.
	ErrExpiredRefreshToken = errors.New("refresh token expired")

	// ErrUserNotFound is returned when a refresh token points to a user that no longer exists.
	ErrUserNotFound = errors.New("user not found")
)

// TokenService owns the refresh token lifecycle: issuance, validation-on-use,
// and revocation. A record stays usable for refresh while it is neither
// revoked nor expired; the same record is reused until then (no rotation on
// refresh), with last_used_at stamped on every successful use.
type TokenService struct {
	store  models.RefreshTokenStore
	users  models.UserRepository
	codec  token.Codec
	hasher token.Hasher
	ttl    time.Duration
	l      logger.Logger
	now    func() time.Time
}

// NewTokenService wires the lifecycle service with its collaborators.
func NewTokenService(
	store models.RefreshTokenStore,
	users models.UserRepository,
	codec token.Codec,
	hasher token.Hasher,
	cfg config.JWTConfig,
	l logger.Logger,
) *TokenService {
	return &TokenService{
		store:  store,
		users:  users,
		codec:  codec,
		hasher: hasher,
		ttl:    time.Duration(cfg.RefreshTokenTTL),
		l:      l,
		now:    time.Now,
	}
}

// Issue creates a refresh token record for the user's session and returns the
// plain secret. The secret is never stored and cannot be retrieved again;
// only its digest is persisted.
func (s *TokenService) Issue(ctx context.Context, user *models.User, sessionID string) (string, error) {
	secret, err := s.hasher.NewSecret()
	if err != nil {
		return "", err
	}

	record := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: s.hasher.Digest(secret),
		SessionID: sessionID,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	s.l.Info("Refresh token issued",
		logger.String("username", user.Username),
		logger.String("session_id", sessionID))
	return secret, nil
}

// Refresh exchanges a still-active refresh secret for a new access token.
// The lookup, state checks, usage stamp, and user reload run inside one
// transaction with the record row locked, so concurrent attempts with the
// same secret are serialized.
func (s *TokenService) Refresh(ctx context.Context, secret string) (string, error) {
	digest := s.hasher.Digest(secret)

	var access string
	err := s.store.InTx(ctx, func(repo models.RefreshTokenRepository) error {
		record, err := repo.GetByDigest(ctx, digest)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}

		now := s.now()
		if record.Revoked {
			return ErrRevokedRefreshToken
		}
		if !record.ExpiresAt.After(now) {
			return ErrExpiredRefreshToken
		}

		// Reload the owning user instead of trusting anything cached with
		// the record.
		user, err := s.users.GetByID(ctx, record.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if err := repo.Touch(ctx, digest, now); err != nil {
			return err
		}

		access, err = s.codec.Issue(user.Username, user.Role)
		if err != nil {
			return err
		}

		s.l.Info("Access token refreshed",
			logger.String("username", user.Username),
			logger.String("session_id", record.SessionID))
		return nil
	})
	if err != nil {
		s.l.Debug("Refresh rejected", logger.Error(err))
		return "", err
	}

	return access, nil
}

// Revoke invalidates the record matching the secret, if any. Unknown secrets
// and already-revoked records are silent no-ops so the call leaks nothing
// about whether a token ever existed.
func (s *TokenService) Revoke(ctx context.Context, secret string) error {
	digest := s.hasher.Digest(secret)

	return s.store.InTx(ctx, func(repo models.RefreshTokenRepository) error {
		return repo.MarkRevoked(ctx, digest, s.now())
	})
}

// CleanExpired removes records past their expiry. Retention is not part of
// the lifecycle rules; this is housekeeping for an external scheduler.
func (s *TokenService) CleanExpired(ctx context.Context) (int64, error) {
	return s.store.CleanExpired(ctx)
}

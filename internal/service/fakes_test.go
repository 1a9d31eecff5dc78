package service

import (
	"context"
	"sync"
	"time"

	"github.com/nmorozov/authd/internal/logger"
	"github.com/nmorozov/authd/internal/repository/models"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...logger.Field)  {}
func (m *mockLogger) Info(msg string, fields ...logger.Field)   {}
func (m *mockLogger) Warn(msg string, fields ...logger.Field)   {}
func (m *mockLogger) Error(msg string, fields ...logger.Field)  {}
func (m *mockLogger) Fatal(msg string, fields ...logger.Field)  {}
func (m *mockLogger) Panic(msg string, fields ...logger.Field)  {}
func (m *mockLogger) With(fields ...logger.Field) logger.Logger { return m }
func (m *mockLogger) Sync() error                               { return nil }
func (m *mockLogger) SetLevel(level logger.Level)               {}

// fakeStore is an in-memory RefreshTokenStore. InTx holds the store mutex for
// the whole callback, which mirrors the row-lock serialization of the real
// store closely enough for lifecycle tests.
type fakeStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tokens: make(map[string]*models.RefreshToken)}
}

func (s *fakeStore) InTx(ctx context.Context, fn func(models.RefreshTokenRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(fakeTxRepo{s})
}

func (s *fakeStore) RunMigrations(string) error { return nil }
func (s *fakeStore) Close() error               { return nil }

func (s *fakeStore) Create(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(token)
}

func (s *fakeStore) GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(digest)
}

func (s *fakeStore) MarkRevoked(ctx context.Context, digest string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markRevokedLocked(digest, at)
}

func (s *fakeStore) Touch(ctx context.Context, digest string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchLocked(digest, at)
}

func (s *fakeStore) CleanExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	now := time.Now()
	for digest, token := range s.tokens {
		if token.ExpiresAt.Before(now) {
			delete(s.tokens, digest)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *fakeStore) record(digest string) *models.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.tokens[digest]; ok {
		copied := *token
		return &copied
	}
	return nil
}

func (s *fakeStore) createLocked(token *models.RefreshToken) error {
	s.nextID++
	token.ID = s.nextID
	token.CreatedAt = time.Now()
	copied := *token
	s.tokens[token.TokenHash] = &copied
	return nil
}

func (s *fakeStore) getLocked(digest string) (*models.RefreshToken, error) {
	token, ok := s.tokens[digest]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *token
	return &copied, nil
}

func (s *fakeStore) markRevokedLocked(digest string, at time.Time) error {
	token, ok := s.tokens[digest]
	if !ok || token.Revoked {
		return nil
	}
	token.Revoked = true
	token.RevokedAt = &at
	return nil
}

func (s *fakeStore) touchLocked(digest string, at time.Time) error {
	token, ok := s.tokens[digest]
	if !ok {
		return models.ErrNotFound
	}
	token.LastUsedAt = &at
	return nil
}

// fakeTxRepo is the transaction-scoped view handed to InTx callbacks. The
// store mutex is already held, so methods call the locked helpers directly.
type fakeTxRepo struct{ s *fakeStore }

func (r fakeTxRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	return r.s.createLocked(token)
}

func (r fakeTxRepo) GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	return r.s.getLocked(digest)
}

func (r fakeTxRepo) MarkRevoked(ctx context.Context, digest string, at time.Time) error {
	return r.s.markRevokedLocked(digest, at)
}

func (r fakeTxRepo) Touch(ctx context.Context, digest string, at time.Time) error {
	return r.s.touchLocked(digest, at)
}

func (r fakeTxRepo) CleanExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

type fakeUserRepo struct {
	mu     sync.Mutex
	byID   map[int64]*models.User
	nextID int64
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[int64]*models.User)}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	copied := *user
	r.byID[user.ID] = &copied
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byID {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeUserRepo) delete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nmorozov/authd/internal/cache"
	"github.com/nmorozov/authd/internal/config"
	"github.com/nmorozov/authd/internal/logger"
	"github.com/nmorozov/authd/internal/models"
	repomodels "github.com/nmorozov/authd/internal/repository/models"
	"github.com/nmorozov/authd/internal/service"
	"github.com/nmorozov/authd/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// In-memory store and user repository backing the full handler stack.

type memStore struct {
	mu     sync.Mutex
	tokens map[string]*repomodels.RefreshToken
	nextID int
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]*repomodels.RefreshToken)}
}

func (s *memStore) InTx(ctx context.Context, fn func(repomodels.RefreshTokenRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(memTx{s})
}

func (s *memStore) RunMigrations(string) error { return nil }
func (s *memStore) Close() error               { return nil }

func (s *memStore) Create(ctx context.Context, t *repomodels.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(t)
}

func (s *memStore) GetByDigest(ctx context.Context, d string) (*repomodels.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(d)
}

func (s *memStore) MarkRevoked(ctx context.Context, d string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoke(d, at)
}

func (s *memStore) Touch(ctx context.Context, d string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touch(d, at)
}

func (s *memStore) CleanExpired(ctx context.Context) (int64, error) { return 0, nil }

func (s *memStore) create(t *repomodels.RefreshToken) error {
	s.nextID++
	t.ID = s.nextID
	t.CreatedAt = time.Now()
	copied := *t
	s.tokens[t.TokenHash] = &copied
	return nil
}

func (s *memStore) get(d string) (*repomodels.RefreshToken, error) {
	t, ok := s.tokens[d]
	if !ok {
		return nil, repomodels.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *memStore) revoke(d string, at time.Time) error {
	if t, ok := s.tokens[d]; ok && !t.Revoked {
		t.Revoked = true
		t.RevokedAt = &at
	}
	return nil
}

func (s *memStore) touch(d string, at time.Time) error {
	t, ok := s.tokens[d]
	if !ok {
		return repomodels.ErrNotFound
	}
	t.LastUsedAt = &at
	return nil
}

type memTx struct{ s *memStore }

func (r memTx) Create(ctx context.Context, t *repomodels.RefreshToken) error { return r.s.create(t) }
func (r memTx) GetByDigest(ctx context.Context, d string) (*repomodels.RefreshToken, error) {
	return r.s.get(d)
}
func (r memTx) MarkRevoked(ctx context.Context, d string, at time.Time) error {
	return r.s.revoke(d, at)
}
func (r memTx) Touch(ctx context.Context, d string, at time.Time) error { return r.s.touch(d, at) }
func (r memTx) CleanExpired(ctx context.Context) (int64, error)         { return 0, nil }

type memUsers struct {
	mu     sync.Mutex
	byID   map[int64]*repomodels.User
	nextID int64
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[int64]*repomodels.User)}
}

func (r *memUsers) Create(ctx context.Context, u *repomodels.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	u.ID = r.nextID
	u.CreatedAt = time.Now()
	copied := *u
	r.byID[u.ID] = &copied
	return nil
}

func (r *memUsers) GetByID(ctx context.Context, id int64) (*repomodels.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repomodels.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memUsers) GetByUsername(ctx context.Context, username string) (*repomodels.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repomodels.ErrNotFound
}

// fakeGuard tracks calls in memory; blocked controls IsUserBlocked.
type fakeGuard struct {
	mu       sync.Mutex
	attempts map[string]int64
	failures map[string]int64
	blocked  map[string]bool
}

var _ cache.LoginGuard = (*fakeGuard)(nil)

func newFakeGuard() *fakeGuard {
	return &fakeGuard{
		attempts: make(map[string]int64),
		failures: make(map[string]int64),
		blocked:  make(map[string]bool),
	}
}

func (g *fakeGuard) RecordAttempt(ctx context.Context, username, ip string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts[username+":"+ip]++
	return g.attempts[username+":"+ip], nil
}

func (g *fakeGuard) RecordFailure(ctx context.Context, username string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[username]++
	return g.failures[username], nil
}

func (g *fakeGuard) ClearFailures(ctx context.Context, username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, username)
	return nil
}

func (g *fakeGuard) BlockUser(ctx context.Context, username string, d time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[username] = true
	return nil
}

func (g *fakeGuard) IsUserBlocked(ctx context.Context, username string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked[username], nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) NotifyNewIP(ctx context.Context, username, ip string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, username+"@"+ip)
}

type serverFixture struct {
	handler  http.Handler
	guard    *fakeGuard
	notifier *fakeNotifier
	codec    token.Codec
}

func setupServer(t *testing.T) *serverFixture {
	cfg := config.JWTConfig{
		Issuer:          "authd-test",
		AccessTokenTTL:  config.Duration(15 * time.Minute),
		RefreshTokenTTL: config.Duration(7 * 24 * time.Hour),
		SecretKey:       "test-secret-key",
	}

	l := &mockLogger{}
	store := newMemStore()
	users := newMemUsers()
	codec := token.NewCodec(cfg)
	tokens := service.NewTokenService(store, users, codec, token.NewHasher(), cfg, l)
	userSvc := service.NewUserService(users, tokens, codec, l)
	guard := newFakeGuard()
	notifier := &fakeNotifier{}

	srv := New(userSvc, tokens, codec, guard, notifier, l)

	return &serverFixture{
		handler:  srv.Routes(),
		guard:    guard,
		notifier: notifier,
		codec:    codec,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) register(t *testing.T, username, password string) {
	rec := f.do(t, http.MethodPost, "/api/auth/register", models.RegisterReq{Username: username, Password: password}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func (f *serverFixture) login(t *testing.T, username, password string) models.LoginRes {
	rec := f.do(t, http.MethodPost, "/api/auth/login", models.LoginReq{Username: username, Password: password}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.LoginRes
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res
}

func TestHandleRegisterAndLogin(t *testing.T) {
	f := setupServer(t)

	f.register(t, "alice", "s3cret")
	res := f.login(t, "alice", "s3cret")

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	claims, err := f.codec.Validate(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	// First login from this address reports a new-IP event
	assert.Len(t, f.notifier.events, 1)
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	f := setupServer(t)
	f.register(t, "alice", "s3cret")

	rec := f.do(t, http.MethodPost, "/api/auth/login", models.LoginReq{Username: "alice", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unknown user gets the exact same answer
	rec2 := f.do(t, http.MethodPost, "/api/auth/login", models.LoginReq{Username: "nobody", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
	assert.Equal(t, rec.Body.String(), rec2.Body.String())
}

func TestHandleLoginBlockedUser(t *testing.T) {
	f := setupServer(t)
	f.register(t, "alice", "s3cret")
	f.guard.blocked["alice"] = true

	rec := f.do(t, http.MethodPost, "/api/auth/login", models.LoginReq{Username: "alice", Password: "s3cret"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleRefresh(t *testing.T) {
	f := setupServer(t)
	f.register(t, "alice", "s3cret")
	pair := f.login(t, "alice", "s3cret")

	rec := f.do(t, http.MethodPost, "/api/auth/refresh", models.RefreshReq{RefreshToken: pair.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.RefreshRes
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))

	claims, err := f.codec.Validate(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestHandleRefreshGenericRejection(t *testing.T) {
	f := setupServer(t)
	f.register(t, "alice", "s3cret")
	pair := f.login(t, "alice", "s3cret")

	// Revoke, then compare the rejection bodies for a revoked secret and a
	// never-issued one: they must be indistinguishable to the caller.
	rec := f.do(t, http.MethodPost, "/api/auth/revoke", models.RevokeReq{RefreshToken: pair.RefreshToken}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	revoked := f.do(t, http.MethodPost, "/api/auth/refresh", models.RefreshReq{RefreshToken: pair.RefreshToken}, nil)
	unknown := f.do(t, http.MethodPost, "/api/auth/refresh", models.RefreshReq{RefreshToken: "never-issued"}, nil)

	assert.Equal(t, http.StatusUnauthorized, revoked.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, revoked.Body.String(), unknown.Body.String())
}

func TestHandleRevokeIdempotent(t *testing.T) {
	f := setupServer(t)
	f.register(t, "alice", "s3cret")
	pair := f.login(t, "alice", "s3cret")

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/auth/revoke", models.RevokeReq{RefreshToken: pair.RefreshToken}, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	// Revoking a secret that never existed also succeeds
	rec := f.do(t, http.MethodPost, "/api/auth/revoke", models.RevokeReq{RefreshToken: "never-issued"}, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleMe(t *testing.T) {
	f := setupServer(t)
	f.register(t, "alice", "s3cret")
	pair := f.login(t, "alice", "s3cret")

	// Without a token the policy gate rejects
	rec := f.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = f.do(t, http.MethodGet, "/api/auth/me", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.MeRes
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "alice", res.Username)
	assert.Equal(t, repomodels.RoleUser, res.Role)
}

func TestHandleBadRequestBodies(t *testing.T) {
	f := setupServer(t)

	for _, path := range []string{"/api/auth/register", "/api/auth/login", "/api/auth/refresh", "/api/auth/revoke"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

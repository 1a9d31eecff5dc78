package server

import (
	"net/http"
	"time"

	"github.com/nmorozov/authd/internal/cache"
	"github.com/nmorozov/authd/internal/logger"
	"github.com/nmorozov/authd/internal/middleware"
	"github.com/nmorozov/authd/internal/service"
	"github.com/nmorozov/authd/internal/token"
	"github.com/nmorozov/authd/internal/webhook"
)

// Lockout policy for repeated login failures.
const (
	maxLoginFailures = 10
	lockoutDuration  = 15 * time.Minute
)

// Server holds the HTTP surface of the auth service. Handlers translate JSON
// bodies to service calls; all token business rules live in the services.
type Server struct {
	users    *service.UserService
	tokens   *service.TokenService
	codec    token.Codec
	guard    cache.LoginGuard
	notifier webhook.Notifier
	l        logger.Logger
}

func New(
	users *service.UserService,
	tokens *service.TokenService,
	codec token.Codec,
	guard cache.LoginGuard,
	notifier webhook.Notifier,
	l logger.Logger,
) *Server {
	return &Server{
		users:    users,
		tokens:   tokens,
		codec:    codec,
		guard:    guard,
		notifier: notifier,
		l:        l,
	}
}

// Routes builds the router. Every request passes through the authenticator,
// which only ever establishes identity; /api/auth/me is additionally gated by
// the RequireAuth policy.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/revoke", s.handleRevoke)
	mux.Handle("GET /api/auth/me", middleware.RequireAuth(http.HandlerFunc(s.handleMe)))

	return middleware.Authenticate(s.codec, s.l)(mux)
}

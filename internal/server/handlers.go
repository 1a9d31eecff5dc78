package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/nmorozov/authd/internal/logger"
	"github.com/nmorozov/authd/internal/middleware"
	"github.com/nmorozov/authd/internal/models"
	repomodels "github.com/nmorozov/authd/internal/repository/models"
	"github.com/nmorozov/authd/internal/service"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := s.users.Register(r.Context(), req.Username, req.Password, repomodels.RoleUser); err != nil {
		s.l.Error("Registration failed", logger.String("username", req.Username), logger.Error(err))
		writeError(w, http.StatusConflict, "registration failed")
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	blocked, err := s.guard.IsUserBlocked(r.Context(), req.Username)
	if err != nil {
		s.l.Error("Login guard check failed", logger.Error(err))
	}
	if blocked {
		writeError(w, http.StatusTooManyRequests, "too many failed attempts")
		return
	}

	pair, err := s.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			s.recordFailure(r, req.Username)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.l.Error("Login failed", logger.String("username", req.Username), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.guard.ClearFailures(r.Context(), req.Username); err != nil {
		s.l.Warn("Failed to clear login failures", logger.Error(err))
	}

	ip := clientIP(r)
	if count, err := s.guard.RecordAttempt(r.Context(), req.Username, ip); err == nil && count == 1 {
		s.notifier.NotifyNewIP(r.Context(), req.Username, ip)
	}

	writeJSON(w, http.StatusOK, models.LoginRes{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// handleRefresh exchanges a refresh secret for a new access token. Every
// rejection maps to the same generic 401 so the response does not reveal
// whether the token was unknown, revoked, or expired.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	access, err := s.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRefreshToken),
			errors.Is(err, service.ErrRevokedRefreshToken),
			errors.Is(err, service.ErrExpiredRefreshToken),
			errors.Is(err, service.ErrUserNotFound):
			s.l.Info("Refresh rejected", logger.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
		default:
			s.l.Error("Refresh failed", logger.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, models.RefreshRes{AccessToken: access})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req models.RevokeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		s.l.Error("Revoke failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		// RequireAuth gates this handler; reaching here without identity is a wiring bug.
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, models.MeRes{Username: id.Subject, Role: id.Role})
}

func (s *Server) recordFailure(r *http.Request, username string) {
	count, err := s.guard.RecordFailure(r.Context(), username)
	if err != nil {
		s.l.Warn("Failed to record login failure", logger.Error(err))
		return
	}
	if count >= maxLoginFailures {
		if err := s.guard.BlockUser(r.Context(), username, lockoutDuration); err != nil {
			s.l.Warn("Failed to block user", logger.Error(err))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorRes{Error: msg})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

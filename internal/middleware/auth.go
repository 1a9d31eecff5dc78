package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nmorozov/authd/internal/logger"
	"github.com/nmorozov/authd/internal/token"
)

type identityContextKey struct{}

// Identity is the per-request caller context established by Authenticate.
// It lives only in the request context and is never shared across requests.
type Identity struct {
	Subject string
	Role    string
}

// IdentityFromContext returns the identity established for this request, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok
}

// Authenticate extracts and validates a bearer access token, attaching the
// caller identity to the request context. It never terminates the chain: a
// missing, invalid, or expired token just means the request continues
// unauthenticated and downstream policy decides. Only the two known
// validation failures are swallowed; anything else is logged loudly.
func Authenticate(codec token.Codec, l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := codec.Validate(raw)
			if err != nil {
				switch {
				case errors.Is(err, token.ErrExpiredToken):
					l.Debug("Expired access token presented")
				case errors.Is(err, token.ErrInvalidToken):
					l.Debug("Invalid access token presented")
				default:
					l.Error("Unexpected access token validation failure", logger.Error(err))
				}
				next.ServeHTTP(w, r)
				return
			}

			id := &Identity{Subject: claims.Subject, Role: claims.Role}
			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth is the downstream policy gate: it rejects requests for which
// Authenticate established no identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	raw := value[len(bearer):]
	if raw == "" {
		return "", false
	}

	return raw, true
}

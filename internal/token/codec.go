package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nmorozov/authd/internal/config"
)

var (
	// ErrInvalidToken is returned when an access token is malformed or its signature does not verify.
	ErrInvalidToken = errors.New("invalid access token")

	// ErrExpiredToken is returned when an access token is well-formed and correctly signed but past its expiry.
	// Callers use this to decide whether a refresh-token retry is allowed.
	ErrExpiredToken = errors.New("access token expired")
)

// Claims carries the identity embedded in an access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Codec issues and validates signed access tokens. It holds no state beyond
// the signing key and TTL and performs no I/O.
type Codec interface {
	Issue(subject, role string) (string, error)
	Validate(tokenString string) (*Claims, error)
}

type jwtCodec struct {
	issuer string
	ttl    time.Duration
	secret []byte
	now    func() time.Time
}

// NewCodec creates a Codec signing HS256 tokens with the configured secret key.
func NewCodec(cfg config.JWTConfig) Codec {
	return &jwtCodec{
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.AccessTokenTTL),
		secret: []byte(cfg.SecretKey),
		now:    time.Now,
	}
}

// Issue creates a signed access token for the subject with the given role.
func (c *jwtCodec) Issue(subject, role string) (string, error) {
	now := c.now()

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies an access token. A well-formed token with a
// valid signature that is merely expired yields ErrExpiredToken; every other
// failure yields ErrInvalidToken.
func (c *jwtCodec) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuer(c.issuer))
	if err != nil {
		// Signature and structure problems take precedence: a forged token
		// must never be reported as merely expired.
		if errors.Is(err, jwt.ErrTokenMalformed) || errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrInvalidToken
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

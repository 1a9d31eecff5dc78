package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nmorozov/authd/internal/logger"
	"github.com/nmorozov/authd/internal/repository/models"
	"github.com/nmorozov/authd/internal/token"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown username or a wrong
// password. The two cases are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenPair is what a successful login hands back to the caller.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}

// UserService handles registration and login, delegating token issuance to
// the lifecycle service.
type UserService struct {
	users  models.UserRepository
	tokens *TokenService
	codec  token.Codec
	l      logger.Logger
}

func NewUserService(users models.UserRepository, tokens *TokenService, codec token.Codec, l logger.Logger) *UserService {
	return &UserService{users: users, tokens: tokens, codec: codec, l: l}
}

// Register creates a user with a bcrypt-hashed password and the given role.
func (s *UserService) Register(ctx context.Context, username, password, role string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Login verifies credentials and, on success, mints an access token and a
// refresh token bound to a fresh session.
func (s *UserService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	access, err := s.codec.Issue(user.Username, user.Role)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	refresh, err := s.tokens.Issue(ctx, user, sessionID)
	if err != nil {
		return nil, err
	}

	s.l.Info("User logged in",
		logger.String("username", user.Username),
		logger.String("session_id", sessionID))

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
	}, nil
}

// Package service: token authentication.
//
// AuthService sits between the HTTP handlers and the token machinery:
//
//	UserHandler → AuthService → UserService      (credentials)
//	                          → TokenRepository  (live keys)
//	                          ↘ auth.TokenSigner (signature)
//
// A key is accepted only if its signature verifies AND it is the key
// currently stored for that user AND the user is still active.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/auth"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/repository"
)

// AuthService issues, resolves, and revokes API tokens.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users   *UserService               → credential checks, GitHub accounts
//   - userRepo repository.UserRepository → loading a token's owner
//   - tokens  repository.TokenRepository → the one live key per user
//   - signer  *auth.TokenSigner          → signing and verifying keys
//   - logger  *slog.Logger               → structured logging
type AuthService struct {
	users    *UserService
	userRepo repository.UserRepository
	tokens   repository.TokenRepository
	signer   *auth.TokenSigner
	logger   *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users *UserService,
	userRepo repository.UserRepository,
	tokens repository.TokenRepository,
	signer *auth.TokenSigner,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		userRepo: userRepo,
		tokens:   tokens,
		signer:   signer,
		logger:   logger,
	}
}

// compile-time check: the middleware resolves keys through AuthService.
var _ auth.TokenResolver = (*AuthService)(nil)

// Issue creates a key for user, replacing any key issued before.
func (s *AuthService) Issue(ctx context.Context, user *model.User) (string, error) {
	key, err := s.signer.Generate(user.ID)
	if err != nil {
		return "", fmt.Errorf("service/auth: generating token for user %d: %w", user.ID, err)
	}

	if err := s.tokens.Replace(ctx, &model.AuthToken{Key: key, UserID: user.ID}); err != nil {
		s.logger.Error("failed to store token", slog.Int64("userID", user.ID), slog.Any("error", err))
		return "", fmt.Errorf("service/auth: storing token for user %d: %w", user.ID, err)
	}

	s.logger.Info("token issued", slog.Int64("userID", user.ID))
	return key, nil
}

// Resolve returns the active user that key belongs to, or
// apperror.ErrUnauthorized.
func (s *AuthService) Resolve(ctx context.Context, key string) (*model.User, error) {
	userID, err := s.signer.Validate(key)
	if err != nil {
		return nil, apperror.Unauthorized("invalid token")
	}

	stored, err := s.tokens.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid token")
		}
		return nil, fmt.Errorf("service/auth: looking up token: %w", err)
	}
	if stored.UserID != userID {
		return nil, apperror.Unauthorized("invalid token")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid token")
		}
		return nil, fmt.Errorf("service/auth: loading user %d: %w", userID, err)
	}
	if !user.IsActive {
		return nil, apperror.Unauthorized("user inactive or deleted")
	}
	return user, nil
}

// Login checks the credentials and issues a fresh key.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return "", err
	}
	return s.Issue(ctx, user)
}

// Logout revokes the user's key. Logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, user *model.User) error {
	if err := s.tokens.DeleteByUser(ctx, user.ID); err != nil {
		return fmt.Errorf("service/auth: revoking token of user %d: %w", user.ID, err)
	}
	s.logger.Info("token revoked", slog.Int64("userID", user.ID))
	return nil
}

// LoginGitHub signs in (or registers) the owner of a GitHub account and
// issues a key.
func (s *AuthService) LoginGitHub(ctx context.Context, ghUser *auth.GitHubUser) (string, error) {
	user, err := s.users.LoginOrRegisterGitHub(ctx, ghUser)
	if err != nil {
		return "", err
	}
	return s.Issue(ctx, user)
}

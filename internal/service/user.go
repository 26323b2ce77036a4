// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// OWNER SCOPING:
// Every catalog method takes the caller (*model.User) as an explicit argument
// and passes caller.ID down to the repository, which adds user_id = caller to
// every query. There is no ambient "current user": whoever calls the service
// must say on whose behalf.
//
// DEPENDENCY INJECTION:
// Services take repository interfaces, not *sqlstore.DB. Tests pass either an
// in-memory SQLite store or a small hand-written fake.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/auth"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/repository"
)

// Validation constants.
const (
	MinPasswordLength = 6 // "more than 5 characters"
	MaxNameLength     = 255
	MaxEmailLength    = 255
)

// UserService owns the user directory: registration, credential checks,
// and profile changes.
type UserService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewUserService creates a UserService.
func NewUserService(users repository.UserRepository, passwords *auth.PasswordService, logger *slog.Logger) *UserService {
	return &UserService{
		users:     users,
		passwords: passwords,
		logger:    logger,
	}
}

// AdminUserInput carries the fields the admin pages can set. Password is
// only applied when non-empty.
type AdminUserInput struct {
	Email    string
	Name     string
	Password string
	IsActive bool
	IsStaff  bool
}

// Register creates an ordinary, active user.
//
// The email is lower-cased before it is checked for uniqueness or stored,
// so "Bob@Mail.com" and "bob@mail.com" are the same account.
func (s *UserService) Register(ctx context.Context, email, password, name string) (*model.User, error) {
	return s.create(ctx, email, password, name, func(*model.User) {})
}

// ProvisionSuperuser creates a user with the staff and superuser flags set.
// Used by the createsuperuser command.
func (s *UserService) ProvisionSuperuser(ctx context.Context, email, password string) (*model.User, error) {
	return s.create(ctx, email, password, "", func(u *model.User) {
		u.IsStaff = true
		u.IsSuperuser = true
	})
}

// AdminCreate creates a user from the admin form.
func (s *UserService) AdminCreate(ctx context.Context, in AdminUserInput) (*model.User, error) {
	return s.create(ctx, in.Email, in.Password, in.Name, func(u *model.User) {
		u.IsActive = in.IsActive
		u.IsStaff = in.IsStaff
	})
}

func (s *UserService) create(ctx context.Context, email, password, name string, apply func(*model.User)) (*model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name, err = validateName(name)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		IsActive:     true,
	}
	apply(user)

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create user", slog.String("email", email), slog.Any("error", err))
		return nil, fmt.Errorf("service/user: creating user: %w", err)
	}

	s.logger.Info("user created",
		slog.Int64("userID", user.ID),
		slog.Bool("staff", user.IsStaff),
		slog.Bool("superuser", user.IsSuperuser),
	)
	return user, nil
}

// Authenticate returns the active user matching email and password.
//
// Every failure (unknown email, wrong password, inactive account, an account
// with an unusable password) is reported as the same
// apperror.InvalidCredentials so callers cannot tell which one happened.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.InvalidCredentials()
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.Burn(password)
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/user: looking up %q: %w", email, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.InvalidCredentials()
	}
	if !user.IsActive {
		return nil, apperror.InvalidCredentials()
	}
	return user, nil
}

// UpdateProfile applies the fields that are non-nil. Email and flags cannot
// be changed through the profile.
func (s *UserService) UpdateProfile(ctx context.Context, user *model.User, name, password *string) (*model.User, error) {
	updated := *user

	if name != nil {
		n, err := validateName(*name)
		if err != nil {
			return nil, err
		}
		updated.Name = n
	}
	if password != nil {
		if err := validatePassword(*password); err != nil {
			return nil, err
		}
		hash, err := s.passwords.Hash(*password)
		if err != nil {
			return nil, apperror.ValidationFailed("password", err.Error())
		}
		updated.PasswordHash = hash
	}

	if err := s.users.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("service/user: updating user %d: %w", user.ID, err)
	}

	s.logger.Info("profile updated",
		slog.Int64("userID", user.ID),
		slog.Bool("passwordChanged", password != nil),
	)
	return &updated, nil
}

// LoginOrRegisterGitHub finds the account for a GitHub email, creating it
// with an unusable password on first sign-in.
func (s *UserService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*model.User, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/user: GitHub user must not be nil")
	}
	email, err := normalizeEmail(ghUser.Email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if !user.IsActive {
			return nil, apperror.InvalidCredentials()
		}
		return user, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/user: looking up %q: %w", email, err)
	}

	name := ghUser.Name
	if name == "" {
		name = ghUser.Login
	}
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}

	user = &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: model.UnusablePassword,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/user: creating GitHub user: %w", err)
	}

	s.logger.Info("user registered via GitHub",
		slog.Int64("userID", user.ID),
		slog.Int64("githubID", ghUser.ID),
	)
	return user, nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/user: fetching user %d: %w", id, err)
	}
	return user, nil
}

// List returns every user, oldest first.
func (s *UserService) List(ctx context.Context) ([]model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/user: listing users: %w", err)
	}
	return users, nil
}

// AdminUpdate applies the admin form to user id. The superuser flag is
// never touched here; only createsuperuser grants it.
func (s *UserService) AdminUpdate(ctx context.Context, id int64, in AdminUserInput) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/user: fetching user %d: %w", id, err)
	}

	if user.Email, err = normalizeEmail(in.Email); err != nil {
		return nil, err
	}
	if user.Name, err = validateName(in.Name); err != nil {
		return nil, err
	}
	if in.Password != "" {
		if err := validatePassword(in.Password); err != nil {
			return nil, err
		}
		if user.PasswordHash, err = s.passwords.Hash(in.Password); err != nil {
			return nil, apperror.ValidationFailed("password", err.Error())
		}
	}
	user.IsActive = in.IsActive
	user.IsStaff = in.IsStaff

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("service/user: updating user %d: %w", id, err)
	}

	s.logger.Info("user updated by admin",
		slog.Int64("userID", id),
		slog.Bool("active", user.IsActive),
		slog.Bool("staff", user.IsStaff),
	)
	return user, nil
}

// normalizeEmail trims and lower-cases email and checks it is a bare
// address ("bob@mail.com", not "Bob <bob@mail.com>").
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "this field is required")
	}
	if len(email) > MaxEmailLength {
		return "", apperror.ValidationFailed("email",
			fmt.Sprintf("email must be %d characters or less", MaxEmailLength))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", apperror.ValidationFailed("email", "enter a valid email address")
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("ensure this field has at least %d characters", MinPasswordLength))
	}
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) > MaxNameLength {
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	return name, nil
}

package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sharifiasldev/support-service/internal/auth"
	"github.com/sharifiasldev/support-service/internal/config"
	"github.com/sharifiasldev/support-service/internal/contentstore"
	"github.com/sharifiasldev/support-service/internal/domain"
	"github.com/sharifiasldev/support-service/internal/repository"
	apperrors "github.com/sharifiasldev/support-service/pkg/util/errorutil"
)

const minPasswordLength = 6

// Accounts covers registration, login and password changes. Local accounts
// and content store accounts share this surface.
type Accounts interface {
	Register(ctx context.Context, input RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, identifier, password string) (*AuthResult, error)
	ChangePassword(ctx context.Context, caller *auth.Principal, currentPassword, newPassword string) error
}

// RegisterInput describes a sign-up request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// AuthResult is an authenticated user and the bearer token to use.
// ExpiresAt is nil when the issuer does not disclose expiry.
type AuthResult struct {
	User      *domain.User
	Token     string
	ExpiresAt *time.Time
}

// AuthService coordinates registration and login flows for locally stored
// users.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, users repository.UserRepository, tokens *auth.TokenManager) *AuthService {
	return &AuthService{
		users:      users,
		tokenMgr:   tokens,
		bcryptCost: cfg.BcryptCost,
	}
}

// Register creates a new end-user account.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	input, err := validateRegistration(input)
	if err != nil {
		return nil, err
	}

	hash, err := s.hash(input.Password, "password")
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("email or username already taken", nil)
		}
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return s.issue(user)
}

// Login authenticates an end-user by email or username.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, apperrors.NewValidationError("identifier and password are required", map[string]any{
			"fields": missingFields(map[string]string{"identifier": identifier, "password": password}),
		})
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	if err != nil {
		return nil, apperrors.NewStoreUnavailable(err)
	}
	if err := s.verify(user, password); err != nil {
		return nil, err
	}
	return s.issue(user)
}

// ChangePassword verifies current password before updating to new hash.
func (s *AuthService) ChangePassword(ctx context.Context, caller *auth.Principal, currentPassword, newPassword string) error {
	if caller == nil || caller.User == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	if err := validatePasswordChange(currentPassword, newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, caller.User.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewUnauthorized("user not found")
	}
	if err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	if err := s.verify(user, currentPassword); err != nil {
		return err
	}

	hash, err := s.hash(newPassword, "new_password")
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

func (s *AuthService) hash(password, field string) (string, error) {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return "", apperrors.NewValidationError("password is too long", map[string]any{"fields": []string{field}})
	}
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	return hash, nil
}

func (s *AuthService) verify(user *domain.User, password string) error {
	err := auth.ComparePassword(user.PasswordHash, password)
	if errors.Is(err, auth.ErrInvalidCredential) {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

func (s *AuthService) issue(user *domain.User) (*AuthResult, error) {
	token, exp, err := s.tokenMgr.GenerateToken(user.ID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: &exp}, nil
}

// ContentStoreAccounts delegates accounts to the content store's
// users-permissions plugin. Tokens are the store's own JWTs.
type ContentStoreAccounts struct {
	client *contentstore.Client
}

// NewContentStoreAccounts builds the delegating implementation.
func NewContentStoreAccounts(client *contentstore.Client) *ContentStoreAccounts {
	return &ContentStoreAccounts{client: client}
}

func (a *ContentStoreAccounts) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	input, err := validateRegistration(input)
	if err != nil {
		return nil, err
	}
	res, err := a.client.Register(ctx, input.Username, input.Email, input.Password)
	if err != nil {
		return nil, contentStoreAccountError(err, func(msg string) error {
			return apperrors.NewConflict(msg, nil)
		})
	}
	return &AuthResult{User: auth.UserFromRecord(&res.User), Token: res.JWT}, nil
}

func (a *ContentStoreAccounts) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, apperrors.NewValidationError("identifier and password are required", map[string]any{
			"fields": missingFields(map[string]string{"identifier": identifier, "password": password}),
		})
	}
	res, err := a.client.Login(ctx, identifier, password)
	if err != nil {
		return nil, contentStoreAccountError(err, func(string) error {
			return apperrors.NewUnauthorized("invalid credentials")
		})
	}
	return &AuthResult{User: auth.UserFromRecord(&res.User), Token: res.JWT}, nil
}

func (a *ContentStoreAccounts) ChangePassword(ctx context.Context, caller *auth.Principal, currentPassword, newPassword string) error {
	if caller == nil || caller.Token == "" {
		return apperrors.NewUnauthorized("authentication required")
	}
	if err := validatePasswordChange(currentPassword, newPassword); err != nil {
		return err
	}
	err := a.client.ChangePassword(ctx, caller.Token, currentPassword, newPassword)
	if err != nil {
		return contentStoreAccountError(err, func(string) error {
			return apperrors.NewUnauthorized("invalid credentials")
		})
	}
	return nil
}

// contentStoreAccountError maps store failures; rejected maps the store's
// 400 answers, which it uses for bad credentials and taken names alike.
func contentStoreAccountError(err error, rejected func(message string) error) error {
	var statusErr *contentstore.StatusError
	switch {
	case errors.Is(err, contentstore.ErrUnauthorized):
		return apperrors.NewUnauthorized("invalid credentials")
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusBadRequest:
		return rejected(statusErr.Message)
	default:
		return apperrors.NewStoreUnavailable(err)
	}
}

func validateRegistration(input RegisterInput) (RegisterInput, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))

	missing := missingFields(map[string]string{
		"username": input.Username,
		"email":    input.Email,
		"password": input.Password,
	})
	if len(missing) > 0 {
		return input, apperrors.NewValidationError("required fields are missing", map[string]any{"fields": missing})
	}
	if !strings.Contains(input.Email, "@") {
		return input, apperrors.NewValidationError("email is invalid", map[string]any{"fields": []string{"email"}})
	}
	if len(input.Password) < minPasswordLength {
		return input, apperrors.NewValidationError("password is too short", map[string]any{
			"fields":     []string{"password"},
			"min_length": minPasswordLength,
		})
	}
	return input, nil
}

func validatePasswordChange(currentPassword, newPassword string) error {
	missing := missingFields(map[string]string{
		"current_password": currentPassword,
		"new_password":     newPassword,
	})
	if len(missing) > 0 {
		return apperrors.NewValidationError("required fields are missing", map[string]any{"fields": missing})
	}
	if len(newPassword) < minPasswordLength {
		return apperrors.NewValidationError("password is too short", map[string]any{
			"fields":     []string{"new_password"},
			"min_length": minPasswordLength,
		})
	}
	return nil
}

func missingFields(values map[string]string) []string {
	var missing []string
	for name, value := range values {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

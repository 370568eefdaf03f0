package auth

import (
	"context"
	"errors"
	"strconv"

	"github.com/sharifiasldev/support-service/internal/contentstore"
	"github.com/sharifiasldev/support-service/internal/domain"
	"github.com/sharifiasldev/support-service/internal/repository"
)

// ErrInvalidCredential means the bearer token does not identify a user.
var ErrInvalidCredential = errors.New("invalid credential")

// IdentityResolver turns a bearer token into the user it belongs to. It
// returns ErrInvalidCredential for bad tokens and any other error when the
// backing store cannot be reached.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*domain.User, error)
}

// JWTResolver validates tokens issued by this service.
type JWTResolver struct {
	tokens *TokenManager
	users  repository.UserRepository
}

// NewJWTResolver builds a resolver over locally issued tokens.
func NewJWTResolver(tokens *TokenManager, users repository.UserRepository) *JWTResolver {
	return &JWTResolver{tokens: tokens, users: users}
}

func (r *JWTResolver) Resolve(ctx context.Context, token string) (*domain.User, error) {
	claims, err := r.tokens.ParseToken(token)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	user, err := r.users.GetByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ContentStoreResolver asks the content store who owns the token.
type ContentStoreResolver struct {
	client *contentstore.Client
}

// NewContentStoreResolver builds a resolver backed by users/me.
func NewContentStoreResolver(client *contentstore.Client) *ContentStoreResolver {
	return &ContentStoreResolver{client: client}
}

func (r *ContentStoreResolver) Resolve(ctx context.Context, token string) (*domain.User, error) {
	record, err := r.client.Me(ctx, token)
	if errors.Is(err, contentstore.ErrUnauthorized) || errors.Is(err, contentstore.ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, err
	}
	if record.Blocked || record.ID <= 0 {
		return nil, ErrInvalidCredential
	}
	return UserFromRecord(record), nil
}

// UserFromRecord maps a content store user onto the domain user.
func UserFromRecord(record *contentstore.UserRecord) *domain.User {
	return &domain.User{
		ID:        strconv.FormatInt(record.ID, 10),
		Username:  record.Username,
		Email:     record.Email,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

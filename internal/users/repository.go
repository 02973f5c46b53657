package users

import (
	"context"
	"errors"

	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("users: not found")
	// ErrAlreadyExists is returned when a write violates the email or
	// (provider, account id) uniqueness constraint. The first writer wins.
	ErrAlreadyExists = errors.New("users: already exists")
)

// Repository persists users and their provider links. Implementations enforce
// uniqueness in storage so concurrent writers cannot create duplicates.
type Repository interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	// GetUserByEmail expects a normalized email.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error

	CreateLink(ctx context.Context, l *models.ProviderLink) error
	GetLink(ctx context.Context, provider, accountID string) (*models.ProviderLink, error)
	ListLinks(ctx context.Context, userID string) ([]*models.ProviderLink, error)

	// CreateUserWithLink stores both records, atomically where the engine allows.
	CreateUserWithLink(ctx context.Context, u *models.User, l *models.ProviderLink) error
}

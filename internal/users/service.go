package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
	"github.com/gogotex/gogotex/backend/auth-service/internal/password"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/logger"
)

// Service encapsulates user-related business logic
type Service struct {
	repo   Repository
	hasher *password.Hasher
	now    func() time.Time
}

func NewService(r Repository, h *password.Hasher) *Service {
	return &Service{repo: r, hasher: h, now: time.Now}
}

// Hasher exposes the password hasher used for local accounts.
func (s *Service) Hasher() *password.Hasher { return s.hasher }

// GetByID returns the user or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// GetByEmail normalizes email before the lookup.
func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.repo.GetUserByEmail(ctx, models.NormalizeEmail(email))
}

// Links lists the provider identities bound to a user.
func (s *Service) Links(ctx context.Context, userID string) ([]*models.ProviderLink, error) {
	return s.repo.ListLinks(ctx, userID)
}

// RegisterLocal creates a password account. The email is the account id of
// the "local" provider link.
func (s *Service) RegisterLocal(ctx context.Context, email, pw, name string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, autherr.InvalidInput("email address is not valid")
	}
	switch _, err := s.repo.GetUserByEmail(ctx, email); {
	case err == nil:
		return nil, autherr.AlreadyExists("user")
	case !errors.Is(err, ErrNotFound):
		return nil, autherr.Service("look up user", err)
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return nil, autherr.InvalidInput(err.Error())
		}
		return nil, autherr.Service("hash password", err)
	}

	now := s.now().UTC()
	u := &models.User{
		ID:                       uuid.NewString(),
		Email:                    &email,
		PasswordHash:             &hash,
		DisplayName:              models.StrPtr(strings.TrimSpace(name)),
		Role:                     models.RoleUser,
		Active:                   true,
		PrimaryProvider:          models.StrPtr(models.LocalProvider),
		PrimaryProviderAccountID: &email,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	link := &models.ProviderLink{
		ID:                uuid.NewString(),
		UserID:            u.ID,
		Provider:          models.LocalProvider,
		ProviderAccountID: email,
		LinkedEmail:       &email,
		LinkedAt:          now,
	}
	if err := s.repo.CreateUserWithLink(ctx, u, link); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, autherr.AlreadyExists("user")
		}
		return nil, autherr.Service("create user", err)
	}
	return u, nil
}

// ExternalIdentity is the verified identity asserted by an external provider.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// LinkPolicy controls whether an external identity may attach to an existing
// user that has the same email.
type LinkPolicy struct {
	LinkByEmail          bool
	RequireVerifiedEmail bool
}

// ResolveExternal maps an external identity to a user: an existing link wins,
// then (per policy) an existing user with the same email gets a new link,
// otherwise a user is created with an unusable password. A concurrent first
// sign-in that loses the uniqueness race retries the lookup once.
func (s *Service) ResolveExternal(ctx context.Context, id ExternalIdentity, policy LinkPolicy) (*models.User, error) {
	if id.Provider == "" || id.Subject == "" {
		return nil, autherr.TokenInvalid(errors.New("identity has no subject"))
	}
	u, err := s.resolveOnce(ctx, id, policy)
	if errors.Is(err, ErrAlreadyExists) {
		logger.FromContext(ctx).Debugw("identity created concurrently, retrying lookup", "provider", id.Provider)
		u, err = s.resolveOnce(ctx, id, policy)
	}
	if err != nil {
		return nil, autherr.Wrap(err)
	}
	return u, nil
}

func (s *Service) resolveOnce(ctx context.Context, id ExternalIdentity, policy LinkPolicy) (*models.User, error) {
	link, err := s.repo.GetLink(ctx, id.Provider, id.Subject)
	switch {
	case err == nil:
		u, err := s.repo.GetUserByID(ctx, link.UserID)
		if errors.Is(err, ErrNotFound) {
			// link outlived its user; the identity cannot be trusted to a new account
			return nil, autherr.Unauthorized(errors.New("linked user no longer exists"))
		}
		return u, err
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	email := models.NormalizeEmail(id.Email)
	var existing *models.User
	if email != "" {
		existing, err = s.repo.GetUserByEmail(ctx, email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	now := s.now().UTC()

	if existing != nil && policy.LinkByEmail && (id.EmailVerified || !policy.RequireVerifiedEmail) {
		err := s.repo.CreateLink(ctx, &models.ProviderLink{
			ID:                uuid.NewString(),
			UserID:            existing.ID,
			Provider:          id.Provider,
			ProviderAccountID: id.Subject,
			LinkedEmail:       &email,
			LinkedAt:          now,
		})
		if err != nil {
			return nil, err
		}
		logger.FromContext(ctx).Infow("linked external identity by email", "provider", id.Provider, "userId", existing.ID)
		return existing, nil
	}

	unusable, err := s.hasher.Unusable()
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:                       uuid.NewString(),
		PasswordHash:             &unusable,
		DisplayName:              models.StrPtr(strings.TrimSpace(id.Name)),
		Role:                     models.RoleUser,
		EmailVerified:            id.EmailVerified,
		Active:                   true,
		PrimaryProvider:          models.StrPtr(id.Provider),
		PrimaryProviderAccountID: models.StrPtr(id.Subject),
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	// an email already owned by another user stays with that user
	if existing == nil {
		u.Email = models.StrPtr(email)
	}
	link = &models.ProviderLink{
		ID:                uuid.NewString(),
		UserID:            u.ID,
		Provider:          id.Provider,
		ProviderAccountID: id.Subject,
		LinkedEmail:       models.StrPtr(email),
		LinkedAt:          now,
	}
	if err := s.repo.CreateUserWithLink(ctx, u, link); err != nil {
		return nil, err
	}
	return u, nil
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@")+1:], ".")
}

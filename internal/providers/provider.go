// Package providers implements the pluggable identity providers and the
// registry the auth service dispatches through.
//
// Every provider can authenticate credentials and resolve a user from a
// token. Registration and revocation are optional capabilities discovered
// with a type assertion on Registrar and Revoker.
package providers

import (
	"context"
	"errors"
	"time"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
	"github.com/gogotex/gogotex/backend/auth-service/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-service/internal/users"
)

// Credentials carries provider-specific login or registration fields, e.g.
// {"email","password"} for the local provider or {"token"} for external ones.
type Credentials map[string]string

// AuthResult is returned by a successful Authenticate or Register.
type AuthResult struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
}

// Provider is the capability every identity provider has.
type Provider interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (*AuthResult, error)
	// UserFromToken returns (nil, nil) when the token is valid but no active
	// user is bound to it.
	UserFromToken(ctx context.Context, token string) (*models.User, error)
}

// Registrar is implemented by providers that can create accounts.
type Registrar interface {
	Register(ctx context.Context, data Credentials) (*AuthResult, error)
}

// Revoker is implemented by providers that can invalidate tokens early.
type Revoker interface {
	Revoke(ctx context.Context, token string) error
}

// Denylist is the revocation store consulted before accepting a token.
type Denylist interface {
	Revoke(ctx context.Context, jti string, exp time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// issuePair mints a session token pair bound to u and the provider name.
func issuePair(tm *tokens.Manager, u *models.User, provider string) (*AuthResult, error) {
	access, refresh, err := tm.IssuePair(SessionPayload(u, provider))
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: u, AccessToken: access, RefreshToken: refresh}, nil
}

// SessionPayload is the token payload for a session of u obtained via provider.
func SessionPayload(u *models.User, provider string) tokens.Payload {
	p := tokens.Payload{UserID: u.ID, Provider: provider}
	if u.Email != nil {
		p.Custom = map[string]any{"email": *u.Email}
	}
	return p
}

// sessionUser resolves the user behind a session access token issued by tm.
// When provider is not empty the token must have been minted for it.
func sessionUser(ctx context.Context, tm *tokens.Manager, dl Denylist, svc *users.Service, tok, provider string) (*models.User, error) {
	p, err := tm.VerifyAccessToken(tok)
	if err != nil {
		return nil, err
	}
	if provider != "" && p.Provider != provider {
		return nil, autherr.TokenInvalid(errors.New("token was issued for another provider"))
	}
	revoked, err := dl.IsRevoked(ctx, p.TokenID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, autherr.TokenRevoked()
	}
	return activeUser(ctx, svc, p.UserID)
}

func activeUser(ctx context.Context, svc *users.Service, id string) (*models.User, error) {
	u, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, nil
		}
		return nil, autherr.Service("load user", err)
	}
	if !u.Active {
		return nil, nil
	}
	return u, nil
}

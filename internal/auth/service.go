// Package auth is the entry point of the authentication core. It dispatches
// login, registration, validation and logout to the named provider and owns
// refresh-token rotation.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
	"github.com/gogotex/gogotex/backend/auth-service/internal/providers"
	"github.com/gogotex/gogotex/backend/auth-service/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-service/internal/users"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/logger"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/metrics"
)

const (
	DefaultTimeout = 5 * time.Second
	TokenType      = "Bearer"
)

// Options tunes the service.
type Options struct {
	// DefaultProvider decides how ValidateToken treats a token when the
	// caller names no provider. "local" verifies it as a session token.
	DefaultProvider string
	// Timeout bounds every operation.
	Timeout time.Duration
}

// TokenInfo describes an issued session.
type TokenInfo struct {
	Token        string    `json:"token"`
	Type         string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
	RefreshToken string    `json:"refreshToken,omitempty"`
}

// Result is returned by Login and Register.
type Result struct {
	User      *models.User
	Provider  string
	TokenInfo TokenInfo
}

// Validation is returned by ValidateToken.
type Validation struct {
	UserID   string
	Provider string
	User     *models.User
}

// RefreshResult is returned by RefreshTokens.
type RefreshResult struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Denylist is the revocation store shared with the providers.
type Denylist = providers.Denylist

// Service coordinates providers, the token manager and the user store.
type Service struct {
	registry *providers.Registry
	tokens   *tokens.Manager
	denylist Denylist
	users    *users.Service
	opts     Options
}

func NewService(reg *providers.Registry, tm *tokens.Manager, dl Denylist, svc *users.Service, opts Options) *Service {
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = models.LocalProvider
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Service{registry: reg, tokens: tm, denylist: dl, users: svc, opts: opts}
}

// Providers lists the enabled provider names.
func (s *Service) Providers() []string { return s.registry.Names() }

// Login authenticates creds with the named provider.
func (s *Service) Login(ctx context.Context, provider string, creds providers.Credentials) (res *Result, err error) {
	ctx, done := s.begin(ctx, "login", s.label(provider))
	defer func() { err = done(err) }()

	p, ok := s.registry.Get(provider)
	if !ok {
		return nil, autherr.UnknownProvider(provider)
	}
	ar, err := p.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s.result(ar, provider)
}

// Register creates an account with a provider that supports registration.
func (s *Service) Register(ctx context.Context, provider string, data providers.Credentials) (res *Result, err error) {
	ctx, done := s.begin(ctx, "register", s.label(provider))
	defer func() { err = done(err) }()

	p, ok := s.registry.Get(provider)
	if !ok {
		return nil, autherr.UnknownProvider(provider)
	}
	r, ok := p.(providers.Registrar)
	if !ok {
		return nil, autherr.UnknownProvider(provider)
	}
	ar, err := r.Register(ctx, data)
	if err != nil {
		return nil, err
	}
	return s.result(ar, provider)
}

// ValidateToken resolves the user behind token. With a provider name the
// provider decides; without one the configured default policy applies.
func (s *Service) ValidateToken(ctx context.Context, token, provider string) (v *Validation, err error) {
	ctx, done := s.begin(ctx, "validate", s.label(provider))
	defer func() { err = done(err) }()

	if provider == "" && s.opts.DefaultProvider == models.LocalProvider {
		return s.validateSession(ctx, token)
	}
	if provider == "" {
		provider = s.opts.DefaultProvider
	}
	p, ok := s.registry.Get(provider)
	if !ok {
		return nil, autherr.UnknownProvider(provider)
	}
	u, err := p.UserFromToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, autherr.Unauthorized(errors.New("no active user for token"))
	}
	return &Validation{UserID: u.ID, Provider: provider, User: u}, nil
}

// validateSession treats token as a locally issued access token. Every
// rejection is Unauthorized; the cause (expired, revoked) stays reachable
// through errors.Is.
func (s *Service) validateSession(ctx context.Context, token string) (*Validation, error) {
	p, err := s.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, autherr.Unauthorized(err)
	}
	if err := s.checkRevoked(ctx, p.TokenID); err != nil {
		if errors.Is(err, autherr.ErrTokenRevoked) {
			return nil, autherr.Unauthorized(err)
		}
		return nil, err
	}
	u, err := s.activeUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	provider := p.Provider
	if provider == "" {
		provider = models.LocalProvider
	}
	return &Validation{UserID: u.ID, Provider: provider, User: u}, nil
}

// Logout revokes token through the named provider. A non-nil error means the
// token may still be accepted until it expires.
func (s *Service) Logout(ctx context.Context, token, provider string) (err error) {
	ctx, done := s.begin(ctx, "logout", s.label(provider))
	defer func() { err = done(err) }()

	p, ok := s.registry.Get(provider)
	if !ok {
		return autherr.UnknownProvider(provider)
	}
	r, ok := p.(providers.Revoker)
	if !ok {
		return autherr.UnknownProvider(provider)
	}
	if err := r.Revoke(ctx, token); err != nil {
		switch autherr.CodeOf(err) {
		case autherr.CodeTokenMalformed, autherr.CodeInvalidTokenFormat:
			return err
		case autherr.CodeServiceError:
		default:
			err = autherr.Service("revoke token", err)
		}
		logger.FromContext(ctx).Errorw("logout failed, token stays valid until expiry", "err", err)
		return err
	}
	return nil
}

// RefreshTokens exchanges a refresh token for a new pair. The old refresh
// token is denylisted so it can be used once.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (res *RefreshResult, err error) {
	ctx, done := s.begin(ctx, "refresh", "")
	defer func() { err = done(err) }()

	p, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, p.TokenID); err != nil {
		return nil, err
	}
	u, err := s.activeUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	provider := p.Provider
	if provider == "" {
		provider = models.LocalProvider
	}
	access, refresh, err := s.tokens.IssuePair(providers.SessionPayload(u, provider))
	if err != nil {
		return nil, err
	}
	if err := s.denylist.Revoke(ctx, p.TokenID, p.ExpiresAt); err != nil {
		return nil, err
	}
	exp, err := s.expiry(access)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{User: u, AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}

func (s *Service) checkRevoked(ctx context.Context, jti string) error {
	revoked, err := s.denylist.IsRevoked(ctx, jti)
	if err != nil {
		return err
	}
	if revoked {
		return autherr.TokenRevoked()
	}
	return nil
}

func (s *Service) activeUser(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, autherr.Unauthorized(err)
		}
		return nil, autherr.Service("load user", err)
	}
	if !u.Active {
		return nil, autherr.Unauthorized(errors.New("account is disabled"))
	}
	return u, nil
}

func (s *Service) result(ar *providers.AuthResult, provider string) (*Result, error) {
	exp, err := s.expiry(ar.AccessToken)
	if err != nil {
		return nil, err
	}
	return &Result{
		User:     ar.User,
		Provider: provider,
		TokenInfo: TokenInfo{
			Token:        ar.AccessToken,
			Type:         TokenType,
			ExpiresAt:    exp,
			RefreshToken: ar.RefreshToken,
		},
	}, nil
}

// expiry reads exp back from an access token this service just issued.
func (s *Service) expiry(access string) (time.Time, error) {
	p, err := s.tokens.Decode(access)
	if err != nil {
		return time.Time{}, autherr.Service("decode issued token", err)
	}
	return p.ExpiresAt, nil
}

// label bounds the provider metric label to configured names so arbitrary
// caller input cannot mint new series.
func (s *Service) label(provider string) string {
	if provider == "" {
		return "default"
	}
	if _, ok := s.registry.Get(provider); !ok {
		return "unknown"
	}
	return provider
}

// begin applies the operation timeout and returns a completion func that
// normalizes the error, logs it and records metrics.
func (s *Service) begin(ctx context.Context, op, provider string) (context.Context, func(error) error) {
	start := time.Now()
	ctx = logger.WithContext(ctx, "op", op, "provider", provider)
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	return ctx, func(err error) error {
		defer cancel()
		if err != nil && ctx.Err() != nil && autherr.CodeOf(err) == "" {
			err = autherr.Service("operation timed out", err)
		}
		err = autherr.Wrap(err)

		outcome := "ok"
		if err != nil {
			outcome = string(autherr.CodeOf(err))
			if autherr.CodeOf(err) == autherr.CodeServiceError {
				logger.FromContext(ctx).Errorw("auth operation failed", "err", err)
			} else {
				logger.FromContext(ctx).Debugw("auth operation rejected", "err", err)
			}
		}
		metrics.AuthOperations.WithLabelValues(op, provider, outcome).Inc()
		metrics.AuthDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		return err
	}
}

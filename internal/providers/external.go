package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
	"github.com/gogotex/gogotex/backend/auth-service/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-service/internal/users"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/logger"
)

const (
	DefaultAlgorithm = "RS256"
	DefaultClockSkew = 30 * time.Second
)

// KeySource resolves the public key for a kid. *keyset.Cache implements it.
type KeySource interface {
	Key(ctx context.Context, kid, alg string) (any, error)
}

// ExternalConfig describes a remote identity provider whose tokens are
// verified against its published key set.
type ExternalConfig struct {
	Name      string
	Issuer    string
	Audience  string
	Algorithm string
	ClockSkew time.Duration
	// LinkByEmail attaches a first sign-in to an existing user with the same email.
	LinkByEmail          bool
	RequireVerifiedEmail bool
}

// External accepts tokens signed by a remote identity provider and exchanges
// them for local session tokens.
type External struct {
	cfg      ExternalConfig
	tokens   *tokens.Manager
	users    *users.Service
	keys     KeySource
	denylist Denylist
	now      func() time.Time
}

// ExternalOption customizes an External provider.
type ExternalOption func(*External)

// WithExternalClock replaces time.Now for claim validation.
func WithExternalClock(now func() time.Time) ExternalOption {
	return func(e *External) { e.now = now }
}

func NewExternal(cfg ExternalConfig, tm *tokens.Manager, svc *users.Service, keys KeySource, dl Denylist, opts ...ExternalOption) (*External, error) {
	if cfg.Name == "" || cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("external provider needs name, issuer and audience")
	}
	if cfg.Name == models.LocalProvider {
		return nil, fmt.Errorf("provider name %q is reserved", cfg.Name)
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = DefaultAlgorithm
	}
	// only asymmetric algorithms: the provider never shares a secret with us
	if jwt.GetSigningMethod(cfg.Algorithm) == nil || cfg.Algorithm == "none" || strings.HasPrefix(cfg.Algorithm, "HS") {
		return nil, fmt.Errorf("unsupported external signing algorithm %q", cfg.Algorithm)
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	e := &External{cfg: cfg, tokens: tm, users: svc, keys: keys, denylist: dl, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *External) Name() string { return e.cfg.Name }

// Authenticate verifies {"token"} and issues a session pair for the user it
// resolves to.
func (e *External) Authenticate(ctx context.Context, creds Credentials) (*AuthResult, error) {
	u, err := e.resolve(ctx, creds["token"])
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, autherr.Unauthorized(errors.New("account is disabled"))
	}
	return issuePair(e.tokens, u, e.cfg.Name)
}

// UserFromToken accepts either a token signed by the remote provider or a
// session token previously issued for this provider.
func (e *External) UserFromToken(ctx context.Context, tok string) (*models.User, error) {
	if e.isSessionToken(tok) {
		return sessionUser(ctx, e.tokens, e.denylist, e.users, tok, e.cfg.Name)
	}
	return e.resolve(ctx, tok)
}

// Revoke denylists the token's jti until its expiry. Remote tokens are keyed
// by their own jti; session tokens fall back to the token manager.
func (e *External) Revoke(ctx context.Context, tok string) error {
	if e.isSessionToken(tok) {
		jti, exp, err := e.tokens.RevocationEntry(tok)
		if err != nil {
			return err
		}
		return e.denylist.Revoke(ctx, jti, exp)
	}
	_, claims, err := e.inspect(tok)
	if err != nil {
		return err
	}
	// the verifier accepts the token until exp + skew, so the entry must last as long
	return e.denylist.Revoke(ctx, claims.jti, claims.exp.Add(e.cfg.ClockSkew))
}

type unverified struct {
	kid string
	jti string
	exp time.Time
}

// inspect reads header and payload without verifying anything.
func (e *External) inspect(tok string) (jwt.MapClaims, unverified, error) {
	claims := jwt.MapClaims{}
	t, _, err := jwt.NewParser().ParseUnverified(tok, claims)
	if err != nil {
		return nil, unverified{}, autherr.TokenMalformed(err)
	}
	var u unverified

	alg, _ := t.Header["alg"].(string)
	if alg != e.cfg.Algorithm {
		return nil, u, autherr.InvalidTokenFormat(fmt.Sprintf("expected %s signed token", e.cfg.Algorithm))
	}
	if u.kid, _ = t.Header["kid"].(string); u.kid == "" {
		return nil, u, autherr.InvalidTokenFormat("token has no key id")
	}

	if u.jti, _ = claims["jti"].(string); u.jti == "" {
		return nil, u, autherr.InvalidTokenFormat("token has no jti")
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, u, autherr.InvalidTokenFormat("token exp is missing or not numeric")
	}
	u.exp = time.Unix(int64(exp), 0)
	return claims, u, nil
}

func (e *External) isSessionToken(tok string) bool {
	t, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		return false
	}
	alg, _ := t.Header["alg"].(string)
	return alg == jwt.SigningMethodHS256.Alg()
}

// resolve verifies a remote token and maps it to a user.
func (e *External) resolve(ctx context.Context, tok string) (*models.User, error) {
	log := logger.FromContext(ctx).With("provider", e.cfg.Name)

	_, hdr, err := e.inspect(tok)
	if err != nil {
		return nil, err
	}

	// cheap denylist check before any signature work
	revoked, err := e.denylist.IsRevoked(ctx, hdr.jti)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, autherr.TokenRevoked()
	}

	key, err := e.keys.Key(ctx, hdr.kid, e.cfg.Algorithm)
	if err != nil {
		log.Debugw("signing key lookup failed", "kid", hdr.kid, "err", err)
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{e.cfg.Algorithm}),
		jwt.WithIssuer(e.cfg.Issuer),
		jwt.WithAudience(e.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(e.cfg.ClockSkew),
		jwt.WithTimeFunc(e.now),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tok, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.TokenExpired(err)
		}
		log.Debugw("external token rejected", "err", err)
		return nil, autherr.TokenInvalid(err)
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, autherr.TokenInvalid(errors.New("token has no subject"))
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	u, err := e.users.ResolveExternal(ctx, users.ExternalIdentity{
		Provider:      e.cfg.Name,
		Subject:       sub,
		Email:         email,
		EmailVerified: boolClaim(claims["email_verified"]),
		Name:          name,
	}, users.LinkPolicy{LinkByEmail: e.cfg.LinkByEmail, RequireVerifiedEmail: e.cfg.RequireVerifiedEmail})
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, nil
	}
	return u, nil
}

// boolClaim accepts true and "true"; some providers send the latter.
func boolClaim(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	}
	return false
}

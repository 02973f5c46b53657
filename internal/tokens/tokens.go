// Package tokens issues, verifies and decodes the HS256 session tokens minted
// by this service. Access and refresh tokens are signed with distinct secrets.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// private claim names
const (
	claimKind     = "typ"
	claimProvider = "prv"
)

var registered = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true, "nbf": true, "iat": true, "jti": true,
	claimKind: true, claimProvider: true,
}

// Payload is the decoded content of a session token.
type Payload struct {
	UserID    string
	Provider  string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	TokenID   string
	Kind      Kind
	Custom    map[string]any
}

// Config holds the static token settings.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
}

// Manager signs and verifies session tokens.
type Manager struct {
	cfg Config
	now func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	switch {
	case cfg.AccessSecret == "" || cfg.RefreshSecret == "":
		return nil, autherr.Service("token secrets are not configured", nil)
	case cfg.AccessSecret == cfg.RefreshSecret:
		return nil, autherr.Service("access and refresh secrets must differ", nil)
	case cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0:
		return nil, autherr.Service("token TTLs must be positive", nil)
	case cfg.Issuer == "" || cfg.Audience == "":
		return nil, autherr.Service("token issuer and audience are required", nil)
	}
	m := &Manager{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// IssueAccessToken signs p as an access token.
func (m *Manager) IssueAccessToken(p Payload) (string, error) {
	return m.issue(p, KindAccess)
}

// IssueRefreshToken signs p as a refresh token.
func (m *Manager) IssueRefreshToken(p Payload) (string, error) {
	return m.issue(p, KindRefresh)
}

// IssuePair signs p as both an access and a refresh token.
func (m *Manager) IssuePair(p Payload) (access, refresh string, err error) {
	if access, err = m.issue(p, KindAccess); err != nil {
		return "", "", err
	}
	if refresh, err = m.issue(p, KindRefresh); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// VerifyAccessToken verifies signature, issuer, audience, expiry and kind.
func (m *Manager) VerifyAccessToken(tok string) (*Payload, error) {
	return m.verify(tok, KindAccess)
}

// VerifyRefreshToken verifies a refresh token.
func (m *Manager) VerifyRefreshToken(tok string) (*Payload, error) {
	return m.verify(tok, KindRefresh)
}

// Decode parses tok without verifying its signature. Only use the result for
// non trust-sensitive introspection such as reading exp before revocation.
func (m *Manager) Decode(tok string) (*Payload, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil, autherr.TokenMalformed(err)
	}
	return payloadFromClaims(claims), nil
}

// RevocationEntry returns the token id and expiry used to register a revocation.
func (m *Manager) RevocationEntry(tok string) (string, time.Time, error) {
	p, err := m.Decode(tok)
	if err != nil {
		return "", time.Time{}, err
	}
	if p.TokenID == "" || p.ExpiresAt.IsZero() {
		return "", time.Time{}, autherr.TokenMalformed(errors.New("token has no jti or exp"))
	}
	return p.TokenID, p.ExpiresAt, nil
}

func (m *Manager) secret(kind Kind) []byte {
	if kind == KindRefresh {
		return []byte(m.cfg.RefreshSecret)
	}
	return []byte(m.cfg.AccessSecret)
}

func (m *Manager) ttl(kind Kind) time.Duration {
	if kind == KindRefresh {
		return m.cfg.RefreshTTL
	}
	return m.cfg.AccessTTL
}

func (m *Manager) issue(p Payload, kind Kind) (string, error) {
	if p.UserID == "" {
		return "", autherr.Service("cannot issue a token without a user id", nil)
	}
	now := m.now()
	claims := jwt.MapClaims{}
	for k, v := range p.Custom {
		if !registered[k] {
			claims[k] = v
		}
	}
	claims["sub"] = p.UserID
	claims["iss"] = m.cfg.Issuer
	claims["aud"] = m.cfg.Audience
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(m.ttl(kind)).Unix()
	claims["jti"] = uuid.NewString()
	claims[claimKind] = string(kind)
	if p.Provider != "" {
		claims[claimProvider] = p.Provider
	}

	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := jt.SignedString(m.secret(kind))
	if err != nil {
		return "", autherr.Service("sign token", err)
	}
	return s, nil
}

func (m *Manager) verify(tok string, kind Kind) (*Payload, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret(kind), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.TokenExpired(err)
		}
		return nil, autherr.TokenInvalid(err)
	}
	p := payloadFromClaims(claims)
	if p.Kind != kind {
		return nil, autherr.TokenInvalid(fmt.Errorf("expected %s token, got %q", kind, p.Kind))
	}
	if p.UserID == "" {
		return nil, autherr.TokenInvalid(errors.New("token has no subject"))
	}
	return p, nil
}

func payloadFromClaims(claims jwt.MapClaims) *Payload {
	p := &Payload{Custom: map[string]any{}}
	p.UserID, _ = claims.GetSubject()
	p.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		p.Audience = aud[0]
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		p.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	p.TokenID, _ = claims["jti"].(string)
	if k, ok := claims[claimKind].(string); ok {
		p.Kind = Kind(k)
	}
	p.Provider, _ = claims[claimProvider].(string)
	for k, v := range claims {
		if !registered[k] {
			p.Custom[k] = v
		}
	}
	return p
}

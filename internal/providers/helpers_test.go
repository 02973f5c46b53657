package providers

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/cache"
	"github.com/gogotex/gogotex/backend/auth-service/internal/password"
	"github.com/gogotex/gogotex/backend/auth-service/internal/revocation"
	"github.com/gogotex/gogotex/backend/auth-service/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-service/internal/users"
)

const (
	extIssuer   = "https://id.example.com"
	extAudience = "app-123"
)

type fixture struct {
	tokens   *tokens.Manager
	repo     *users.MemoryRepository
	users    *users.Service
	denylist *revocation.Denylist
	local    *Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tm, err := tokens.NewManager(tokens.Config{
		AccessSecret:  "access-secret-for-tests-0123456789",
		RefreshSecret: "refresh-secret-for-tests-0123456789",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "gogotex-auth",
		Audience:      "gogotex",
	})
	require.NoError(t, err)
	h, err := password.NewHasher(4)
	require.NoError(t, err)
	repo := users.NewMemoryRepository()
	svc := users.NewService(repo, h)
	dl := revocation.New(cache.NewMemoryCache(nil), nil)
	local, err := NewLocal(tm, svc, dl)
	require.NoError(t, err)
	return &fixture{tokens: tm, repo: repo, users: svc, denylist: dl, local: local}
}

// staticKeys serves keys from a map and counts lookups.
type staticKeys struct {
	keys  map[string]any
	calls atomic.Int32
}

func (s *staticKeys) Key(_ context.Context, kid, _ string) (any, error) {
	s.calls.Add(1)
	if k, ok := s.keys[kid]; ok {
		return k, nil
	}
	return nil, autherr.KeyNotFound(kid)
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

// extClaims returns a valid claim set for the external provider.
func extClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": extIssuer,
		"aud": extAudience,
		"sub": sub,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
	}
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func (f *fixture) external(t *testing.T, keys KeySource, mutate ...func(*ExternalConfig)) *External {
	t.Helper()
	cfg := ExternalConfig{Name: "ext", Issuer: extIssuer, Audience: extAudience, LinkByEmail: true}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewExternal(cfg, f.tokens, f.users, keys, f.denylist)
	require.NoError(t, err)
	return e
}

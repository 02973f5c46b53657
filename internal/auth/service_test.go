package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/cache"
	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
	"github.com/gogotex/gogotex/backend/auth-service/internal/password"
	"github.com/gogotex/gogotex/backend/auth-service/internal/providers"
	"github.com/gogotex/gogotex/backend/auth-service/internal/revocation"
	"github.com/gogotex/gogotex/backend/auth-service/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-service/internal/users"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/metrics"
)

const (
	extIssuer   = "https://id.example.com"
	extAudience = "app-123"
)

var tokenCfg = tokens.Config{
	AccessSecret:  "access-secret-for-tests-0123456789",
	RefreshSecret: "refresh-secret-for-tests-0123456789",
	AccessTTL:     15 * time.Minute,
	RefreshTTL:    time.Hour,
	Issuer:        "gogotex-auth",
	Audience:      "gogotex",
}

type env struct {
	svc      *Service
	tokens   *tokens.Manager
	repo     *users.MemoryRepository
	store    *cache.MemoryCache
	registry *providers.Registry
	extKey   *rsa.PrivateKey
}

type keyMap map[string]any

func (k keyMap) Key(_ context.Context, kid, _ string) (any, error) {
	if key, ok := k[kid]; ok {
		return key, nil
	}
	return nil, autherr.KeyNotFound(kid)
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	tm, err := tokens.NewManager(tokenCfg)
	require.NoError(t, err)
	h, err := password.NewHasher(4)
	require.NoError(t, err)
	repo := users.NewMemoryRepository()
	usvc := users.NewService(repo, h)
	store := cache.NewMemoryCache(nil)
	dl := revocation.New(store, nil)

	local, err := providers.NewLocal(tm, usvc, dl)
	require.NoError(t, err)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ext, err := providers.NewExternal(providers.ExternalConfig{
		Name: "ext", Issuer: extIssuer, Audience: extAudience, LinkByEmail: true,
	}, tm, usvc, keyMap{"k1": &key.PublicKey}, dl)
	require.NoError(t, err)

	reg, err := providers.NewRegistry(local, ext)
	require.NoError(t, err)
	return &env{
		svc:      NewService(reg, tm, dl, usvc, opts),
		tokens:   tm,
		repo:     repo,
		store:    store,
		registry: reg,
		extKey:   key,
	}
}

func (e *env) extToken(t *testing.T, sub, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": extIssuer,
		"aud": extAudience,
		"sub": sub,
		"jti": uuid.NewString(),
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(e.extKey)
	require.NoError(t, err)
	return s
}

func localCreds(email, pw string) providers.Credentials {
	return providers.Credentials{"email": email, "password": pw}
}

func TestRegisterThenValidateWithoutProvider(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	res, err := e.svc.Register(ctx, "local", localCreds("a@x.com", "longenough1"))
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", res.User.EmailValue())
	assert.Equal(t, "local", res.Provider)
	assert.Equal(t, "Bearer", res.TokenInfo.Type)
	assert.NotEmpty(t, res.TokenInfo.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), res.TokenInfo.ExpiresAt, 5*time.Second)

	v, err := e.svc.ValidateToken(ctx, res.TokenInfo.Token, "")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, v.UserID)
	assert.Equal(t, "local", v.Provider)
}

func TestLoginThenValidateSameProvider(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	_, err := e.svc.Register(ctx, "local", localCreds("a@x.com", "longenough1"))
	require.NoError(t, err)

	cases := map[string]providers.Credentials{
		"local": localCreds("a@x.com", "longenough1"),
		"ext":   {"token": e.extToken(t, "did:ext:9", "")},
	}
	for provider, creds := range cases {
		t.Run(provider, func(t *testing.T) {
			res, err := e.svc.Login(ctx, provider, creds)
			require.NoError(t, err)
			v, err := e.svc.ValidateToken(ctx, res.TokenInfo.Token, provider)
			require.NoError(t, err)
			assert.Equal(t, res.User.ID, v.UserID)
			assert.Equal(t, provider, v.Provider)
		})
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	e := newEnv(t, Options{})
	_, err := e.svc.Login(context.Background(), "local", localCreds("nobody@x.com", "whatever123"))
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
}

func TestUnknownProvider(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	_, err := e.svc.Login(ctx, "github", nil)
	require.ErrorIs(t, err, autherr.ErrUnknownProvider)
	// ext cannot register accounts
	_, err = e.svc.Register(ctx, "ext", nil)
	require.ErrorIs(t, err, autherr.ErrUnknownProvider)
	_, err = e.svc.ValidateToken(ctx, "x", "github")
	require.ErrorIs(t, err, autherr.ErrUnknownProvider)
	require.ErrorIs(t, e.svc.Logout(ctx, "x", "github"), autherr.ErrUnknownProvider)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	res, err := e.svc.Register(ctx, "local", localCreds("a@x.com", "longenough1"))
	require.NoError(t, err)

	past, err := tokens.NewManager(tokenCfg, tokens.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	require.NoError(t, err)
	old, err := past.IssueAccessToken(tokens.Payload{UserID: res.User.ID, Provider: "local"})
	require.NoError(t, err)

	_, err = e.svc.ValidateToken(ctx, old, "local")
	require.ErrorIs(t, err, autherr.ErrTokenExpired)
	// without a provider every rejection is unauthorized, the cause is kept
	_, err = e.svc.ValidateToken(ctx, old, "")
	require.ErrorIs(t, err, autherr.ErrUnauthorized)
	require.Equal(t, autherr.CodeUnauthorized, autherr.CodeOf(err))
	require.ErrorIs(t, err, autherr.ErrTokenExpired)
	require.NotErrorIs(t, err, autherr.ErrTokenInvalid)
}

func TestLogoutThenValidateIsRevoked(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	_, err := e.svc.Register(ctx, "local", localCreds("a@x.com", "longenough1"))
	require.NoError(t, err)

	for _, provider := range []string{"local", "ext"} {
		t.Run(provider, func(t *testing.T) {
			creds := localCreds("a@x.com", "longenough1")
			if provider == "ext" {
				creds = providers.Credentials{"token": e.extToken(t, "did:ext:logout", "")}
			}
			res, err := e.svc.Login(ctx, provider, creds)
			require.NoError(t, err)

			require.NoError(t, e.svc.Logout(ctx, res.TokenInfo.Token, provider))
			_, err = e.svc.ValidateToken(ctx, res.TokenInfo.Token, provider)
			require.ErrorIs(t, err, autherr.ErrTokenRevoked)
			_, err = e.svc.ValidateToken(ctx, res.TokenInfo.Token, "")
			require.Equal(t, autherr.CodeUnauthorized, autherr.CodeOf(err))
			require.ErrorIs(t, err, autherr.ErrTokenRevoked)
		})
	}

	// the remote token itself can be revoked too
	ext := e.extToken(t, "did:ext:remote", "")
	require.NoError(t, e.svc.Logout(ctx, ext, "ext"))
	_, err = e.svc.ValidateToken(ctx, ext, "ext")
	require.ErrorIs(t, err, autherr.ErrTokenRevoked)
}

func TestLogout_MalformedToken(t *testing.T) {
	e := newEnv(t, Options{})
	err := e.svc.Logout(context.Background(), "garbage", "local")
	require.ErrorIs(t, err, autherr.ErrTokenMalformed)
}

func TestConcurrentRegisterSameEmail(t *testing.T) {
	e := newEnv(t, Options{})
	var g errgroup.Group
	errs := make([]error, 2)
	for i := range errs {
		i := i
		g.Go(func() error {
			_, errs[i] = e.svc.Register(context.Background(), "local", localCreds("same@x.com", "longenough1"))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			require.ErrorIs(t, err, autherr.ErrAlreadyExists)
		}
	}
	assert.Equal(t, 1, failed)
	u, err := e.repo.GetUserByEmail(context.Background(), "same@x.com")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
}

func TestExternalTokenLinksToExistingLocalUser(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	local, err := e.svc.Register(ctx, "local", localCreds("a@x.com", "longenough1"))
	require.NoError(t, err)

	res, err := e.svc.Login(ctx, "ext", providers.Credentials{"token": e.extToken(t, "did:ext:123", "a@x.com")})
	require.NoError(t, err)
	assert.Equal(t, local.User.ID, res.User.ID)
	assert.Equal(t, "ext", res.Provider)

	v, err := e.svc.ValidateToken(ctx, e.extToken(t, "did:ext:123", ""), "ext")
	require.NoError(t, err)
	assert.Equal(t, local.User.ID, v.UserID)
}

func TestRefreshTokens(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	reg, err := e.svc.Register(ctx, "local", localCreds("a@x.com", "longenough1"))
	require.NoError(t, err)

	out, err := e.svc.RefreshTokens(ctx, reg.TokenInfo.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, out.User.ID)
	assert.True(t, out.ExpiresAt.After(time.Now()))

	p, err := e.tokens.Decode(out.AccessToken)
	require.NoError(t, err)
	assert.True(t, p.ExpiresAt.After(time.Now()))
	assert.Equal(t, "local", p.Provider)

	v, err := e.svc.ValidateToken(ctx, out.AccessToken, "local")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, v.UserID)

	// rotation: the old refresh token is spent
	_, err = e.svc.RefreshTokens(ctx, reg.TokenInfo.RefreshToken)
	require.ErrorIs(t, err, autherr.ErrTokenRevoked)

	_, err = e.svc.RefreshTokens(ctx, out.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshTokens_Errors(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	reg, err := e.svc.Register(ctx, "local", localCreds("a@x.com", "longenough1"))
	require.NoError(t, err)

	past, err := tokens.NewManager(tokenCfg, tokens.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }))
	require.NoError(t, err)
	expired, err := past.IssueRefreshToken(tokens.Payload{UserID: reg.User.ID})
	require.NoError(t, err)
	_, err = e.svc.RefreshTokens(ctx, expired)
	require.ErrorIs(t, err, autherr.ErrTokenExpired)

	// access tokens are not refresh tokens
	_, err = e.svc.RefreshTokens(ctx, reg.TokenInfo.Token)
	require.ErrorIs(t, err, autherr.ErrTokenInvalid)

	ghost, err := e.tokens.IssueRefreshToken(tokens.Payload{UserID: "ghost"})
	require.NoError(t, err)
	_, err = e.svc.RefreshTokens(ctx, ghost)
	require.ErrorIs(t, err, autherr.ErrUnauthorized)

	reg.User.Active = false
	require.NoError(t, e.repo.UpdateUser(ctx, reg.User))
	_, err = e.svc.RefreshTokens(ctx, reg.TokenInfo.RefreshToken)
	require.ErrorIs(t, err, autherr.ErrUnauthorized)
}

func TestValidateWithoutProvider_Failures(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	_, err := e.svc.ValidateToken(ctx, "garbage", "")
	require.ErrorIs(t, err, autherr.ErrUnauthorized)

	// a remote token is not a session token
	_, err = e.svc.ValidateToken(ctx, e.extToken(t, "did:ext:1", ""), "")
	require.ErrorIs(t, err, autherr.ErrUnauthorized)

	ghost, err := e.tokens.IssueAccessToken(tokens.Payload{UserID: "ghost"})
	require.NoError(t, err)
	_, err = e.svc.ValidateToken(ctx, ghost, "")
	require.ErrorIs(t, err, autherr.ErrUnauthorized)
	_, err = e.svc.ValidateToken(ctx, ghost, "local")
	require.ErrorIs(t, err, autherr.ErrUnauthorized)
}

func TestValidateWithConfiguredDefaultProvider(t *testing.T) {
	e := newEnv(t, Options{DefaultProvider: "ext"})
	v, err := e.svc.ValidateToken(context.Background(), e.extToken(t, "did:ext:default", ""), "")
	require.NoError(t, err)
	assert.Equal(t, "ext", v.Provider)
}

// slowProvider blocks until the operation deadline.
type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }

func (slowProvider) Authenticate(ctx context.Context, _ providers.Credentials) (*providers.AuthResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowProvider) UserFromToken(ctx context.Context, _ string) (*models.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowProvider) Revoke(context.Context, string) error {
	return errors.New("cache unreachable")
}

func TestTimeoutsAndUnexpectedErrorsAreServiceErrors(t *testing.T) {
	e := newEnv(t, Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, e.registry.Register(slowProvider{}))
	ctx := context.Background()

	start := time.Now()
	_, err := e.svc.Login(ctx, "slow", nil)
	require.ErrorIs(t, err, autherr.ErrServiceError)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = e.svc.ValidateToken(ctx, "x", "slow")
	require.ErrorIs(t, err, autherr.ErrServiceError)

	err = e.svc.Logout(ctx, "x", "slow")
	require.ErrorIs(t, err, autherr.ErrServiceError)
}

func TestProviders(t *testing.T) {
	e := newEnv(t, Options{})
	assert.Equal(t, []string{"ext", "local"}, e.svc.Providers())
}

func TestUnknownProviderNamesShareOneSeries(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	series := metrics.AuthOperations.WithLabelValues("login", "unknown", string(autherr.CodeUnknownProvider))
	before := testutil.ToFloat64(series)
	count := testutil.CollectAndCount(metrics.AuthOperations)

	for i := 0; i < 5; i++ {
		_, err := e.svc.Login(ctx, fmt.Sprintf("bogus-%d", i), nil)
		require.ErrorIs(t, err, autherr.ErrUnknownProvider)
	}
	assert.Equal(t, before+5, testutil.ToFloat64(series))
	assert.Equal(t, count, testutil.CollectAndCount(metrics.AuthOperations))

	// configured providers keep their own label
	local := metrics.AuthOperations.WithLabelValues("login", "local", string(autherr.CodeInvalidCredentials))
	before = testutil.ToFloat64(local)
	_, err := e.svc.Login(ctx, "local", localCreds("nobody@x.com", "whatever123"))
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	assert.Equal(t, before+1, testutil.ToFloat64(local))
}

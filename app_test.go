package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogotex/gogotex/backend/auth-service/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Backend: "memory"},
		JWT: config.JWTConfig{
			AccessSecret:    "access-secret-for-app-tests-000001",
			RefreshSecret:   "refresh-secret-for-app-tests-00001",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: time.Hour,
			Issuer:          "gogotex-auth",
			Audience:        "gogotex",
		},
		Auth: config.AuthConfig{LocalEnabled: true, DefaultProvider: "local", BcryptCost: 4, OperationTimeout: 5 * time.Second},
	}
}

func post(t *testing.T, h http.Handler, path string, body any) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestApp_MemoryBackend(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := newApp(context.Background(), baseConfig())
	require.NoError(t, err)
	defer a.Close()
	r := a.router()

	code, _ := post(t, r, "/auth/local/register", map[string]string{"email": "a@x.com", "password": "longenough1"})
	require.Equal(t, http.StatusCreated, code)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, "healthy", w.Body.String())
}

func TestApp_ExternalProviderWithRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	var hits atomic.Int32
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"},
		}})
	}))
	defer jwks.Close()

	cfg := baseConfig()
	cfg.Redis = config.RedisConfig{Host: m.Host(), Port: m.Port(), Prefix: "auth:"}
	cfg.External = config.ExternalConfig{
		Enabled:     true,
		Name:        "did",
		Issuer:      "https://id.example.com",
		AppID:       "app-123",
		JWKSURL:     jwks.URL,
		Algorithm:   "RS256",
		KeySetTTL:   time.Hour,
		HTTPTimeout: 5 * time.Second,
		ClockSkew:   30 * time.Second,
		LinkByEmail: true,
	}

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	r := a.router()
	assert.Equal(t, []string{"did", "local"}, a.auth.Providers())

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "did:example:1", "iss": "https://id.example.com", "aud": "app-123",
		"exp": now.Add(time.Hour).Unix(), "iat": now.Unix(), "jti": uuid.NewString(),
		"email": "d@x.com", "email_verified": true,
	})
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString(key)
	require.NoError(t, err)

	code, body := post(t, r, "/auth/did/login", map[string]string{"token": raw})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "did", body["provider"])
	assert.True(t, m.Exists("auth:keyset:did"))

	code, _ = post(t, r, "/auth/validate", map[string]string{"token": raw, "provider": "did"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int32(1), hits.Load())

	code, _ = post(t, r, "/auth/did/logout", map[string]string{"token": raw})
	require.Equal(t, http.StatusOK, code)
	code, body = post(t, r, "/auth/validate", map[string]string{"token": raw, "provider": "did"})
	require.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "token_revoked", body["error"])

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	m.Close()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestApp_RedisUnreachable(t *testing.T) {
	cfg := baseConfig()
	cfg.Redis = config.RedisConfig{Host: "127.0.0.1", Port: "1"}
	_, err := newApp(context.Background(), cfg)
	require.Error(t, err)
}

func TestApp_RateLimitKeysProtectedRoutesByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := baseConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	r := a.router()

	// both registrations come from one IP and use its two tokens
	_, alice := post(t, r, "/auth/local/register", map[string]string{"email": "alice@x.com", "password": "longenough1"})
	_, bob := post(t, r, "/auth/local/register", map[string]string{"email": "bob@x.com", "password": "longenough1"})
	require.NotEmpty(t, alice["token"])
	require.NotEmpty(t, bob["token"])
	code, _ := post(t, r, "/auth/local/login", map[string]string{"email": "alice@x.com", "password": "longenough1"})
	require.Equal(t, http.StatusTooManyRequests, code)

	me := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	// the IP is exhausted, but each user has a bucket of their own
	require.Equal(t, http.StatusOK, me(alice["token"].(string)))
	require.Equal(t, http.StatusOK, me(alice["token"].(string)))
	require.Equal(t, http.StatusTooManyRequests, me(alice["token"].(string)))
	require.Equal(t, http.StatusOK, me(bob["token"].(string)))
}

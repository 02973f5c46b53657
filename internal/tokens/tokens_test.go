package tokens

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
)

func testConfig() Config {
	return Config{
		AccessSecret:  "access-secret-32-bytes-should-be-long-enough",
		RefreshSecret: "refresh-secret-32-bytes-should-be-long-enough",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "gogotex-auth",
		Audience:      "gogotex",
	}
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(testConfig(), opts...)
	require.NoError(t, err)
	return m
}

func TestNewManager_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshSecret = cfg.AccessSecret
	_, err := NewManager(cfg)
	require.ErrorIs(t, err, autherr.ErrServiceError)

	cfg = testConfig()
	cfg.AccessSecret = ""
	_, err = NewManager(cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.Audience = ""
	_, err = NewManager(cfg)
	require.Error(t, err)
}

func TestIssueVerifyAccessToken_RoundTrip(t *testing.T) {
	m := newManager(t)
	custom := map[string]any{
		"email":  "a@x.com",
		"scopes": []any{"read", "write"},
		"admin":  true,
		"score":  float64(42),
		"sub":    "attempted-override",
	}
	tok, err := m.IssueAccessToken(Payload{UserID: "user-123", Provider: "local", Custom: custom})
	require.NoError(t, err)

	p, err := m.VerifyAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", p.UserID)
	assert.Equal(t, "local", p.Provider)
	assert.Equal(t, KindAccess, p.Kind)
	assert.Equal(t, "gogotex-auth", p.Issuer)
	assert.Equal(t, "gogotex", p.Audience)
	assert.NotEmpty(t, p.TokenID)
	assert.Equal(t, map[string]any{
		"email":  "a@x.com",
		"scopes": []any{"read", "write"},
		"admin":  true,
		"score":  float64(42),
	}, p.Custom)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), p.ExpiresAt, 2*time.Second)
}

func TestTokenIDsAreUnique(t *testing.T) {
	m := newManager(t)
	a, err := m.IssueAccessToken(Payload{UserID: "u"})
	require.NoError(t, err)
	b, err := m.IssueAccessToken(Payload{UserID: "u"})
	require.NoError(t, err)
	pa, _ := m.Decode(a)
	pb, _ := m.Decode(b)
	assert.NotEqual(t, pa.TokenID, pb.TokenID)
}

func TestVerify_ExpiredIsTokenExpired(t *testing.T) {
	issuedAt := time.Now().Add(-time.Hour)
	issuer := newManager(t, WithClock(func() time.Time { return issuedAt }))
	tok, err := issuer.IssueAccessToken(Payload{UserID: "u1"})
	require.NoError(t, err)

	_, err = newManager(t).VerifyAccessToken(tok)
	require.ErrorIs(t, err, autherr.ErrTokenExpired)
	require.NotErrorIs(t, err, autherr.ErrTokenInvalid)
}

func TestVerify_ExpiredWithWrongAudienceIsStillExpired(t *testing.T) {
	cfg := testConfig()
	cfg.Audience = "someone-else"
	past := time.Now().Add(-time.Hour)
	other, err := NewManager(cfg, WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	tok, err := other.IssueAccessToken(Payload{UserID: "u1"})
	require.NoError(t, err)

	_, err = newManager(t).VerifyAccessToken(tok)
	require.ErrorIs(t, err, autherr.ErrTokenExpired)
}

func TestVerify_KindsAreNotInterchangeable(t *testing.T) {
	m := newManager(t)
	access, err := m.IssueAccessToken(Payload{UserID: "u1"})
	require.NoError(t, err)
	refresh, err := m.IssueRefreshToken(Payload{UserID: "u1"})
	require.NoError(t, err)

	_, err = m.VerifyRefreshToken(access)
	require.ErrorIs(t, err, autherr.ErrTokenInvalid)
	_, err = m.VerifyAccessToken(refresh)
	require.ErrorIs(t, err, autherr.ErrTokenInvalid)

	p, err := m.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, KindRefresh, p.Kind)
}

func TestVerify_WrongIssuerFails(t *testing.T) {
	cfg := testConfig()
	cfg.Issuer = "evil"
	other, err := NewManager(cfg)
	require.NoError(t, err)
	tok, err := other.IssueAccessToken(Payload{UserID: "u1"})
	require.NoError(t, err)

	_, err = newManager(t).VerifyAccessToken(tok)
	require.ErrorIs(t, err, autherr.ErrTokenInvalid)
}

func TestParseToken_WrongSecretFails(t *testing.T) {
	cfg := testConfig()
	cfg.AccessSecret = "secret-one-32-bytes-xxxxxxxxxxxxxxxx"
	other, err := NewManager(cfg)
	require.NoError(t, err)
	tok, err := other.IssueAccessToken(Payload{UserID: "u3"})
	require.NoError(t, err)

	_, err = newManager(t).VerifyAccessToken(tok)
	require.ErrorIs(t, err, autherr.ErrTokenInvalid)
}

func TestParseToken_Malformed(t *testing.T) {
	m := newManager(t)
	_, err := m.VerifyAccessToken("not.a.jwt")
	require.ErrorIs(t, err, autherr.ErrTokenInvalid)

	_, err = m.Decode("definitely-not-a-token")
	require.ErrorIs(t, err, autherr.ErrTokenMalformed)
}

// Rejected when alg=none (unsigned token)
func TestParseToken_AlgNoneRejected(t *testing.T) {
	payload := `{"sub":"u-none","exp":9999999999,"iss":"gogotex-auth","aud":"gogotex","typ":"access"}`
	headerEnc := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payloadEnc := base64.RawURLEncoding.EncodeToString([]byte(payload))
	tok := headerEnc + "." + payloadEnc + "."

	_, err := newManager(t).VerifyAccessToken(tok)
	require.ErrorIs(t, err, autherr.ErrTokenInvalid)
}

// Tampering with payload must fail signature verification
func TestParseToken_TamperedPayload(t *testing.T) {
	m := newManager(t)
	tokenStr, err := m.IssueAccessToken(Payload{UserID: "user-t"})
	require.NoError(t, err)

	parts := strings.Split(tokenStr, ".")
	require.Len(t, parts, 3)
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(strings.Replace(string(payloadBytes), "user-t", "attacker", 1)))

	_, err = m.VerifyAccessToken(strings.Join(parts, "."))
	require.ErrorIs(t, err, autherr.ErrTokenInvalid)
}

func TestDecodeAndRevocationEntry(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	m := newManager(t, WithClock(func() time.Time { return past }))
	tok, err := m.IssueAccessToken(Payload{UserID: "u9"})
	require.NoError(t, err)

	// Decode works on expired tokens since it skips verification.
	p, err := m.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, "u9", p.UserID)

	jti, exp, err := m.RevocationEntry(tok)
	require.NoError(t, err)
	assert.Equal(t, p.TokenID, jti)
	assert.Equal(t, past.Add(15*time.Minute).Unix(), exp.Unix())

	noJTI, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, _, err = m.RevocationEntry(noJTI)
	require.True(t, errors.Is(err, autherr.ErrTokenMalformed))
}

func TestIssue_RequiresUserID(t *testing.T) {
	_, err := newManager(t).IssueAccessToken(Payload{})
	require.Error(t, err)
}

func TestIssuePair(t *testing.T) {
	m := newManager(t)
	access, refresh, err := m.IssuePair(Payload{UserID: "u1", Provider: "ext"})
	require.NoError(t, err)

	a, err := m.VerifyAccessToken(access)
	require.NoError(t, err)
	r, err := m.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "ext", a.Provider)
	assert.Equal(t, "ext", r.Provider)
	assert.NotEqual(t, a.TokenID, r.TokenID)
	assert.True(t, r.ExpiresAt.After(a.ExpiresAt))
}

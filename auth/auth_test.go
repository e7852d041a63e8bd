package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-valid-secret-key-at-least-32-chars"

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := New(&Config{SecretKey: testSecret})
	require.NoError(t, err)
	return issuer
}

func TestNew(t *testing.T) {
	t.Run("nil 配置", func(t *testing.T) {
		issuer, err := New(nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Nil(t, issuer)
	})

	t.Run("密钥过短", func(t *testing.T) {
		_, err := New(&Config{SecretKey: "short"})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("未配置密钥时使用随机密钥", func(t *testing.T) {
		cfg := &Config{}
		issuer, err := New(cfg)
		require.NoError(t, err)
		assert.Len(t, cfg.SecretKey, 64)
		assert.Equal(t, 10*time.Minute, issuer.TTL())
	})
}

func TestIssueAndParse(t *testing.T) {
	ctx := context.Background()
	issuer := newTestIssuer(t)

	token, err := issuer.Issue(ctx, Grant{
		PetitionID:         "pet-1",
		DocumentIdentifier: "DOC-1",
		ApplicationNumber:  "16123456",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))

	claims, err := issuer.Parse(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "pet-1", claims.PetitionID)
	assert.Equal(t, "DOC-1", claims.DocumentIdentifier)
	assert.Equal(t, "16123456", claims.ApplicationNumber)
	assert.Equal(t, "pet-1/DOC-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.Allows("pet-1", "DOC-1"))
	assert.False(t, claims.Allows("pet-1", "DOC-2"))

	other, err := issuer.Issue(ctx, Grant{PetitionID: "pet-1", DocumentIdentifier: "DOC-1"})
	require.NoError(t, err)
	otherClaims, err := issuer.Parse(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, otherClaims.ID)
}

func TestIssueRequiresDocument(t *testing.T) {
	issuer := newTestIssuer(t)

	_, err := issuer.Issue(context.Background(), Grant{PetitionID: "pet-1"})
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestParseFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("空令牌", func(t *testing.T) {
		_, err := newTestIssuer(t).Parse(ctx, "")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("过期令牌", func(t *testing.T) {
		issuer := newTestIssuer(t)
		issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := issuer.Issue(ctx, Grant{PetitionID: "p", DocumentIdentifier: "d"})
		require.NoError(t, err)

		issuer.now = time.Now
		_, err = issuer.Parse(ctx, token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("不同密钥签名", func(t *testing.T) {
		other, err := New(&Config{SecretKey: strings.Repeat("x", 40)})
		require.NoError(t, err)
		token, err := other.Issue(ctx, Grant{PetitionID: "p", DocumentIdentifier: "d"})
		require.NoError(t, err)

		_, err = newTestIssuer(t).Parse(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("签名算法不符", func(t *testing.T) {
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "fpd-mcp",
				Audience:  jwt.ClaimStrings{"centralized-proxy"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
			PetitionID:         "p",
			DocumentIdentifier: "d",
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = newTestIssuer(t).Parse(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("受众不符", func(t *testing.T) {
		other, err := New(&Config{SecretKey: testSecret, Audience: "someone-else"})
		require.NoError(t, err)
		token, err := other.Issue(ctx, Grant{PetitionID: "p", DocumentIdentifier: "d"})
		require.NoError(t, err)

		_, err = newTestIssuer(t).Parse(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("格式错误", func(t *testing.T) {
		_, err := newTestIssuer(t).Parse(ctx, "not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

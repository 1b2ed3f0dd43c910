package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestReferenceFromToken(t *testing.T) {
	v := NewValidator("test-secret")
	tok := sign(t, "test-secret", jwt.MapClaims{
		"sub": "a@b.com",
		"typ": "access",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	ref, err := v.ReferenceFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", ref)
}

func TestReferenceFromToken_NoTypClaim(t *testing.T) {
	v := NewValidator("test-secret")
	tok := sign(t, "test-secret", jwt.MapClaims{"sub": "+919876543210"})

	ref, err := v.ReferenceFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", ref)
}

func TestReferenceFromToken_Rejects(t *testing.T) {
	v := NewValidator("test-secret")

	cases := map[string]string{
		"wrong secret": sign(t, "other", jwt.MapClaims{"sub": "a@b.com"}),
		"refresh":      sign(t, "test-secret", jwt.MapClaims{"sub": "a@b.com", "typ": "refresh"}),
		"expired":      sign(t, "test-secret", jwt.MapClaims{"sub": "a@b.com", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no subject":   sign(t, "test-secret", jwt.MapClaims{"typ": "access"}),
		"garbage":      "not-a-jwt",
	}
	for name, tok := range cases {
		tok := tok
		t.Run(name, func(t *testing.T) {
			_, err := v.ReferenceFromToken(tok)
			assert.Error(t, err)
		})
	}
}

func TestParseAndValidateToken_NoSecret(t *testing.T) {
	_, err := NewValidator("  ").ParseAndValidateToken("x", "")
	assert.ErrorIs(t, err, ErrSecretNotConfigured)
}

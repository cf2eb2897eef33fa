package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallwayfm/hallway/internal/domain"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier("topsecret")
	uid, err := v.Verify(signToken(t, "topsecret", "alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), uid)
}

func TestVerifyEmptyToken(t *testing.T) {
	v := NewVerifier("topsecret")
	_, err := v.Verify("")
	assert.True(t, errors.Is(err, domain.ErrAuthRequired))
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewVerifier("topsecret")
	_, err := v.Verify(signToken(t, "othersecret", "alice"))
	assert.True(t, errors.Is(err, domain.ErrAuthRequired))
}

func TestVerifyMissingSubject(t *testing.T) {
	v := NewVerifier("topsecret")
	_, err := v.Verify(signToken(t, "topsecret", ""))
	assert.True(t, errors.Is(err, domain.ErrAuthRequired))
}

func TestVerifyGarbage(t *testing.T) {
	v := NewVerifier("topsecret")
	_, err := v.Verify("not.a.jwt")
	assert.True(t, errors.Is(err, domain.ErrAuthRequired))
}

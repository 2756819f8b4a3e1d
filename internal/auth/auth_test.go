package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWT_BearerHeader(t *testing.T) {
	a := NewJWT("secret")
	token := signToken(t, "secret", jwt.MapClaims{"sub": "user-1", "name": "Alice"})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	id, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "Alice", id.Name)
}

func TestJWT_QueryParam(t *testing.T) {
	a := NewJWT("secret")
	token := signToken(t, "secret", jwt.MapClaims{"sub": "user-2"})

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	id, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-2", id.UserID)
	assert.Empty(t, id.Name)
}

func TestJWT_RejectsBadSignature(t *testing.T) {
	a := NewJWT("secret")
	token := signToken(t, "other-secret", jwt.MapClaims{"sub": "user-1"})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWT_RejectsMissingToken(t *testing.T) {
	a := NewJWT("secret")
	_, err := a.Authenticate(httptest.NewRequest("GET", "/ws", nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWT_RejectsMissingSubject(t *testing.T) {
	a := NewJWT("secret")
	token := signToken(t, "secret", jwt.MapClaims{"name": "NoSub"})

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGuest(t *testing.T) {
	var a Guest

	id, err := a.Authenticate(httptest.NewRequest("GET", "/ws?uid=u-7&name=Bob", nil))
	require.NoError(t, err)
	assert.Equal(t, "u-7", id.UserID)
	assert.Equal(t, "Bob", id.Name)

	minted, err := a.Authenticate(httptest.NewRequest("GET", "/ws", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, minted.UserID)
}

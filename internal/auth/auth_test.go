package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-worker-service/internal/apperr"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret")
	user := uuid.New()

	tok, err := v.Sign(user, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)

	got, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestVerifier_UserIDClaim(t *testing.T) {
	user := uuid.New()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": user.String()}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	got, err := NewVerifier("secret").Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestVerifier_Rejects(t *testing.T) {
	user := uuid.New()
	other, _ := NewVerifier("other").Sign(user, jwt.RegisteredClaims{})
	expired, _ := NewVerifier("secret").Sign(user, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	notUUID, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("secret"))

	for name, tok := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong secret": other,
		"expired":      expired,
		"non-uuid sub": notUUID,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewVerifier("secret").Verify(tok)
			assert.True(t, errors.Is(err, apperr.ErrUnauthorized), "got %v", err)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic x")
	assert.Equal(t, "", TokenFromRequest(r))
}

func TestUserContext(t *testing.T) {
	_, err := UserFrom(context.Background())
	require.Error(t, err)

	id := uuid.New()
	got, err := UserFrom(WithUser(context.Background(), id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/port"
	cacheadapter "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/cache/adapter"
)

func TestJWTAuthenticator_IssueAndAuthenticate(t *testing.T) {
	a := NewJWTAuthenticator("test-secret", "dealer-api", nil)

	token, err := a.Issue(port.Identity{UserID: "u1", Name: "Ada", Email: "ada@example.com", Role: "buyer"}, time.Minute)
	require.NoError(t, err)

	id, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "Ada", id.Name)
	assert.Equal(t, "buyer", id.Role)
	assert.False(t, id.ExpiresAt.IsZero())

	id, err = a.Authenticate(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestJWTAuthenticator_Rejections(t *testing.T) {
	a := NewJWTAuthenticator("test-secret", "dealer-api", nil)
	other := NewJWTAuthenticator("other-secret", "dealer-api", nil)
	wrongIssuer := NewJWTAuthenticator("test-secret", "someone-else", nil)

	foreign, err := other.Issue(port.Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)
	misissued, err := wrongIssuer.Issue(port.Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)
	expired, err := a.Issue(port.Identity{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	noSubject, err := a.Issue(port.Identity{}, time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: port.ErrMissingToken},
		{name: "bearer only", token: "Bearer ", want: port.ErrMissingToken},
		{name: "garbage", token: "not-a-jwt", want: port.ErrInvalidToken},
		{name: "wrong secret", token: foreign, want: port.ErrInvalidToken},
		{name: "wrong issuer", token: misissued, want: port.ErrInvalidToken},
		{name: "expired", token: expired, want: port.ErrExpiredToken},
		{name: "no subject", token: noSubject, want: port.ErrInvalidToken},
		{name: "alg none", token: none, want: port.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJWTAuthenticator_Revoke(t *testing.T) {
	ctx := context.Background()
	a := NewJWTAuthenticator("test-secret", "", cacheadapter.NewMemoryCache())

	token, err := a.Issue(port.Identity{UserID: "u1", TokenID: "jti-1"}, time.Hour)
	require.NoError(t, err)

	_, err = a.Authenticate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, a.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))

	_, err = a.Authenticate(ctx, token)
	assert.ErrorIs(t, err, port.ErrRevokedToken)
}

func TestJWTAuthenticator_RevokeRequiresStore(t *testing.T) {
	a := NewJWTAuthenticator("test-secret", "", nil)
	assert.Error(t, a.Revoke(context.Background(), "jti-1", time.Now().Add(time.Hour)))
	assert.Error(t, NewJWTAuthenticator("s", "", cacheadapter.NewMemoryCache()).Revoke(context.Background(), "", time.Time{}))
}

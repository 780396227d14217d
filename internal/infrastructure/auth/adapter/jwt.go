package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/port"
	cacheport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/cache/port"
)

const revokedKeyPrefix = "auth:revoked:"

// Claims are the access-token claims issued by the dealership REST backend.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 access tokens and consults a revocation
// denylist kept in the cache.
type JWTAuthenticator struct {
	secret  []byte
	issuer  string
	revoked cacheport.Cache
	now     func() time.Time
}

// NewJWTAuthenticator returns an authenticator for tokens signed with secret.
// issuer is enforced when non-empty. revoked may be nil to disable revocation.
func NewJWTAuthenticator(secret, issuer string, revoked cacheport.Cache) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret:  []byte(secret),
		issuer:  issuer,
		revoked: revoked,
		now:     time.Now,
	}
}

var (
	_ port.Authenticator = (*JWTAuthenticator)(nil)
	_ port.Revoker       = (*JWTAuthenticator)(nil)
)

func (a *JWTAuthenticator) Authenticate(ctx context.Context, credential string) (port.Identity, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if credential == "" {
		return port.Identity{}, port.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return port.Identity{}, port.ErrExpiredToken
		}
		return port.Identity{}, port.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return port.Identity{}, port.ErrInvalidToken
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return port.Identity{}, port.ErrInvalidToken
	}

	if claims.ID != "" && a.revoked != nil {
		_, err := a.revoked.Get(ctx, revokedKeyPrefix+claims.ID)
		switch {
		case err == nil:
			return port.Identity{}, port.ErrRevokedToken
		case !errors.Is(err, cacheport.ErrMiss):
			return port.Identity{}, fmt.Errorf("%w: revocation check: %v", port.ErrInvalidToken, err)
		}
	}

	id := port.Identity{
		UserID:  userID,
		Name:    claims.Name,
		Email:   claims.Email,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Revoke denylists tokenID until the given time. Past or zero times fall
// back to one hour so a token without a known expiry is still refused for a while.
func (a *JWTAuthenticator) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return errors.New("auth: token id is required")
	}
	if a.revoked == nil {
		return errors.New("auth: revocation store not configured")
	}
	ttl := until.Sub(a.now())
	if until.IsZero() || ttl <= 0 {
		ttl = time.Hour
	}
	return a.revoked.Set(ctx, revokedKeyPrefix+tokenID, "1", ttl)
}

// Issue signs a token for identity. The REST backend owns issuance in
// production; this is used by tooling and tests.
func (a *JWTAuthenticator) Issue(identity port.Identity, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		UserID: identity.UserID,
		Name:   identity.Name,
		Email:  identity.Email,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        identity.TokenID,
			Issuer:    a.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

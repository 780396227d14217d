package port

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissingToken is returned when no credential was presented.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrInvalidToken is returned when a credential is malformed or its signature does not verify.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken is returned when a credential is past its expiry.
	ErrExpiredToken = errors.New("auth: token has expired")
	// ErrRevokedToken is returned when a credential was revoked before expiry.
	ErrRevokedToken = errors.New("auth: token has been revoked")
)

// Identity is the user a credential resolves to.
type Identity struct {
	UserID    string
	Name      string
	Email     string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// Authenticator validates the bearer credential presented at connect time.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// Revoker records that a token must no longer be accepted.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
}

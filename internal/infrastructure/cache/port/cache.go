package port

import (
	"context"
	"time"
)

// Cache is the key-value contract shared by the participant lookup cache and
// the token revocation denylist. Implementations must be safe for concurrent use.
// Values are strings; callers own their encoding.
type Cache interface {
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. A non-positive ttl means no expiration.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss signals a cache miss so callers can tell it apart from transport errors.
var ErrMiss = errMiss{}

type errMiss struct{}

func (e errMiss) Error() string { return "cache: miss" }

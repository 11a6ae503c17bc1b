package pool

import (
	"context"
	"time"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
)

// Store is the capability every lock store must provide. Both operations
// must be atomic on the store side.
type Store interface {
	// TrySet sets key to value with the given expiry only if key is absent.
	// It reports whether the value was written.
	TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareDelete deletes key only if its current value equals value. It
	// reports whether a key was deleted.
	CompareDelete(ctx context.Context, key, value string) (bool, error)
	// Close releases the connection held by the store.
	Close() error
}

// Pinger is implemented by stores that can check their connection. Pool
// construction pings stores that implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ValidateTTL rejects non-positive TTLs and TTLs with sub-millisecond parts.
func ValidateTTL(ttl time.Duration) error {
	if ttl <= 0 || ttl%time.Millisecond != 0 {
		return rlerrors.ErrInvalidTTL
	}
	return nil
}

package errors

import (
	"errors"
	"strings"
)

var (
	// ErrTimeout marks a store operation cut short by the pool's per-store
	// timeout.
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidTTL is returned for a non-positive TTL or one that is not a
	// whole number of milliseconds.
	ErrInvalidTTL = errors.New("redlock: ttl must be a positive whole number of milliseconds")
	// ErrInvalidResource is returned for an empty resource name.
	ErrInvalidResource = errors.New("redlock: resource must not be empty")
	// ErrInvalidToken is returned when releasing a lock without a key.
	ErrInvalidToken = errors.New("redlock: lock key must not be empty")
	// ErrInvalidConfig is returned for an unusable coordinator or pool configuration.
	ErrInvalidConfig = errors.New("redlock: invalid configuration")

	// ErrNoStores is returned when a pool is built from an empty config list.
	ErrNoStores = errors.New("redlock: no stores configured")
	// ErrCannotObtainLock is returned when fewer stores than the quorum could
	// be reached at construction, so no lock could ever be acquired.
	ErrCannotObtainLock = errors.New("redlock: failed to connect to the majority of stores")
	// ErrStoreUnavailable marks a store that could not be opened or pinged.
	ErrStoreUnavailable = errors.New("redlock: store unavailable")
	// ErrCircuitOpen is returned by a store whose circuit breaker is open.
	ErrCircuitOpen = errors.New("redlock: circuit breaker is open")
)

// MultiError collects the per-store errors of a fan-out that did not fail as
// a whole: a successful acquisition with some unreachable stores, or a
// release that could not reach every store.
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	parts := make([]string, 0, len(m.Errors))
	for _, err := range m.Errors {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, " :: ")
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Join returns a *MultiError holding the non-nil errors, or nil if there are
// none.
func Join(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &MultiError{Errors: kept}
}

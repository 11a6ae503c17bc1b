package pool

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// breakerStore decorates a Store with circuit breaker logic so that a store
// known to be down is skipped immediately instead of costing a timeout on
// every attempt.
type breakerStore struct {
	store     Store
	mu        sync.Mutex
	state     state
	failures  int
	threshold int
	cooldown  time.Duration
	lastFail  time.Time
	now       func() time.Time
}

func newBreakerStore(s Store, threshold int, cooldown time.Duration) *breakerStore {
	return &breakerStore{
		store:     s,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// allow reports whether a call may go through, moving an open breaker to
// half-open once the cooldown has passed. Only that one probe is let through.
func (b *breakerStore) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.lastFail) > b.cooldown {
			b.state = stateHalfOpen
			return true
		}
		return false
	}
	return false
}

// record updates the breaker with the result of a call made under ctx. A
// failure caused by the caller giving up says nothing about the store and
// is not counted; only the pool's own per-store timeout is.
func (b *breakerStore) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && ctx.Err() != nil && !stdErrors.Is(context.Cause(ctx), rlerrors.ErrTimeout) {
		if b.state == stateHalfOpen {
			b.state = stateOpen
		}
		return
	}
	if err == nil || stdErrors.Is(err, rlerrors.ErrInvalidTTL) {
		if b.state == stateHalfOpen {
			b.state = stateClosed
		}
		b.failures = 0
		return
	}
	b.lastFail = b.now()
	b.failures++
	if b.state == stateHalfOpen || (b.state == stateClosed && b.failures >= b.threshold) {
		b.state = stateOpen
	}
}

func (b *breakerStore) TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !b.allow() {
		return false, rlerrors.ErrCircuitOpen
	}
	ok, err := b.store.TrySet(ctx, key, value, ttl)
	b.record(ctx, err)
	return ok, err
}

func (b *breakerStore) CompareDelete(ctx context.Context, key, value string) (bool, error) {
	if !b.allow() {
		return false, rlerrors.ErrCircuitOpen
	}
	ok, err := b.store.CompareDelete(ctx, key, value)
	b.record(ctx, err)
	return ok, err
}

func (b *breakerStore) Close() error {
	return b.store.Close()
}

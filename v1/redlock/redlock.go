package redlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
	"github.com/mirkobrombin/go-redlock/v1/metrics"
	"github.com/mirkobrombin/go-redlock/v1/pool"
	"github.com/mirkobrombin/go-redlock/v1/syncbus"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-redlock/v1/redlock")

// releasedPrefix prefixes the bus key announcing that a resource was released.
const releasedPrefix = "redlock:released:"

// minDrift covers the one millisecond expiry precision of the stores plus
// one millisecond of drift for small TTLs.
const minDrift = 2 * time.Millisecond

// Lock is a held lock. It is a plain value: Release takes it by value and
// the caller must not use it after releasing.
type Lock struct {
	// Validity is how long, from the moment Acquire returned, the caller may
	// assume it owns the resource. It is always a whole number of
	// milliseconds.
	Validity time.Duration
	// Resource is the locked name.
	Resource string
	// Key is the random token written to the stores.
	Key string
	// Warnings holds the store errors seen by the winning attempt as a
	// *errors.MultiError, or nil. They did not prevent the quorum.
	Warnings error
}

// Coordinator acquires and releases locks on a pool. It keeps no state
// between calls and is safe for concurrent use.
type Coordinator struct {
	pool         *pool.Pool
	cfg          Config
	bus          syncbus.Bus
	id           string
	traceEnabled bool
	logger       *slog.Logger
	now          func() time.Time
}

// New returns a Coordinator over p configured with DefaultConfig and opts.
func New(p *pool.Pool, opts ...Option) (*Coordinator, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil pool", rlerrors.ErrInvalidConfig)
	}
	c := &Coordinator{
		pool:   p,
		cfg:    DefaultConfig(),
		id:     uuid.NewString(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Config returns the configuration in use.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// drift returns the clock drift allowance for ttl: floor(ttl*factor) + 2ms.
func (c *Coordinator) drift(ttl time.Duration) time.Duration {
	return time.Duration(float64(ttl.Milliseconds())*c.cfg.ClockDriftFactor)*time.Millisecond + minDrift
}

// Acquire tries to lock resource for ttl, making up to RetryCount attempts.
// It returns the lock and true on success. When every attempt failed it
// returns false and a nil error: the resource is held elsewhere or the
// stores were too slow. Errors are reserved for invalid input and for a
// context that ended before the lock was obtained.
func (c *Coordinator) Acquire(ctx context.Context, resource string, ttl time.Duration) (lock Lock, ok bool, err error) {
	if resource == "" {
		return Lock{}, false, rlerrors.ErrInvalidResource
	}
	if err := pool.ValidateTTL(ttl); err != nil {
		return Lock{}, false, err
	}

	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, "Redlock.Acquire", trace.WithAttributes(
			attribute.String("redlock.resource", resource),
			attribute.Int64("redlock.ttl_ms", ttl.Milliseconds()),
		))
		defer span.End()
	}
	began := time.Now()
	attempts := 0
	defer func() {
		metrics.AcquireLatency.Observe(time.Since(began).Seconds())
		result := metrics.ResultNotAcquired
		switch {
		case err != nil:
			result = metrics.ResultError
		case ok:
			result = metrics.ResultAcquired
		}
		metrics.AcquireCounter.WithLabelValues(result).Inc()
		if span != nil {
			span.SetAttributes(
				attribute.Int("redlock.attempts", attempts),
				attribute.Bool("redlock.acquired", ok),
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
	}()

	var released <-chan syncbus.Event
	if c.cfg.RetryCount != 1 {
		var stop func()
		released, stop = c.watch(ctx, resource)
		defer stop()
	}

	drift := c.drift(ttl)
	for {
		if err := ctx.Err(); err != nil {
			return Lock{}, false, err
		}
		attempts++
		lock, ok, err = c.attempt(ctx, resource, ttl, drift)
		if err != nil || ok {
			return lock, ok, err
		}
		if cerr := ctx.Err(); cerr != nil {
			return Lock{}, false, cerr
		}
		if c.cfg.RetryCount > 0 && attempts >= c.cfg.RetryCount {
			c.logger.Debug("redlock: lock not acquired", "resource", resource, "attempts", attempts)
			return Lock{}, false, nil
		}
		if released, err = c.wait(ctx, released); err != nil {
			return Lock{}, false, err
		}
	}
}

// attempt runs one quorum round with a fresh token. A failed round is
// rolled back on every store, whether or not its write succeeded there.
func (c *Coordinator) attempt(ctx context.Context, resource string, ttl, drift time.Duration) (Lock, bool, error) {
	metrics.AttemptCounter.Inc()
	token, err := newToken()
	if err != nil {
		return Lock{}, false, err
	}

	start := c.now()
	out, err := c.pool.TrySetAll(ctx, resource, token, ttl)
	if err != nil {
		return Lock{}, false, err
	}
	elapsed := time.Duration(c.now().Sub(start).Milliseconds()) * time.Millisecond
	validity := ttl - elapsed - drift
	c.recordStoreErrors("try_set", out.Errors)

	if out.Succeeded >= c.pool.Quorum() && validity > 0 {
		warnings := rlerrors.Join(out.Errors...)
		if warnings != nil {
			c.logger.Warn("redlock: lock acquired with store errors",
				"resource", resource, "stores", out.Succeeded, "error", warnings)
		}
		return Lock{Validity: validity, Resource: resource, Key: token, Warnings: warnings}, true, nil
	}

	rollback := c.pool.CompareDeleteAll(context.WithoutCancel(ctx), resource, token)
	c.recordStoreErrors("compare_delete", rollback.Errors)
	c.logger.Debug("redlock: attempt failed",
		"resource", resource, "stores", out.Succeeded, "quorum", c.pool.Quorum(), "validity", validity)
	return Lock{}, false, nil
}

// watch subscribes to release notifications for resource. Without a bus,
// or if subscribing fails, it returns a nil channel.
func (c *Coordinator) watch(ctx context.Context, resource string) (<-chan syncbus.Event, func()) {
	if c.bus == nil {
		return nil, func() {}
	}
	key := releasedPrefix + resource
	ch, err := c.bus.Subscribe(ctx, key)
	if err != nil {
		c.logger.Warn("redlock: release notifications unavailable", "resource", resource, "error", err)
		return nil, func() {}
	}
	return ch, func() {
		_ = c.bus.Unsubscribe(context.Background(), key, ch)
	}
}

// wait sleeps RetryDelay, returning early on a release notification. A
// closed notification channel is dropped and nil is returned in its place.
func (c *Coordinator) wait(ctx context.Context, released <-chan syncbus.Event) (<-chan syncbus.Event, error) {
	if c.cfg.RetryDelay <= 0 {
		return released, ctx.Err()
	}
	timer := time.NewTimer(c.cfg.RetryDelay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return released, nil
		case _, open := <-released:
			if open {
				return released, nil
			}
			released = nil
		case <-ctx.Done():
			return released, ctx.Err()
		}
	}
}

// Release deletes the lock key on every store where it still holds the
// lock token. Stores holding another token are left alone, so releasing
// twice, or after the lock expired and was taken by someone else, is
// harmless. Store failures are returned together as a *errors.MultiError
// after all stores were tried.
func (c *Coordinator) Release(ctx context.Context, lock Lock) (err error) {
	if lock.Resource == "" {
		return rlerrors.ErrInvalidResource
	}
	if lock.Key == "" {
		return rlerrors.ErrInvalidToken
	}
	if c.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Redlock.Release", trace.WithAttributes(
			attribute.String("redlock.resource", lock.Resource),
		))
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()
	}
	metrics.ReleaseCounter.Inc()

	out := c.pool.CompareDeleteAll(ctx, lock.Resource, lock.Key)
	c.recordStoreErrors("compare_delete", out.Errors)
	if c.bus != nil && out.Succeeded > 0 {
		if perr := c.bus.Publish(ctx, releasedPrefix+lock.Resource, []byte(c.id)); perr != nil {
			c.logger.Warn("redlock: release notification failed", "resource", lock.Resource, "error", perr)
		}
	}
	err = rlerrors.Join(out.Errors...)
	if err != nil {
		c.logger.Warn("redlock: release reached not every store", "resource", lock.Resource, "error", err)
	}
	return err
}

func (c *Coordinator) recordStoreErrors(op string, errs []error) {
	if len(errs) == 0 {
		return
	}
	metrics.StoreErrorCounter.WithLabelValues(op).Add(float64(len(errs)))
	for _, err := range errs {
		c.logger.Debug("redlock: store operation failed", "op", op, "error", err)
	}
}

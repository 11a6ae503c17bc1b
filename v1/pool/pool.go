package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
)

// Mode selects how construction treats stores that cannot be reached.
type Mode int

const (
	// Strict keeps connecting after a failure and only fails construction
	// when fewer stores than the quorum are reachable. Unreachable stores stay
	// in the pool: every operation still tries them and reports their errors,
	// and a store that comes back is used again.
	Strict Mode = iota
	// FailFast aborts construction on the first store that cannot be
	// reached.
	FailFast
)

const (
	// DefaultOpTimeout bounds every single-store operation.
	DefaultOpTimeout = 50 * time.Millisecond
	// DefaultConnectTimeout bounds dialing and pinging a store at construction.
	DefaultConnectTimeout = time.Second
)

type options struct {
	mode             Mode
	opTimeout        time.Duration
	connectTimeout   time.Duration
	ping             bool
	breakerThreshold int
	breakerCooldown  time.Duration
	logger           *slog.Logger
}

// Option configures a Pool.
type Option func(*options)

// WithMode sets the construction mode. The default is Strict.
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithOpTimeout sets the timeout applied to each store operation.
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) {
		o.opTimeout = d
	}
}

// WithConnectTimeout sets the timeout used to dial and ping each store while
// the pool is built.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithoutPing skips the connectivity check at construction. Only
// configuration errors then count as unreachable stores.
func WithoutPing() Option {
	return func(o *options) {
		o.ping = false
	}
}

// WithCircuitBreaker wraps every store in a circuit breaker that opens after
// threshold consecutive failures and probes again after cooldown.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(o *options) {
		o.breakerThreshold = threshold
		o.breakerCooldown = cooldown
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Pool is a fixed set of independent stores and the quorum derived from the
// number of configured stores.
type Pool struct {
	stores    []Store
	names     []string
	size      int
	quorum    int
	connected int
	opTimeout time.Duration
	logger    *slog.Logger
}

// Quorum returns the minimum number of stores, ⌊N/2⌋+1, that must accept a
// write for a lock to be held.
func Quorum(n int) int {
	return n/2 + 1
}

// New resolves configs into stores and returns a Pool. In Strict mode it
// fails with ErrCannotObtainLock when fewer than Quorum(len(configs)) stores
// are reachable; in FailFast mode any unreachable store fails construction
// with an error wrapping ErrStoreUnavailable.
func New(ctx context.Context, configs []StoreConfig, opts ...Option) (*Pool, error) {
	o := &options{
		mode:           Strict,
		opTimeout:      DefaultOpTimeout,
		connectTimeout: DefaultConnectTimeout,
		ping:           true,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(configs) == 0 {
		return nil, rlerrors.ErrNoStores
	}
	if o.opTimeout <= 0 || o.connectTimeout <= 0 {
		return nil, fmt.Errorf("%w: timeouts must be positive", rlerrors.ErrInvalidConfig)
	}

	p := &Pool{
		size:      len(configs),
		quorum:    Quorum(len(configs)),
		opTimeout: o.opTimeout,
		logger:    o.logger,
	}
	var failures []error
	for i, cfg := range configs {
		if cfg == nil {
			return nil, p.abort(fmt.Errorf("%w: nil store config at %d", rlerrors.ErrInvalidConfig, i))
		}
		s, name, err := o.connect(ctx, cfg)
		if err != nil {
			err = fmt.Errorf("%w: store %d (%s): %w", rlerrors.ErrStoreUnavailable, i, name, err)
			if o.mode == FailFast {
				if s != nil {
					_ = s.Close()
				}
				return nil, p.abort(err)
			}
			p.logger.Warn("redlock: store unavailable", "store", i, "addr", name, "error", err)
			failures = append(failures, err)
			if s == nil {
				s = unavailableStore{err: err}
			}
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
		} else {
			p.connected++
		}
		if o.breakerThreshold > 0 {
			s = newBreakerStore(s, o.breakerThreshold, o.breakerCooldown)
		}
		p.stores = append(p.stores, s)
		p.names = append(p.names, name)
	}
	if p.connected < p.quorum {
		return nil, p.abort(fmt.Errorf("%w: %d of %d reachable, quorum %d: %w",
			rlerrors.ErrCannotObtainLock, p.connected, p.size, p.quorum, rlerrors.Join(failures...)))
	}
	return p, nil
}

// unavailableStore stands in for a store whose configuration could not be
// turned into a client. Every call fails with the construction error.
type unavailableStore struct {
	err error
}

func (u unavailableStore) TrySet(context.Context, string, string, time.Duration) (bool, error) {
	return false, u.err
}

func (u unavailableStore) CompareDelete(context.Context, string, string) (bool, error) {
	return false, u.err
}

func (unavailableStore) Close() error { return nil }

// connect opens cfg and pings it. A store that opened but failed its ping is
// returned along with the error: its client reconnects on later calls.
func (o *options) connect(ctx context.Context, cfg StoreConfig) (Store, string, error) {
	s, name, err := cfg.open(o)
	if err != nil {
		return nil, name, err
	}
	if !o.ping {
		return s, name, nil
	}
	if pinger, ok := s.(Pinger); ok {
		pctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
		defer cancel()
		if err := pinger.Ping(pctx); err != nil {
			return s, name, err
		}
	}
	return s, name, nil
}

// abort closes the stores opened so far and returns err.
func (p *Pool) abort(err error) error {
	_ = p.Close()
	return err
}

// Size returns the number of configured stores.
func (p *Pool) Size() int { return p.size }

// Quorum returns the quorum computed at construction.
func (p *Pool) Quorum() int { return p.quorum }

// Connected returns the number of stores that were reachable at
// construction. The pool operates on all Size() stores regardless.
func (p *Pool) Connected() int { return p.connected }

// Close closes every store.
func (p *Pool) Close() error {
	var errs []error
	for _, s := range p.stores {
		errs = append(errs, s.Close())
	}
	p.stores = nil
	p.names = nil
	return rlerrors.Join(errs...)
}

// Outcome reports how one operation went across the pool.
type Outcome struct {
	// Succeeded counts stores that returned true.
	Succeeded int
	// Errors holds one entry per store that failed.
	Errors []error
}

// TrySetAll runs TrySet on every store concurrently. Store failures are
// collected in the outcome and never stop the fan-out; only an invalid TTL
// is returned as an error, before any store is contacted.
func (p *Pool) TrySetAll(ctx context.Context, key, value string, ttl time.Duration) (Outcome, error) {
	if err := ValidateTTL(ttl); err != nil {
		return Outcome{}, err
	}
	return p.fanOut(ctx, func(ctx context.Context, s Store) (bool, error) {
		return s.TrySet(ctx, key, value, ttl)
	}), nil
}

// CompareDeleteAll runs CompareDelete on every store concurrently.
// Succeeded counts the stores where the key held value and was deleted.
func (p *Pool) CompareDeleteAll(ctx context.Context, key, value string) Outcome {
	return p.fanOut(ctx, func(ctx context.Context, s Store) (bool, error) {
		return s.CompareDelete(ctx, key, value)
	})
}

func (p *Pool) fanOut(ctx context.Context, op func(context.Context, Store) (bool, error)) Outcome {
	var (
		mu  sync.Mutex
		out Outcome
		g   errgroup.Group
	)
	for i, s := range p.stores {
		g.Go(func() error {
			opCtx, cancel := context.WithTimeoutCause(ctx, p.opTimeout, rlerrors.ErrTimeout)
			defer cancel()
			ok, err := op(opCtx, s)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if opCtx.Err() != nil && context.Cause(opCtx) == rlerrors.ErrTimeout {
					err = fmt.Errorf("%w after %s: %w", rlerrors.ErrTimeout, p.opTimeout, err)
				}
				out.Errors = append(out.Errors, fmt.Errorf("store %s: %w", p.names[i], err))
				return nil
			}
			if ok {
				out.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

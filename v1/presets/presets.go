package presets

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
	"github.com/mirkobrombin/go-redlock/v1/pool"
	"github.com/mirkobrombin/go-redlock/v1/redlock"
	"github.com/mirkobrombin/go-redlock/v1/syncbus"
)

// RedisOptions configures a Redlock over Redis instances.
type RedisOptions struct {
	// URLs lists one redis:// URL per independent instance.
	URLs []string
	// RetryCount and RetryDelay override the redlock defaults when non-zero.
	RetryCount int
	RetryDelay time.Duration
	// Notify announces releases over Redis pub/sub on the first reachable
	// instance so waiting acquirers retry immediately. When no instance
	// accepts the subscription the locker works without notifications.
	Notify bool
	// Logger is shared by the pool, the coordinator and the bus. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Locker is a Coordinator together with the pool and bus it owns.
type Locker struct {
	*redlock.Coordinator
	closers []func() error
}

// Close releases the bus and the store connections.
func (l *Locker) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		errs = append(errs, l.closers[i]())
	}
	return rlerrors.Join(errs...)
}

// NewRedis builds a strict pool over opts.URLs and a coordinator on top.
func NewRedis(ctx context.Context, opts RedisOptions) (*Locker, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	configs := make([]pool.StoreConfig, 0, len(opts.URLs))
	for _, u := range opts.URLs {
		configs = append(configs, pool.URL(u))
	}
	p, err := pool.New(ctx, configs, pool.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	l := &Locker{closers: []func() error{p.Close}}

	ropts := []redlock.Option{redlock.WithLogger(logger)}
	if opts.RetryCount != 0 {
		ropts = append(ropts, redlock.WithRetryCount(opts.RetryCount))
	}
	if opts.RetryDelay != 0 {
		ropts = append(ropts, redlock.WithRetryDelay(opts.RetryDelay))
	}
	if opts.Notify {
		if bus := l.openBus(ctx, opts.URLs, logger); bus != nil {
			ropts = append(ropts, redlock.WithBus(bus))
		}
	}

	c, err := redlock.New(p, ropts...)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	l.Coordinator = c
	return l, nil
}

// openBus subscribes on the first of urls that accepts it. Notifications
// only shorten waits, so a failure on every instance is logged and nil is
// returned.
func (l *Locker) openBus(ctx context.Context, urls []string, logger *slog.Logger) *syncbus.RedisBus {
	for _, u := range urls {
		ropt, err := redis.ParseURL(u)
		if err != nil {
			logger.Warn("redlock: release bus unavailable", "url", u, "error", err)
			continue
		}
		client := redis.NewClient(ropt)
		bus, err := syncbus.NewRedisBus(ctx, client, "", syncbus.WithLogger(logger))
		if err != nil {
			_ = client.Close()
			logger.Warn("redlock: release bus unavailable", "addr", ropt.Addr, "error", err)
			continue
		}
		l.closers = append(l.closers, client.Close, bus.Close)
		return bus
	}
	logger.Warn("redlock: running without release notifications")
	return nil
}

// NewInMemoryStandalone returns a Locker over a single in-process store with
// an in-memory release bus. It only coordinates goroutines of one process
// and is meant for local development and tests.
func NewInMemoryStandalone() *Locker {
	p, err := pool.New(context.Background(), []pool.StoreConfig{pool.Handle{Store: pool.NewMemoryStore(), Name: "memory"}})
	if err != nil {
		panic(err)
	}
	bus := syncbus.NewInMemoryBus()
	c, err := redlock.New(p, redlock.WithBus(bus))
	if err != nil {
		panic(err)
	}
	return &Locker{Coordinator: c, closers: []func() error{p.Close, bus.Close}}
}

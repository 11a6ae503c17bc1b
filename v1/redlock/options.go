package redlock

import (
	"fmt"
	"log/slog"
	"time"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
	"github.com/mirkobrombin/go-redlock/v1/syncbus"
)

const (
	// DefaultRetryCount is the default number of acquisition attempts.
	DefaultRetryCount = 3
	// DefaultRetryDelay is the default pause between attempts.
	DefaultRetryDelay = 200 * time.Millisecond
	// DefaultClockDriftFactor is the share of the TTL reserved for clock drift.
	DefaultClockDriftFactor = 0.01
)

// Config holds the retry and validity parameters of a Coordinator.
type Config struct {
	// RetryCount is the number of attempts Acquire makes. A negative value
	// retries until the context ends.
	RetryCount int
	// RetryDelay is the pause between two attempts.
	RetryDelay time.Duration
	// ClockDriftFactor is multiplied by the TTL to get the drift allowance,
	// to which a fixed 2ms is added.
	ClockDriftFactor float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RetryCount:       DefaultRetryCount,
		RetryDelay:       DefaultRetryDelay,
		ClockDriftFactor: DefaultClockDriftFactor,
	}
}

func (c Config) validate() error {
	if c.RetryCount == 0 {
		return fmt.Errorf("%w: retry count must not be zero", rlerrors.ErrInvalidConfig)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: negative retry delay", rlerrors.ErrInvalidConfig)
	}
	if c.ClockDriftFactor < 0 || c.ClockDriftFactor >= 1 {
		return fmt.Errorf("%w: clock drift factor %v outside [0,1)", rlerrors.ErrInvalidConfig, c.ClockDriftFactor)
	}
	return nil
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// WithRetryCount sets the number of attempts. Negative retries forever.
func WithRetryCount(n int) Option {
	return func(c *Coordinator) {
		c.cfg.RetryCount = n
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.cfg.RetryDelay = d
	}
}

// WithClockDriftFactor sets the drift share of the TTL.
func WithClockDriftFactor(f float64) Option {
	return func(c *Coordinator) {
		c.cfg.ClockDriftFactor = f
	}
}

// WithBus publishes a notification on every release and lets Acquire wake
// up from its retry delay as soon as another holder releases the resource.
func WithBus(bus syncbus.Bus) Option {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

// WithTracing enables OpenTelemetry spans for Acquire and Release.
func WithTracing() Option {
	return func(c *Coordinator) {
		c.traceEnabled = true
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
	"github.com/mirkobrombin/go-redlock/v1/pool"
	"github.com/mirkobrombin/go-redlock/v1/redlock"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
	exitError  = 3
)

const defaultRedisURL = "redis://localhost:6379/0"

type urlList []string

func (u *urlList) String() string { return strings.Join(*u, ",") }

func (u *urlList) Set(v string) error {
	*u = append(*u, v)
	return nil
}

// cli holds the options shared by every subcommand.
type cli struct {
	urls   urlList
	quiet  bool
	trace  bool
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) register(fs *flag.FlagSet) {
	fs.Var(&c.urls, "redis", "Redis URL, repeatable (default "+defaultRedisURL+")")
	fs.BoolVar(&c.quiet, "quiet", c.quiet, "No stderr output, just a return code (and key for lock)")
	fs.BoolVar(&c.trace, "trace", c.trace, "Print OpenTelemetry spans to stderr")
}

func (c *cli) log(format string, args ...any) {
	if !c.quiet {
		fmt.Fprintf(c.stderr, format+"\n", args...)
	}
}

func (c *cli) logger() *slog.Logger {
	if c.quiet {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func (c *cli) configs() []pool.StoreConfig {
	urls := c.urls
	if len(urls) == 0 {
		urls = urlList{defaultRedisURL}
	}
	configs := make([]pool.StoreConfig, 0, len(urls))
	for _, u := range urls {
		configs = append(configs, pool.URL(u))
	}
	return configs
}

// coordinator builds the pool and coordinator. The returned cleanup closes
// the pool and flushes traces; it must be called even when err is non-nil.
func (c *cli) coordinator(ctx context.Context, opts ...redlock.Option) (*redlock.Coordinator, func(), error) {
	logger := c.logger()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if c.trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(c.stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, cleanup, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		otel.SetTracerProvider(tp)
		closers = append(closers, func() { _ = tp.Shutdown(context.Background()) })
		opts = append(opts, redlock.WithTracing())
	}
	p, err := pool.New(ctx, c.configs(), pool.WithLogger(logger))
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, func() { _ = p.Close() })
	coord, err := redlock.New(p, append(opts, redlock.WithLogger(logger))...)
	if err != nil {
		return nil, cleanup, err
	}
	return coord, cleanup, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	fs := flag.NewFlagSet("redlock", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c.register(fs)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: redlock [--redis URL]... [--quiet] [--trace] lock|unlock ...")
		fs.PrintDefaults()
		fmt.Fprintln(stderr, "\nReturn codes:\n  0 if the action succeeded\n  1 if the action failed (eg. timed out)\n  2 if there was an error with the options\n  3 if there was an error communicating with Redis (eg. socket timeout)")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return exitUsage
	}
	switch rest[0] {
	case "lock":
		return c.lock(ctx, rest[1:])
	case "unlock":
		return c.unlock(ctx, rest[1:])
	default:
		fmt.Fprintf(stderr, "redlock: unknown command %q\n", rest[0])
		fs.Usage()
		return exitUsage
	}
}

func (c *cli) lock(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	c.register(fs)
	retryCount := fs.Int("retry-count", 3, "Number of retries; negative blocks until acquired")
	retryDelay := fs.Int("retry-delay", 200, "Milliseconds between retries")
	fs.Usage = func() {
		fmt.Fprintln(c.stderr, "usage: redlock lock [--retry-count N] [--retry-delay MS] <name> <validity-ms>")
		fmt.Fprintln(c.stderr, "For non-blocking behaviour, set --retry-count=0 and --retry-delay=0.")
		fmt.Fprintln(c.stderr, "For infinitely blocking behaviour with retries every second, set --retry-count=-1 and --retry-delay=1000.")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}
	name := fs.Arg(0)
	validity, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(c.stderr, "redlock: validity %q is not an integer\n", fs.Arg(1))
		return exitUsage
	}
	if *retryDelay < 0 {
		fmt.Fprintln(c.stderr, "redlock: retry delay must not be negative")
		return exitUsage
	}
	attempts := *retryCount + 1
	if *retryCount < 0 {
		attempts = -1
	}

	coord, cleanup, err := c.coordinator(ctx,
		redlock.WithRetryCount(attempts),
		redlock.WithRetryDelay(time.Duration(*retryDelay)*time.Millisecond),
	)
	defer cleanup()
	if err != nil {
		c.log("error %s", err)
		return exitCode(err)
	}

	lock, ok, err := coord.Acquire(ctx, name, time.Duration(validity)*time.Millisecond)
	if err != nil {
		c.log("error %s", err)
		return exitCode(err)
	}
	if !ok {
		c.log("failed")
		return exitFailed
	}
	c.log("ok")
	fmt.Fprintln(c.stdout, lock.Key)
	return exitOK
}

func (c *cli) unlock(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	c.register(fs)
	fs.Usage = func() {
		fmt.Fprintln(c.stderr, "usage: redlock unlock <name> <key>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}

	coord, cleanup, err := c.coordinator(ctx)
	defer cleanup()
	if err != nil {
		c.log("Error: %s", err)
		return exitCode(err)
	}
	if err := coord.Release(ctx, redlock.Lock{Resource: fs.Arg(0), Key: fs.Arg(1)}); err != nil {
		c.log("Error: %s", err)
		return exitCode(err)
	}
	c.log("ok")
	return exitOK
}

// exitCode maps input and configuration errors to exitUsage and everything
// else to exitError.
func exitCode(err error) int {
	switch {
	case errors.Is(err, rlerrors.ErrInvalidTTL),
		errors.Is(err, rlerrors.ErrInvalidResource),
		errors.Is(err, rlerrors.ErrInvalidToken),
		errors.Is(err, rlerrors.ErrInvalidConfig) && !errors.Is(err, rlerrors.ErrCannotObtainLock):
		return exitUsage
	default:
		return exitError
	}
}

// Command redlock acquires and releases Redlock locks from the shell.
//
//	redlock [--redis URL]... [--quiet] [--trace] lock [--retry-count N] [--retry-delay MS] <name> <validity-ms>
//	redlock [--redis URL]... [--quiet] [--trace] unlock <name> <key>
//
// On success lock prints the lock key on stdout; pass it to unlock. Return
// codes: 0 if the action succeeded, 1 if it failed (the lock is held
// elsewhere), 2 if the options were invalid, 3 if a store could not be
// reached or answered with an error.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

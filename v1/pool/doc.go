// Package pool holds the set of independent key-value stores a Redlock
// coordinator writes to. It resolves store configurations once, computes the
// quorum, and fans single-key operations out to every store concurrently with
// a per-store timeout so that one dead store cannot stall an attempt.
package pool

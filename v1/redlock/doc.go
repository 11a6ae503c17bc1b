// Package redlock implements the Redlock distributed lock over a pool of
// independent stores.
//
// A lock is held once a strict majority of the stores accepted a fresh
// random token for the resource within the lock TTL. The Lock returned by
// Acquire carries a validity: the time the caller may assume exclusive
// ownership, already reduced by the time spent acquiring and by a clock
// drift allowance. Contention is not an error; Acquire reports it through
// its boolean result.
package redlock

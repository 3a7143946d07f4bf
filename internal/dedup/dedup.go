// Package dedup provides the bounded, time-expiring signature cache used
// by the live subscription path to suppress duplicate notifications.
package dedup

import "context"

// Cache is a set of recently-seen transaction signatures. It is not
// durable; persistence is idempotent, so rebuilding it after a restart is
// unnecessary.
type Cache interface {
	// Seen atomically checks for and inserts a signature. It returns
	// true when the signature was already present. The insert happens
	// before any processing of the signature begins.
	Seen(ctx context.Context, signature string) (bool, error)

	// Sweep evicts expired entries and, if the cache still exceeds its
	// maximum size, the oldest remaining entries first.
	Sweep(ctx context.Context) error

	// Size returns the current number of cached signatures.
	Size(ctx context.Context) (int, error)
}

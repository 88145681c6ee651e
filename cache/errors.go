package cache

import "github.com/cockroachdb/errors"

// Sentinel errors, matching the taxonomy in spec.md §7.
var (
	// ErrNoBuffer is a Transient error: the Allocator is at its pipeline
	// depth ceiling. The insert worker retries indefinitely on it; a
	// synchronous caller retries once it has released whatever lock it's
	// holding (see Cache.retryInsertImpl).
	ErrNoBuffer = errors.New("cache: no buffer available")

	// ErrFull is a Capacity error: Reserve could not make room even after
	// evicting every evictable file.
	ErrFull = errors.New("cache: full")

	// ErrClosed is returned by operations invoked after Close.
	ErrClosed = errors.New("cache: closed")
)

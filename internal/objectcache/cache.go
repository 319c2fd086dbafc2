// Package objectcache defines the minimal contract the coordination core
// requires of a connection's object cache. The core never decides what
// stays warm and what gets evicted; it only parameterizes size targets
// and triggers sweeps. Eviction policy is the cache's own business.
package objectcache

import "time"

// Cache is implemented by whatever per-connection object cache a real
// Connection carries. conn.Memory provides an in-memory reference
// implementation for tests and the bootstrap path.
type Cache interface {
	// NonGhostCount is the cache's warmth: the number of entries whose
	// state is loaded rather than a ghost placeholder.
	NonGhostCount() int

	// Size and SizeBytes report the cache's current target parameters.
	Size() int
	SizeBytes() int64

	// SetSize and SetSizeBytes are invoked by Database when an operator
	// reconfigures cache targets.
	SetSize(n int)
	SetSizeBytes(n int64)

	// FullSweep evicts every ghost-able entry down to the target size.
	FullSweep()
	// Minimize evicts every non-pinned entry, turning it into a ghost.
	Minimize()
	// IncrementalGC performs one bounded unit of garbage collection,
	// called opportunistically by ConnectionPool.AvailableGC.
	IncrementalGC()

	// LastGCTime is the wall time of the most recent sweep/minimize/GC.
	LastGCTime() time.Time

	// Each iterates (oid, object) pairs; f returning false stops iteration.
	// Ghost entries may be reported with a nil object.
	Each(f func(oid []byte, obj any) bool)
}

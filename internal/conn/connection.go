// Package conn defines the minimal Connection contract the coordination
// core depends on and a reference in-memory implementation used by
// pool, coordinator, and txn tests. A real Connection, with its own
// object-graph loader and pickling, remains an external collaborator;
// conn.Memory stands in for it everywhere the core needs something
// concrete to drive.
package conn

import (
	"time"

	"github.com/dependable-objdb/core/internal/objectcache"
)

// TransactionManager is the external transaction resource a Connection
// joins. Database.Close aborts it on every tracked connection as part of
// teardown.
type TransactionManager interface {
	Abort() error
}

// Connection is an opaque session handle owning an object cache,
// addressable by a snapshot key ("before"; nil means live/writable).
type Connection interface {
	// Before returns nil for a live connection, or the canonical 8-byte
	// snapshot key this connection serves historically.
	Before() []byte

	// Cache returns the connection's object cache.
	Cache() objectcache.Cache

	// Invalidate is called by Database.Invalidate for every connection
	// except the committer.
	Invalidate(tid []byte, oids [][]byte)
	// InvalidateCache is the tid/oid-less broadcast analogue.
	InvalidateCache()

	// ReleaseResources tears the connection down. Called exactly once per
	// reaped or closed connection.
	ReleaseResources() error

	// Open marks the connection as handed out, binding it to txnManager.
	Open(txnManager TransactionManager)
	// TransactionManager returns the manager bound by the most recent Open,
	// or nil if none.
	TransactionManager() TransactionManager

	// SetOpened records the wall time at which Database.Open handed this
	// connection out, or the zero time when Database.Return clears it.
	SetOpened(t time.Time)
	// Opened reports that time and whether the connection is currently
	// checked out.
	Opened() (time.Time, bool)

	// SetClosed neuters close/after-completion hooks once true, so a
	// connection cannot call back into a database that is closing
	//.
	SetClosed(closed bool)
	Closed() bool

	// SelfRef returns the address of a field that is reachable for
	// exactly as long as the connection itself is reachable. ConnectionPool
	// uses it to build a weak.Pointer for the `all` set without pinning checked-out
	// connections the caller has abandoned.
	SelfRef() *any
}

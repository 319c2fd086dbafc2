// Package storage defines the coordination core's external storage
// contract and two implementations: Memory, an in-process reference
// store used for bootstrap and tests, and Postgres, backed by pgx/v5
// against the three objdb_* tables. The low-level storage engine
// itself (append-only log, MVCC index, pack internals) remains an
// external collaborator; these two types exist only to give the
// interface something real to drive.
package storage

import (
	"context"
	"fmt"
	"time"
)

// ZeroOID is the root object's identifier: eight zero bytes.
var ZeroOID = [8]byte{}

// Transaction is an opaque handle threaded through one 2PC round trip. Its
// fields are only ever read/written by a Storage implementation's own
// methods.
type Transaction struct {
	backend any
}

// FinishCallback is invoked once a transaction's final tid is assigned,
// so callers (TransactionalUndo) can fan out invalidations.
type FinishCallback func(tid []byte)

// ReferencesFunc extracts the oids a pickle references, for Pack to
// determine reachability.
type ReferencesFunc func(pickle []byte) [][]byte

// NotFoundError is returned by Load when no revision of oid exists.
// Bootstrap relies on errors.IsNotFound (which checks for a NotFound()
// bool method) to distinguish this from a real failure.
type NotFoundError struct {
	OID []byte
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: oid %x", e.OID)
}

// NotFound satisfies errors.IsNotFound's duck-typed check.
func (e *NotFoundError) NotFound() bool { return true }

// DatabaseRegistrant is the minimal identity a coordinator.Database
// presents to RegisterDB, kept narrow to avoid an import cycle between
// storage and coordinator.
type DatabaseRegistrant interface {
	Name() string
}

// Storage is the external interface the coordination core depends on.
type Storage interface {
	// Load returns the most recent pickle for oid strictly before the
	// before key, or the latest revision when before is nil. Returns a
	// *NotFoundError when oid has never been written.
	Load(ctx context.Context, oid, before []byte) (pickle, serial []byte, err error)

	// Store buffers a write against txn; it is only durable once TPCFinish
	// succeeds.
	Store(ctx context.Context, txn *Transaction, oid, serial, pickle []byte) error

	TPCBegin(ctx context.Context, txn *Transaction) error
	// TPCVote may be a no-op for storages without a vote phase; callers
	// should check SupportsVote first (coordinator installs a shim when
	// it does not).
	TPCVote(ctx context.Context, txn *Transaction) (oids [][]byte, err error)
	TPCFinish(ctx context.Context, txn *Transaction, cb FinishCallback) error
	TPCAbort(ctx context.Context, txn *Transaction) error

	// Undo applies the inverse of tid within txn, returning the oids it
	// touched.
	Undo(ctx context.Context, tid []byte, txn *Transaction) (serial []byte, oids [][]byte, err error)

	Pack(ctx context.Context, t time.Time, refs ReferencesFunc) error

	LastTransaction(ctx context.Context) ([]byte, error)
	NewOID(ctx context.Context) ([]byte, error)
	IsReadOnly() bool
	Close(ctx context.Context) error
	Len(ctx context.Context) (int, error)

	// SortKey identifies this storage for transaction-manager ordering.
	SortKey() string

	SupportsUndo() bool
	// SupportsVote reports whether TPCVote is meaningfully implemented.
	// When false, the coordinator installs a no-op shim and logs a
	// protocol-compatibility warning.
	SupportsVote() bool

	RegisterDB(db DatabaseRegistrant) error
}

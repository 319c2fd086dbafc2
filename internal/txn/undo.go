// Package txn implements TransactionalUndo, the coordination core's 2PC
// participant that applies one or more prior transactions' inverses as a
// single new transaction.
package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dependable-objdb/core/internal/conn"
	cerrors "github.com/dependable-objdb/core/internal/errors"
	"github.com/dependable-objdb/core/internal/storage"
)

// State is TransactionalUndo's own position in the 2PC protocol,
// tracked so a method called out of order fails loudly rather than
// silently corrupting storage.
type State int

const (
	StateIdle State = iota
	StateBegun
	StateVoted
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBegun:
		return "begun"
	case StateVoted:
		return "voted"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Invalidator is the subset of coordinator.Database's interface
// TransactionalUndo needs to fan out its own commit's invalidation.
type Invalidator interface {
	Invalidate(tid []byte, oids [][]byte, committer conn.Connection)
}

// TransactionalUndo joins a single transaction manager round trip on
// behalf of one or more undo requests, applying each tid's inverse via
// the underlying storage and merging their touched oids into one
// invalidation.
type TransactionalUndo struct {
	mu sync.Mutex

	store       storage.Storage
	tids        [][]byte
	invalidator Invalidator

	uniq  string
	state State

	txn      *storage.Transaction
	oids     map[string]struct{}
	finalTID []byte
}

// New constructs a TransactionalUndo that will apply the inverse of every
// tid in tids, in order, as one transaction.
func New(st storage.Storage, tids [][]byte, invalidator Invalidator) *TransactionalUndo {
	return &TransactionalUndo{
		store:       st,
		tids:        tids,
		invalidator: invalidator,
		uniq:        uuid.NewString(),
		oids:        make(map[string]struct{}),
	}
}

// SortKey distinguishes this participant from the storage it wraps in
// transaction-manager ordering.
func (u *TransactionalUndo) SortKey() string {
	return u.store.SortKey() + ":undo:" + u.uniq
}

// TPCBegin opens a storage transaction and applies every tid's inverse
// into it, accumulating the oids each touched.
func (u *TransactionalUndo) TPCBegin(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != StateIdle {
		return fmt.Errorf("txn: undo already begun (state=%s)", u.state)
	}
	if !u.store.SupportsUndo() {
		return cerrors.ErrUndoNotSupported
	}

	u.txn = &storage.Transaction{}
	if err := u.store.TPCBegin(ctx, u.txn); err != nil {
		return fmt.Errorf("txn: begin: %w", err)
	}

	for _, tid := range u.tids {
		_, oids, err := u.store.Undo(ctx, tid, u.txn)
		if err != nil {
			_ = u.store.TPCAbort(ctx, u.txn)
			u.state = StateAborted
			return fmt.Errorf("txn: undo %x: %w", tid, err)
		}
		for _, oid := range oids {
			u.oids[string(oid)] = struct{}{}
		}
	}

	u.state = StateBegun
	return nil
}

// TPCVote forwards to storage's vote phase; storages without one see the
// coordinator's no-op shim.
func (u *TransactionalUndo) TPCVote(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != StateBegun {
		return fmt.Errorf("txn: vote called out of order (state=%s)", u.state)
	}
	oids, err := u.store.TPCVote(ctx, u.txn)
	if err != nil {
		return fmt.Errorf("txn: vote: %w", err)
	}
	for _, oid := range oids {
		u.oids[string(oid)] = struct{}{}
	}
	u.state = StateVoted
	return nil
}

// TPCFinish commits the storage transaction and, once durable, fans out
// one Invalidate call covering every oid touched across every undone tid.
func (u *TransactionalUndo) TPCFinish(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != StateVoted {
		return fmt.Errorf("txn: finish called out of order (state=%s)", u.state)
	}

	oids := make([][]byte, 0, len(u.oids))
	for oid := range u.oids {
		oids = append(oids, []byte(oid))
	}

	err := u.store.TPCFinish(ctx, u.txn, func(tid []byte) {
		u.finalTID = tid
		if u.invalidator != nil {
			u.invalidator.Invalidate(tid, oids, nil)
		}
	})
	if err != nil {
		return fmt.Errorf("txn: finish: %w", err)
	}
	u.state = StateFinished
	return nil
}

// TPCAbort rolls back the storage transaction, if one was begun.
func (u *TransactionalUndo) TPCAbort(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == StateIdle || u.state == StateAborted {
		return nil
	}
	if err := u.store.TPCAbort(ctx, u.txn); err != nil {
		return fmt.Errorf("txn: abort: %w", err)
	}
	u.state = StateAborted
	return nil
}

// Abort is a pre-vote convenience: aborting before TPCBegin is a no-op
// rather than an error, since there is nothing yet to roll back.
func (u *TransactionalUndo) Abort(ctx context.Context) error {
	u.mu.Lock()
	if u.state == StateIdle {
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()
	return u.TPCAbort(ctx)
}

// FinalTID returns the committed transaction id, valid only once
// TPCFinish has succeeded.
func (u *TransactionalUndo) FinalTID() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finalTID
}

// State reports the participant's current protocol state, for tests and
// operator diagnostics.
func (u *TransactionalUndo) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

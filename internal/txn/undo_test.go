package txn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dependable-objdb/core/internal/conn"
	"github.com/dependable-objdb/core/internal/storage"
	"github.com/dependable-objdb/core/internal/txn"
)

type recordingInvalidator struct {
	tid  []byte
	oids [][]byte
}

func (r *recordingInvalidator) Invalidate(tid []byte, oids [][]byte, committer conn.Connection) {
	r.tid = tid
	r.oids = oids
}

func commitOID(t *testing.T, st storage.Storage, oid []byte, pickle []byte) []byte {
	t.Helper()
	ctx := context.Background()
	txn := &storage.Transaction{}
	require.NoError(t, st.TPCBegin(ctx, txn))
	require.NoError(t, st.Store(ctx, txn, oid, nil, pickle))
	_, err := st.TPCVote(ctx, txn)
	require.NoError(t, err)
	var final []byte
	require.NoError(t, st.TPCFinish(ctx, txn, func(tid []byte) { final = tid }))
	return final
}

func commitOIDs(t *testing.T, st storage.Storage, oids [][]byte, pickles [][]byte) []byte {
	t.Helper()
	ctx := context.Background()
	txn := &storage.Transaction{}
	require.NoError(t, st.TPCBegin(ctx, txn))
	for i, oid := range oids {
		require.NoError(t, st.Store(ctx, txn, oid, nil, pickles[i]))
	}
	_, err := st.TPCVote(ctx, txn)
	require.NoError(t, err)
	var final []byte
	require.NoError(t, st.TPCFinish(ctx, txn, func(tid []byte) { final = tid }))
	return final
}

// voteAddsOID wraps Memory so TPCVote reports an extra touched oid, the
// way a storage with a real vote phase (e.g. conflict detection) might.
type voteAddsOID struct {
	storage.Storage
	extra []byte
}

func (w voteAddsOID) TPCVote(ctx context.Context, t *storage.Transaction) ([][]byte, error) {
	if _, err := w.Storage.TPCVote(ctx, t); err != nil {
		return nil, err
	}
	return [][]byte{w.extra}, nil
}

// scenario 6: undo finish.
func TestTransactionalUndo_CommitVoteFinish(t *testing.T) {
	base := storage.NewMemory()
	ctx := context.Background()

	oid3 := []byte{0, 0, 0, 0, 0, 0, 0, 3}
	oid4 := []byte{0, 0, 0, 0, 0, 0, 0, 4}
	oid5 := []byte{0, 0, 0, 0, 0, 0, 0, 5}
	oid6 := []byte{0, 0, 0, 0, 0, 0, 0, 6}

	commitOIDs(t, base, [][]byte{oid3, oid4}, [][]byte{[]byte("v3a"), []byte("v4a")})
	tidX := commitOIDs(t, base, [][]byte{oid3, oid4}, [][]byte{[]byte("v3b"), []byte("v4b")})
	tidY := commitOIDs(t, base, [][]byte{oid4, oid5}, [][]byte{[]byte("v4c"), []byte("v5a")})

	st := voteAddsOID{Storage: base, extra: oid6}

	inv := &recordingInvalidator{}
	u := txn.New(st, [][]byte{tidX, tidY}, inv)

	require.NoError(t, u.TPCBegin(ctx))
	require.Equal(t, txn.StateBegun, u.State())

	require.NoError(t, u.TPCVote(ctx))
	require.Equal(t, txn.StateVoted, u.State())

	require.NoError(t, u.TPCFinish(ctx))
	require.Equal(t, txn.StateFinished, u.State())

	assert.NotNil(t, inv.tid)
	assert.Equal(t, u.FinalTID(), inv.tid)
	assert.ElementsMatch(t, [][]byte{oid3, oid4, oid5, oid6}, inv.oids)
}

func TestTransactionalUndo_AbortBeforeBeginIsNoop(t *testing.T) {
	st := storage.NewMemory()
	u := txn.New(st, nil, &recordingInvalidator{})
	assert.NoError(t, u.Abort(context.Background()))
}

func TestTransactionalUndo_OutOfOrderVoteRejected(t *testing.T) {
	st := storage.NewMemory()
	u := txn.New(st, nil, &recordingInvalidator{})
	assert.Error(t, u.TPCVote(context.Background()))
}

func TestTransactionalUndo_SortKeyIncludesStorageSortKey(t *testing.T) {
	st := storage.NewMemory()
	u := txn.New(st, nil, &recordingInvalidator{})
	assert.Contains(t, u.SortKey(), st.SortKey())
}

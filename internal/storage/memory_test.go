package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dependable-objdb/core/internal/storage"
)

func TestMemory_LoadNotFound(t *testing.T) {
	m := storage.NewMemory()
	_, _, err := m.Load(context.Background(), storage.ZeroOID[:], nil)
	require.Error(t, err)

	var nf interface{ NotFound() bool }
	require.ErrorAs(t, err, &nf)
	assert.True(t, nf.NotFound())
}

func commit(t *testing.T, st storage.Storage, oid, serial, pickle []byte) []byte {
	t.Helper()
	txn := &storage.Transaction{}
	require.NoError(t, st.TPCBegin(context.Background(), txn))
	require.NoError(t, st.Store(context.Background(), txn, oid, serial, pickle))
	_, err := st.TPCVote(context.Background(), txn)
	require.NoError(t, err)

	var finalTID []byte
	require.NoError(t, st.TPCFinish(context.Background(), txn, func(tid []byte) { finalTID = tid }))
	return finalTID
}

func TestMemory_StoreThenLoad(t *testing.T) {
	m := storage.NewMemory()
	oid := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	commit(t, m, oid, []byte("s1"), []byte("v1"))

	pickle, serial, err := m.Load(context.Background(), oid, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), pickle)
	assert.Equal(t, []byte("s1"), serial)
}

func TestMemory_LoadBefore(t *testing.T) {
	m := storage.NewMemory()
	oid := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	tid1 := commit(t, m, oid, []byte("s1"), []byte("v1"))
	commit(t, m, oid, []byte("s2"), []byte("v2"))

	// before tid1's successor sees v1, not v2.
	pickle, _, err := m.Load(context.Background(), oid, nextTID(tid1))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), pickle)
}

func nextTID(t []byte) []byte {
	out := make([]byte, len(t))
	copy(out, t)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func TestMemory_AbortDiscardsWrite(t *testing.T) {
	m := storage.NewMemory()
	oid := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	txn := &storage.Transaction{}
	require.NoError(t, m.TPCBegin(context.Background(), txn))
	require.NoError(t, m.Store(context.Background(), txn, oid, nil, []byte("v1")))
	require.NoError(t, m.TPCAbort(context.Background(), txn))

	_, _, err := m.Load(context.Background(), oid, nil)
	assert.Error(t, err)
}

func TestMemory_UndoRestoresPriorRevision(t *testing.T) {
	m := storage.NewMemory()
	oid := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	commit(t, m, oid, []byte("s1"), []byte("v1"))
	tid2 := commit(t, m, oid, []byte("s2"), []byte("v2"))

	txn := &storage.Transaction{}
	require.NoError(t, m.TPCBegin(context.Background(), txn))
	_, oids, err := m.Undo(context.Background(), tid2, txn)
	require.NoError(t, err)
	assert.Contains(t, oids, oid)
	_, err = m.TPCVote(context.Background(), txn)
	require.NoError(t, err)
	require.NoError(t, m.TPCFinish(context.Background(), txn, nil))

	pickle, _, err := m.Load(context.Background(), oid, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), pickle)
}

func TestMemory_PackReclaimsUnreachable(t *testing.T) {
	m := storage.NewMemory()
	orphan := []byte{0, 0, 0, 0, 0, 0, 0, 9}
	commit(t, m, orphan, nil, []byte("orphan"))

	require.NoError(t, m.Pack(context.Background(), time.Now().Add(time.Hour), func([]byte) [][]byte { return nil }))

	_, _, err := m.Load(context.Background(), orphan, nil)
	assert.Error(t, err)
}

func TestMemory_LastTransactionEmpty(t *testing.T) {
	m := storage.NewMemory()
	last, err := m.LastTransaction(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

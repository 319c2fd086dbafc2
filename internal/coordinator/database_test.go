package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dependable-objdb/core/internal/conn"
	"github.com/dependable-objdb/core/internal/coordinator"
	"github.com/dependable-objdb/core/internal/infrastructure/config"
	"github.com/dependable-objdb/core/internal/storage"
	"github.com/dependable-objdb/core/internal/tid"
)

type noopTxnManager struct{ aborted bool }

func (m *noopTxnManager) Abort() error {
	m.aborted = true
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:     "info",
		DatabaseName: "test",
		Pool:         config.PoolConfig{Size: 3, Timeout: config.Infinite, CacheSize: 100},
		Historical:   config.HistoricalConfig{Size: 3, Timeout: config.Infinite, CacheSize: 100},
		Storage:      config.StorageConfig{DSN: "memory"},
	}
}

func newTestDatabase(t *testing.T) *coordinator.Database {
	t.Helper()
	db, err := coordinator.New(context.Background(), testConfig(),
		coordinator.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return db
}

// scenario 1: bootstrap.
func TestDatabase_Bootstrap(t *testing.T) {
	db := newTestDatabase(t)

	c, err := db.Open(context.Background(), &noopTxnManager{}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

// scenario 5: invalidate fan-out.
func TestDatabase_InvalidateFanOut(t *testing.T) {
	db := newTestDatabase(t)

	a, err := db.Open(context.Background(), &noopTxnManager{}, nil, nil)
	require.NoError(t, err)
	b, err := db.Open(context.Background(), &noopTxnManager{}, nil, nil)
	require.NoError(t, err)
	c, err := db.Open(context.Background(), &noopTxnManager{}, nil, nil)
	require.NoError(t, err)

	tidBytes := make([]byte, 8)
	tidBytes[7] = 42
	oids := [][]byte{{7}, {9}}

	db.Invalidate(tidBytes, oids, b)

	aCalls := a.(*conn.Memory).Invalidations()
	bCalls := b.(*conn.Memory).Invalidations()
	cCalls := c.(*conn.Memory).Invalidations()

	require.Len(t, aCalls, 1)
	require.Len(t, cCalls, 1)
	assert.Empty(t, bCalls)
}

// boundary: opening with before beyond last_transaction fails.
func TestDatabase_OpenFutureSnapshotRejected(t *testing.T) {
	db := newTestDatabase(t)

	far := tid.FromTime(time.Now().Add(24 * time.Hour))
	_, err := db.Open(context.Background(), &noopTxnManager{}, nil, tid.FromRaw(far.Bytes()))
	assert.Error(t, err)
}

// boundary: opening with before == last_transaction() succeeds.
func TestDatabase_OpenAtLastTransactionSucceeds(t *testing.T) {
	st := storage.NewMemory()
	db, err := coordinator.New(context.Background(), testConfig(),
		coordinator.WithLogger(zaptest.NewLogger(t)), coordinator.WithStorage(st))
	require.NoError(t, err)

	last, err := st.LastTransaction(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)

	c, err := db.Open(context.Background(), &noopTxnManager{}, nil, tid.FromRaw(last))
	require.NoError(t, err)
	assert.NotNil(t, c)
}

// Close aborts every tracked connection's transaction manager, including
// ones still checked out (Open Question resolution #2).
func TestDatabase_CloseAbortsCheckedOutConnections(t *testing.T) {
	db := newTestDatabase(t)

	tm := &noopTxnManager{}
	c, err := db.Open(context.Background(), tm, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, c)

	require.NoError(t, db.Close(context.Background()))
	assert.True(t, tm.aborted)
	assert.True(t, c.Closed())
}

func TestDatabase_DuplicateNameRejected(t *testing.T) {
	reg := coordinator.NewRegistry()
	cfg := testConfig()

	_, err := coordinator.New(context.Background(), cfg, coordinator.WithRegistry(reg), coordinator.WithStorage(storage.NewMemory()))
	require.NoError(t, err)

	_, err = coordinator.New(context.Background(), cfg, coordinator.WithRegistry(reg), coordinator.WithStorage(storage.NewMemory()))
	assert.Error(t, err)
}

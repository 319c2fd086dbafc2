package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/dependable-objdb/core/internal/infrastructure/config"
	"github.com/dependable-objdb/core/internal/storage"
)

func newPostgresStorage(t *testing.T) storage.Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("objdb_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := storage.NewPostgres(ctx, config.StorageConfig{
		DSN:          dsn,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(ctx) })

	return st
}

func TestPostgres_StoreLoadRoundTrip(t *testing.T) {
	st := newPostgresStorage(t)
	ctx := context.Background()

	oid := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	txn := &storage.Transaction{}
	require.NoError(t, st.TPCBegin(ctx, txn))
	require.NoError(t, st.Store(ctx, txn, oid, []byte("s1"), []byte("v1")))
	_, err := st.TPCVote(ctx, txn)
	require.NoError(t, err)
	require.NoError(t, st.TPCFinish(ctx, txn, nil))

	pickle, serial, err := st.Load(ctx, oid, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), pickle)
	require.Equal(t, []byte("s1"), serial)
}

func TestPostgres_LastTransactionAdvances(t *testing.T) {
	st := newPostgresStorage(t)
	ctx := context.Background()

	first, err := st.LastTransaction(ctx)
	require.NoError(t, err)
	require.Nil(t, first)

	oid := []byte{0, 0, 0, 0, 0, 0, 0, 2}
	txn := &storage.Transaction{}
	require.NoError(t, st.TPCBegin(ctx, txn))
	require.NoError(t, st.Store(ctx, txn, oid, nil, []byte("v")))
	_, err = st.TPCVote(ctx, txn)
	require.NoError(t, err)
	require.NoError(t, st.TPCFinish(ctx, txn, nil))

	second, err := st.LastTransaction(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
}

func TestPostgres_AbortRollsBack(t *testing.T) {
	st := newPostgresStorage(t)
	ctx := context.Background()

	oid := []byte{0, 0, 0, 0, 0, 0, 0, 3}
	txn := &storage.Transaction{}
	require.NoError(t, st.TPCBegin(ctx, txn))
	require.NoError(t, st.Store(ctx, txn, oid, nil, []byte("v")))
	require.NoError(t, st.TPCAbort(ctx, txn))

	_, _, err := st.Load(ctx, oid, nil)
	require.Error(t, err)
}

package coordinator

import (
	"context"

	"go.uber.org/zap"

	cerrors "github.com/dependable-objdb/core/internal/errors"
	"github.com/dependable-objdb/core/internal/storage"
)

// bootstrap ensures the root object exists at ZeroOID, creating it with
// an empty mapping pickle via a full 2PC round trip the first time a
// database is opened against fresh storage.
func (db *Database) bootstrap(ctx context.Context) error {
	_, _, err := db.store.Load(ctx, storage.ZeroOID[:], nil)
	if err == nil {
		return nil
	}
	if !cerrors.IsNotFound(err) {
		return cerrors.NewStorageError("loading root object", err)
	}

	txn := &storage.Transaction{}
	if err := db.store.TPCBegin(ctx, txn); err != nil {
		return cerrors.NewStorageError("beginning bootstrap transaction", err)
	}
	if err := db.store.Store(ctx, txn, storage.ZeroOID[:], nil, storage.EmptyMappingPickle()); err != nil {
		_ = db.store.TPCAbort(ctx, txn)
		return cerrors.NewStorageError("storing root object", err)
	}
	if _, err := db.store.TPCVote(ctx, txn); err != nil {
		_ = db.store.TPCAbort(ctx, txn)
		return cerrors.NewStorageError("voting bootstrap transaction", err)
	}
	if err := db.store.TPCFinish(ctx, txn, nil); err != nil {
		return cerrors.NewStorageError("finishing bootstrap transaction", err)
	}

	if db.metrics != nil {
		db.metrics.Bootstraps.Inc()
	}
	db.logger.Info("bootstrapped root object", zap.String("database", db.name))
	return nil
}

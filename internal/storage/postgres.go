package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dependable-objdb/core/internal/infrastructure/config"
	"github.com/dependable-objdb/core/internal/tid"
)

// postgresTxn is what Transaction.backend holds for a Postgres-backed 2PC
// round trip: the open pgx.Tx and the tid candidate assigned at
// TPCBegin, made durable only if TPCFinish's commit succeeds.
type postgresTxn struct {
	tx  pgx.Tx
	tid []byte
}

// Postgres is a pgx/v5-backed Storage implementation persisting object
// revisions and the transaction log to the three objdb_* tables.
type Postgres struct {
	pool   *pgPool
	logger *zap.Logger
	dbName string
}

// NewPostgres runs pending migrations and opens a pool against cfg.DSN.
func NewPostgres(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Postgres, error) {
	if err := runMigrations(cfg.DSN); err != nil {
		return nil, err
	}
	pp, err := newPgPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pp, logger: logger}, nil
}

func (s *Postgres) Load(ctx context.Context, oid, before []byte) ([]byte, []byte, error) {
	var pickle, serial []byte
	var err error
	if before == nil {
		err = s.pool.pool.QueryRow(ctx,
			`SELECT pickle, serial FROM objdb_object_state WHERE oid=$1 ORDER BY tid DESC LIMIT 1`,
			oid).Scan(&pickle, &serial)
	} else {
		err = s.pool.pool.QueryRow(ctx,
			`SELECT pickle, serial FROM objdb_object_state WHERE oid=$1 AND tid<$2 ORDER BY tid DESC LIMIT 1`,
			oid, before).Scan(&pickle, &serial)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, &NotFoundError{OID: oid}
		}
		return nil, nil, err
	}
	return pickle, serial, nil
}

func (s *Postgres) txOf(txn *Transaction) (*postgresTxn, error) {
	pt, ok := txn.backend.(*postgresTxn)
	if !ok {
		return nil, fmt.Errorf("storage: transaction not begun")
	}
	return pt, nil
}

func (s *Postgres) Store(ctx context.Context, txn *Transaction, oid, serial, pickle []byte) error {
	pt, err := s.txOf(txn)
	if err != nil {
		return err
	}
	_, err = pt.tx.Exec(ctx,
		`INSERT INTO objdb_object_state(oid, tid, serial, pickle) VALUES ($1,$2,$3,$4)`,
		oid, pt.tid, serial, pickle)
	return err
}

func (s *Postgres) TPCBegin(ctx context.Context, txn *Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}

	var lastTID []byte
	err = tx.QueryRow(ctx, `SELECT tid FROM objdb_transaction_log ORDER BY tid DESC LIMIT 1`).Scan(&lastTID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		tx.Rollback(ctx)
		return err
	}

	var candidate tid.TID
	if lastTID != nil {
		candidate = tid.FromBytes(lastTID).Next()
	} else {
		candidate = tid.FromTime(time.Now())
	}

	txn.backend = &postgresTxn{tx: tx, tid: candidate.Bytes()}
	return nil
}

func (s *Postgres) TPCVote(ctx context.Context, txn *Transaction) ([][]byte, error) {
	if _, err := s.txOf(txn); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Postgres) SupportsVote() bool { return true }

func (s *Postgres) TPCFinish(ctx context.Context, txn *Transaction, cb FinishCallback) error {
	pt, err := s.txOf(txn)
	if err != nil {
		return err
	}

	if _, err := pt.tx.Exec(ctx, `INSERT INTO objdb_transaction_log(tid) VALUES ($1)`, pt.tid); err != nil {
		pt.tx.Rollback(ctx)
		s.pool.RecordOutcome(err)
		return err
	}

	err = pt.tx.Commit(ctx)
	s.pool.RecordOutcome(err)
	if err != nil {
		return err
	}
	if cb != nil {
		cb(pt.tid)
	}
	return nil
}

func (s *Postgres) TPCAbort(ctx context.Context, txn *Transaction) error {
	pt, err := s.txOf(txn)
	if err != nil {
		return err
	}
	return pt.tx.Rollback(ctx)
}

func (s *Postgres) Undo(ctx context.Context, tidBytes []byte, txn *Transaction) ([]byte, [][]byte, error) {
	pt, err := s.txOf(txn)
	if err != nil {
		return nil, nil, err
	}

	rows, err := pt.tx.Query(ctx, `SELECT DISTINCT oid FROM objdb_object_state WHERE tid=$1`, tidBytes)
	if err != nil {
		return nil, nil, err
	}
	var touchedOIDs [][]byte
	for rows.Next() {
		var oid []byte
		if err := rows.Scan(&oid); err != nil {
			rows.Close()
			return nil, nil, err
		}
		touchedOIDs = append(touchedOIDs, oid)
	}
	rows.Close()

	for _, oid := range touchedOIDs {
		var priorPickle, priorSerial []byte
		err := pt.tx.QueryRow(ctx,
			`SELECT pickle, serial FROM objdb_object_state WHERE oid=$1 AND tid<$2 ORDER BY tid DESC LIMIT 1`,
			oid, tidBytes).Scan(&priorPickle, &priorSerial)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, err
		}
		if _, err := pt.tx.Exec(ctx,
			`INSERT INTO objdb_object_state(oid, tid, serial, pickle) VALUES ($1,$2,$3,$4)`,
			oid, pt.tid, priorSerial, priorPickle); err != nil {
			return nil, nil, err
		}
	}

	if _, err := pt.tx.Exec(ctx,
		`INSERT INTO objdb_undo_log(tid, undo_of, oids) VALUES ($1,$2,$3)`,
		pt.tid, tidBytes, touchedOIDs); err != nil {
		return nil, nil, err
	}

	return pt.tid, touchedOIDs, nil
}

// Pack approximates the reference-tracing reclaim Memory performs: it
// deletes any revision older than t that is not the latest revision for
// its oid. Full reachability tracing through refs needs the real
// object-graph format, which is out of scope here; refs is accepted
// for interface parity with storage.Memory, which does trace it.
func (s *Postgres) Pack(ctx context.Context, t time.Time, refs ReferencesFunc) error {
	cutoff := tid.FromTime(t).Bytes()
	_, err := s.pool.pool.Exec(ctx, `
		DELETE FROM objdb_object_state os
		WHERE os.tid < $1
		  AND EXISTS (
		      SELECT 1 FROM objdb_object_state newer
		      WHERE newer.oid = os.oid AND newer.tid > os.tid
		  )`, cutoff)
	return err
}

func (s *Postgres) LastTransaction(ctx context.Context) ([]byte, error) {
	var t []byte
	err := s.pool.pool.QueryRow(ctx, `SELECT tid FROM objdb_transaction_log ORDER BY tid DESC LIMIT 1`).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *Postgres) NewOID(ctx context.Context) ([]byte, error) {
	var n int64
	if err := s.pool.pool.QueryRow(ctx, `SELECT nextval('objdb_oid_seq')`).Scan(&n); err != nil {
		return nil, err
	}
	oid := make([]byte, 8)
	binary.BigEndian.PutUint64(oid, uint64(n))
	return oid, nil
}

func (s *Postgres) IsReadOnly() bool { return false }

func (s *Postgres) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Len(ctx context.Context) (int, error) {
	var n int
	err := s.pool.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT oid) FROM objdb_object_state`).Scan(&n)
	return n, err
}

func (s *Postgres) SortKey() string { return s.pool.pool.Config().ConnConfig.Host }

func (s *Postgres) SupportsUndo() bool { return true }

func (s *Postgres) RegisterDB(db DatabaseRegistrant) error {
	s.dbName = db.Name()
	return nil
}

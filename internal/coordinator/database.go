// Package coordinator implements Database, the object that owns the live
// and historical connection pools, fans out invalidations, reconfigures
// caches atomically, bootstraps an empty store with a root object, and
// exposes the session lifecycle.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dependable-objdb/core/internal/conn"
	cerrors "github.com/dependable-objdb/core/internal/errors"
	"github.com/dependable-objdb/core/internal/infrastructure/config"
	"github.com/dependable-objdb/core/internal/infrastructure/metrics"
	"github.com/dependable-objdb/core/internal/invalidation"
	"github.com/dependable-objdb/core/internal/pool"
	"github.com/dependable-objdb/core/internal/storage"
	"github.com/dependable-objdb/core/internal/tid"
)

// ConnectionFactory constructs a new Connection bound to the given
// snapshot key (nil for live) with the given cache targets. Supplied at
// construction; defaults to conn.NewMemory/conn.NewMemoryHistorical.
type ConnectionFactory func(before []byte, cacheSize int, cacheSizeBytes int64) conn.Connection

func defaultFactory(before []byte, cacheSize int, cacheSizeBytes int64) conn.Connection {
	if before == nil {
		return conn.NewMemory(cacheSize, cacheSizeBytes)
	}
	return conn.NewMemoryHistorical(before, cacheSize, cacheSizeBytes)
}

// Database is the coordination core's central coordinator: one live
// pool, one keyed historical pool, a storage handle, and the
// configuration that parameterizes both. A single sync.Mutex protects
// every pool and configuration mutation; reentrant locking is modeled by
// having every public entry point lock exactly once and delegating to
// unexported *Locked helpers for anything that needs to compose (see
// DESIGN.md Open Question resolution #4).
type Database struct {
	mu sync.Mutex

	logger  *zap.Logger
	metrics *metrics.Registry
	name    string
	registry *Registry

	store   storage.Storage
	bus     *invalidation.Bus
	factory ConnectionFactory

	live       *pool.ConnectionPool
	historical *pool.KeyedConnectionPool

	cacheSize                int
	cacheSizeBytes           int64
	historicalCacheSize      int
	historicalCacheSizeBytes int64

	xrefs           bool
	largeRecordSize int64

	closed bool
}

// Name satisfies storage.DatabaseRegistrant.
func (db *Database) Name() string { return db.name }

// Option customizes New beyond what config.Config covers.
type Option func(*Database)

// WithStorage overrides the storage backend (default: storage.NewMemory()).
func WithStorage(st storage.Storage) Option {
	return func(db *Database) { db.store = st }
}

// WithRegistry shares a cross-database registry (default: a private one).
func WithRegistry(r *Registry) Option {
	return func(db *Database) { db.registry = r }
}

// WithFactory overrides how new connections are constructed (default:
// conn.Memory).
func WithFactory(f ConnectionFactory) Option {
	return func(db *Database) { db.factory = f }
}

// WithMetrics attaches a Prometheus registry.
func WithMetrics(reg *metrics.Registry) Option {
	return func(db *Database) { db.metrics = reg }
}

// WithBus attaches a cross-process invalidation bus.
func WithBus(bus *invalidation.Bus) Option {
	return func(db *Database) { db.bus = bus }
}

// WithLogger overrides the zap logger (default: zap.NewNop()).
func WithLogger(logger *zap.Logger) Option {
	return func(db *Database) { db.logger = logger }
}

// New constructs a Database per cfg, bootstraps the root object if
// necessary, and registers itself in the registry.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Database, error) {
	db := &Database{
		logger:                   zap.NewNop(),
		factory:                  defaultFactory,
		name:                     cfg.DatabaseName,
		cacheSize:                cfg.Pool.CacheSize,
		cacheSizeBytes:           cfg.Pool.CacheSizeBytes,
		historicalCacheSize:      cfg.Historical.CacheSize,
		historicalCacheSizeBytes: cfg.Historical.CacheSizeBytes,
		xrefs:                    cfg.Xrefs,
		largeRecordSize:          cfg.LargeRecordSize,
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.store == nil {
		db.store = storage.NewMemory()
	}
	if db.registry == nil {
		db.registry = NewRegistry()
	}

	supportsVote := db.store.SupportsVote()
	db.store = storage.WithVoteShim(db.store)
	if !supportsVote {
		db.logger.Warn("storage lacks a vote phase; installed no-op shim",
			zap.String("database", db.name))
	}

	dbMetrics := keyedMetricsAdapter{reg: db.metrics, dbName: db.name}
	db.live = pool.New(db.logger, cfg.Pool.Size, cfg.Pool.Timeout).
		WithMetrics(poolMetricsAdapter{reg: db.metrics, dbName: db.name, poolName: "live"})
	db.historical = pool.NewKeyed(db.logger, cfg.Historical.Size, cfg.Historical.Timeout).
		WithMetrics(dbMetrics)

	if err := db.store.RegisterDB(db); err != nil {
		return nil, cerrors.NewStorageError("registering database with storage", err)
	}

	if err := db.bootstrap(ctx); err != nil {
		return nil, err
	}

	if err := db.registry.register(db.name, db); err != nil {
		return nil, err
	}

	if db.bus != nil {
		go db.consumeBus(context.Background())
	}

	return db, nil
}

// Open normalizes the snapshot selector, hands out a connection (creating
// one if the pool has none idle), and opportunistically GCs timed-out
// idle connections.
func (db *Database) Open(ctx context.Context, txnManager conn.TransactionManager, at, before *tid.Selector) (conn.Connection, error) {
	key, isLive, err := tid.Normalize(at, before)
	if err != nil {
		return nil, cerrors.ErrBothAtAndBefore
	}

	var beforeBytes []byte
	if !isLive {
		last, err := db.store.LastTransaction(ctx)
		if err != nil {
			return nil, cerrors.NewStorageError("reading last transaction", err)
		}
		if last != nil && key.Compare(tid.FromBytes(last)) > 0 {
			return nil, cerrors.ErrFutureSnapshot
		}
		beforeBytes = key.Bytes()
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, cerrors.ErrDatabaseClosed
	}

	c := db.checkoutLocked(isLive, beforeBytes)
	c.Open(txnManager)
	c.SetOpened(time.Now())

	db.live.AvailableGC()
	db.historical.AvailableGC()

	return c, nil
}

func (db *Database) checkoutLocked(isLive bool, before []byte) conn.Connection {
	if isLive {
		if c := db.live.Pop(); c != nil {
			return c
		}
		c := db.factory(nil, db.cacheSize, db.cacheSizeBytes)
		db.live.Push(c)
		return db.live.Pop()
	}

	if c := db.historical.Pop(string(before)); c != nil {
		return c
	}
	c := db.factory(before, db.historicalCacheSize, db.historicalCacheSizeBytes)
	db.historical.Push(c, string(before))
	return db.historical.Pop(string(before))
}

// Return routes connection back to its pool. Invoked by the connection
// itself on close.
func (db *Database) Return(c conn.Connection) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c.SetOpened(time.Time{})

	if before := c.Before(); before != nil {
		db.historical.Repush(c, string(before))
	} else {
		db.live.Repush(c)
	}
}

// Invalidate fans c.Invalidate(tid, oids) out to every tracked connection
// except committer. When a bus is configured, the event is
// also published for sibling processes.
func (db *Database) Invalidate(tidBytes []byte, oids [][]byte, committer conn.Connection) {
	db.mu.Lock()
	db.invalidateLocked(tidBytes, oids, committer)
	db.mu.Unlock()

	if db.bus != nil {
		if err := db.bus.Publish(context.Background(), tidBytes, oids, db.processID()); err != nil {
			db.logger.Warn("publishing invalidation to bus failed", zap.Error(err))
		}
	}
}

func (db *Database) invalidateLocked(tidBytes []byte, oids [][]byte, committer conn.Connection) {
	fn := func(c conn.Connection) {
		if c == committer {
			return
		}
		c.Invalidate(tidBytes, oids)
	}
	db.live.Map(fn)
	db.historical.Map(fn)
	if db.metrics != nil {
		db.metrics.Invalidations.WithLabelValues(db.name).Inc()
	}
}

// InvalidateCache is the tid/oid-less broadcast analogue of Invalidate.
func (db *Database) InvalidateCache() {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn := func(c conn.Connection) { c.InvalidateCache() }
	db.live.Map(fn)
	db.historical.Map(fn)
}

// Close is idempotent: for every tracked connection in both pools it
// aborts the transaction manager, neuters close hooks, and releases
// resources, then closes storage. This reaches checked-out connections
// too, not only idle ones (see DESIGN.md).
func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}

	var firstErr error
	teardown := func(c conn.Connection) {
		if tm := c.TransactionManager(); tm != nil {
			if err := tm.Abort(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		c.SetClosed(true)
		if err := c.ReleaseResources(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	db.live.Map(teardown)
	db.historical.Map(teardown)

	if err := db.store.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	db.closed = true
	return firstErr
}

func (db *Database) processID() string {
	return db.name
}

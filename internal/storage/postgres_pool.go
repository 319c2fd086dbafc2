package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cerrors "github.com/dependable-objdb/core/internal/errors"
	"github.com/dependable-objdb/core/internal/infrastructure/config"
)

// pgPool wraps a single-primary pgxpool.Pool with a circuit breaker and a
// background health-check loop, collapsed to one primary: this module has
// no read-replica concept, since every storage read must see the
// writer's own commit order.
type pgPool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	cb     *circuitBreaker

	stop chan struct{}
}

// circuitBreaker is a three-state (closed/open/half-open) breaker sized
// from config.StorageConfig rather than fixed constants, and its tripped
// state surfaces through Begin as a cerrors.ErrCircuitOpen rather than a
// raw pgx error, so callers can branch on cerrors.IsKind the same way
// they do for any other storage failure.
type circuitBreaker struct {
	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
	state           circuitState
	timeout         time.Duration
	threshold       int
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.state = circuitHalfOpen
			return true
		}
		return false
	case circuitHalfOpen:
		return true
	}
	return false
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.state = circuitClosed
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailureTime = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = circuitOpen
	}
}

func newPgPool(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*pgPool, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing storage dsn: %w", err)
	}

	threshold := cfg.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 10
	}
	cbTimeout := cfg.CircuitBreakerTimeout
	if cbTimeout <= 0 {
		cbTimeout = 30 * time.Second
	}

	p := &pgPool{
		logger: logger,
		stop:   make(chan struct{}),
		cb: &circuitBreaker{
			timeout:   cbTimeout,
			threshold: threshold,
			state:     circuitClosed,
		},
	}

	if cfg.MaxOpenConns > 0 {
		pgCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pgCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pgCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pgCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		if !p.cb.Allow() {
			return false
		}
		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		return conn.Ping(ctx) == nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("creating storage connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging storage: %w", err)
	}
	p.pool = pool

	go p.healthCheckLoop()

	logger.Info("postgres storage pool initialized", zap.Int32("max_conns", pgCfg.MaxConns))
	return p, nil
}

func (p *pgPool) healthCheckLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.pool.Ping(ctx); err != nil {
				p.logger.Error("storage health check failed", zap.Error(err))
				p.cb.RecordFailure()
			}
			cancel()
		case <-p.stop:
			return
		}
	}
}

// Begin starts a pgx transaction, recording the circuit breaker outcome
// on the eventual Commit/Rollback. The caller is responsible for calling
// RecordOutcome. When the breaker is open, Begin fails fast with
// cerrors.ErrCircuitOpen instead of attempting and then failing a real
// connection attempt.
func (p *pgPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if !p.cb.Allow() {
		return nil, cerrors.ErrCircuitOpen
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		p.cb.RecordFailure()
		return nil, err
	}
	return tx, nil
}

func (p *pgPool) RecordOutcome(err error) {
	if err != nil {
		p.cb.RecordFailure()
	} else {
		p.cb.RecordSuccess()
	}
}

func (p *pgPool) Close() {
	close(p.stop)
	p.pool.Close()
}

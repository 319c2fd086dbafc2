// Package pool implements the coordination core's two connection pools:
// ConnectionPool, a bounded-target LIFO stack of idle connections with
// cache-warmth-aware reuse ordering and weak tracking of every
// connection it has ever admitted, and KeyedConnectionPool, a family of
// ConnectionPools indexed by snapshot key. Neither type locks
// internally; the coordinator's mutex protects every call.
package pool

import (
	"time"
	"weak"

	"go.uber.org/zap"

	"github.com/dependable-objdb/core/internal/conn"
)

// ReapReason labels why an idle connection was removed, for logging and
// the objdb_pool_reaped_total metric.
type ReapReason string

const (
	ReapSize    ReapReason = "size"
	ReapTimeout ReapReason = "timeout"
)

// idleEntry is an (enqueued_at, connection) pair in the idle stack.
type idleEntry struct {
	enqueuedAt time.Time
	conn       conn.Connection
}

// MetricsSink receives the pool's counters/gauges. coordinator.Database
// implements it by forwarding to metrics.Registry; nil is a valid no-op
// (see pool.New).
type MetricsSink interface {
	SetPoolSize(n int)
	SetPoolAvailable(n int)
	IncCheckout()
	IncReaped(reason ReapReason)
	IncCapacityWarning(level string)
}

type noopSink struct{}

func (noopSink) SetPoolSize(int)               {}
func (noopSink) SetPoolAvailable(int)          {}
func (noopSink) IncCheckout()                  {}
func (noopSink) IncReaped(ReapReason)          {}
func (noopSink) IncCapacityWarning(string)     {}

// ConnectionPool is a bounded-target stack of reusable connections keyed
// to no snapshot (or to a single snapshot, when wrapped by
// KeyedConnectionPool). Callers must hold the coordinator's lock around
// every call; ConnectionPool performs no locking of its own.
type ConnectionPool struct {
	logger  *zap.Logger
	metrics MetricsSink
	now     func() time.Time

	size    int
	timeout time.Duration

	all       map[uint64]weak.Pointer[any]
	available []idleEntry
	nextID    uint64
}

// New constructs a ConnectionPool with the given size target and idle
// timeout. logger may be nil; a MetricsSink is attached with WithMetrics.
func New(logger *zap.Logger, size int, timeout time.Duration) *ConnectionPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionPool{
		logger:  logger,
		metrics: noopSink{},
		now:     time.Now,
		size:    size,
		timeout: timeout,
		all:     make(map[uint64]weak.Pointer[any]),
	}
}

// WithMetrics attaches a MetricsSink, returning p for chaining.
func (p *ConnectionPool) WithMetrics(sink MetricsSink) *ConnectionPool {
	if sink != nil {
		p.metrics = sink
	}
	return p
}

// WithClock overrides the pool's time source, for deterministic
// idle-timeout tests.
func (p *ConnectionPool) WithClock(now func() time.Time) *ConnectionPool {
	p.now = now
	return p
}

func warmth(c conn.Connection) int {
	return c.Cache().NonGhostCount()
}

// Push registers a freshly created connection.
// Preconditions: c is not already tracked.
func (p *ConnectionPool) Push(c conn.Connection) {
	p.reduceSize(true)
	p.track(c)
	p.insertWarmthOrdered(c)
	p.afterAdmit()
}

// Repush returns a previously popped connection to the idle stack.
// Precondition: c is tracked but not idle.
func (p *ConnectionPool) Repush(c conn.Connection) {
	p.reduceSize(true)
	p.insertWarmthOrdered(c)
}

// Pop removes and returns the warmest idle connection, or nil if the
// pool has none idle.
func (p *ConnectionPool) Pop() conn.Connection {
	if len(p.available) == 0 {
		return nil
	}
	last := len(p.available) - 1
	c := p.available[last].conn
	p.available[last] = idleEntry{} // drop the backing array's reference so `all` stays weak
	p.available = p.available[:last]
	p.metrics.IncCheckout()
	return c
}

// track admits c into `all`, using its SelfRef as the weak anchor.
func (p *ConnectionPool) track(c conn.Connection) {
	p.nextID++
	p.all[p.nextID] = weak.Make(c.SelfRef())
}

// insertWarmthOrdered scans backward past the contiguous run of trailing
// entries warmer than c, then inserts c in front of that run, i.e. just
// after the nearest entry that is not warmer than c (or at the front).
func (p *ConnectionPool) insertWarmthOrdered(c conn.Connection) {
	w := warmth(c)
	i := len(p.available)
	for i > 0 && warmth(p.available[i-1].conn) > w {
		i--
	}
	entry := idleEntry{enqueuedAt: p.now(), conn: c}
	p.available = append(p.available, idleEntry{})
	copy(p.available[i+1:], p.available[i:])
	p.available[i] = entry
}

// afterAdmit logs and counts capacity-warning crossings: a warning the
// instant |all| first exceeds size, a critical the instant it first
// exceeds 2x size. Crossing detection means each threshold fires exactly
// once per crossing, not once per push above it.
func (p *ConnectionPool) afterAdmit() {
	p.pruneDead()
	n := len(p.all)
	if n == p.size+1 {
		p.logger.Warn("connection pool exceeds size target",
			zap.Int("size", n), zap.Int("target", p.size))
		p.metrics.IncCapacityWarning("warning")
	}
	if n == 2*p.size+1 {
		p.logger.Error("connection pool far exceeds size target",
			zap.Int("size", n), zap.Int("target", p.size))
		p.metrics.IncCapacityWarning("critical")
	}
	p.metrics.SetPoolSize(n)
	p.metrics.SetPoolAvailable(len(p.available))
}

// pruneDead drops `all` entries whose weak reference has been collected,
// i.e. connections the caller popped and then abandoned without closing.
func (p *ConnectionPool) pruneDead() {
	for id, ref := range p.all {
		if ref.Value() == nil {
			delete(p.all, id)
		}
	}
}

// reduceSize brings `available` within target (minus one when
// strictlyLess, to make room for an about-to-be-inserted entry),
// reaping stale entries from the front along the way.
func (p *ConnectionPool) reduceSize(strictlyLess bool) {
	target := p.size
	if strictlyLess {
		target--
	}
	cutoff := p.now().Add(-p.timeout)

	for len(p.available) > 0 && (len(p.available) > target || p.available[0].enqueuedAt.Before(cutoff)) {
		reason := ReapSize
		if len(p.available) <= target {
			reason = ReapTimeout
		}
		p.reapFront(reason)
	}
	p.metrics.SetPoolAvailable(len(p.available))
}

func (p *ConnectionPool) reapFront(reason ReapReason) {
	entry := p.available[0]
	p.available = p.available[1:]
	p.untrack(entry.conn)
	if err := entry.conn.ReleaseResources(); err != nil {
		p.logger.Warn("release_resources failed during reap", zap.Error(err), zap.String("reason", string(reason)))
	}
	p.metrics.IncReaped(reason)
}

// untrack drops c's entry from `all` by identity of its SelfRef address.
func (p *ConnectionPool) untrack(c conn.Connection) {
	target := c.SelfRef()
	for id, ref := range p.all {
		if v := ref.Value(); v == target {
			delete(p.all, id)
			return
		}
	}
}

// AvailableGC reaps every idle entry older than timeout regardless of
// position, releasing its resources, and triggers incremental GC on every
// surviving idle entry's cache.
func (p *ConnectionPool) AvailableGC() {
	cutoff := p.now().Add(-p.timeout)
	kept := p.available[:0]
	for _, e := range p.available {
		if e.enqueuedAt.Before(cutoff) {
			p.untrack(e.conn)
			if err := e.conn.ReleaseResources(); err != nil {
				p.logger.Warn("release_resources failed during available_gc", zap.Error(err))
			}
			p.metrics.IncReaped(ReapTimeout)
			continue
		}
		kept = append(kept, e)
	}
	p.available = kept
	for _, e := range p.available {
		e.conn.Cache().IncrementalGC()
	}
	p.metrics.SetPoolAvailable(len(p.available))
}

// Map applies f to every connection in `all`, live or idle. Dead weak
// entries are skipped and pruned.
func (p *ConnectionPool) Map(f func(conn.Connection)) {
	p.pruneDead()
	for _, ref := range p.all {
		v := ref.Value()
		if v == nil {
			continue
		}
		if c, ok := (*v).(conn.Connection); ok {
			f(c)
		}
	}
}

// SetSize reconfigures the size target, reducing immediately if the new
// value is more restrictive.
func (p *ConnectionPool) SetSize(n int) {
	restrictive := n < p.size
	p.size = n
	if restrictive {
		p.reduceSize(false)
	}
}

// SetTimeout reconfigures the idle timeout, GC'ing immediately if the new
// value is more restrictive.
func (p *ConnectionPool) SetTimeout(t time.Duration) {
	restrictive := t < p.timeout
	p.timeout = t
	if restrictive {
		p.AvailableGC()
	}
}

// AllLen reports |all|, pruning dead entries first.
func (p *ConnectionPool) AllLen() int {
	p.pruneDead()
	return len(p.all)
}

// AvailableLen reports |available|.
func (p *ConnectionPool) AvailableLen() int {
	return len(p.available)
}

// All returns every live connection in `all`, for inspection/tests.
func (p *ConnectionPool) All() []conn.Connection {
	var out []conn.Connection
	p.Map(func(c conn.Connection) { out = append(out, c) })
	return out
}

// Available returns the idle stack's connections in current order
// (front = coldest/oldest, back = warmest/most recently idled), for
// inspection/tests.
func (p *ConnectionPool) Available() []conn.Connection {
	out := make([]conn.Connection, len(p.available))
	for i, e := range p.available {
		out[i] = e.conn
	}
	return out
}

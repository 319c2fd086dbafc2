package pool

import (
	"time"

	"go.uber.org/zap"

	"github.com/dependable-objdb/core/internal/conn"
)

// KeyedMetricsSink is MetricsSink parameterized by the sub-pool's key, so
// the coordinator can label historical-pool metrics.
type KeyedMetricsSink interface {
	ForKey(key string) MetricsSink
}

// KeyedConnectionPool is a family of ConnectionPools indexed by snapshot
// key, each carrying the same size/timeout parameters.
type KeyedConnectionPool struct {
	logger  *zap.Logger
	metrics KeyedMetricsSink
	now     func() time.Time

	size    int
	timeout time.Duration

	pools map[string]*ConnectionPool
}

type noopKeyedSink struct{}

func (noopKeyedSink) ForKey(string) MetricsSink { return noopSink{} }

// NewKeyed constructs an empty KeyedConnectionPool with the given
// per-key size/timeout targets.
func NewKeyed(logger *zap.Logger, size int, timeout time.Duration) *KeyedConnectionPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyedConnectionPool{
		logger:  logger,
		metrics: noopKeyedSink{},
		now:     time.Now,
		size:    size,
		timeout: timeout,
		pools:   make(map[string]*ConnectionPool),
	}
}

// WithMetrics attaches a KeyedMetricsSink, returning k for chaining.
func (k *KeyedConnectionPool) WithMetrics(sink KeyedMetricsSink) *KeyedConnectionPool {
	if sink != nil {
		k.metrics = sink
	}
	return k
}

// WithClock overrides the time source used by every sub-pool, including
// ones created after this call.
func (k *KeyedConnectionPool) WithClock(now func() time.Time) *KeyedConnectionPool {
	k.now = now
	for _, p := range k.pools {
		p.WithClock(now)
	}
	return k
}

func (k *KeyedConnectionPool) subPool(key string) *ConnectionPool {
	p, ok := k.pools[key]
	if !ok {
		p = New(k.logger, k.size, k.timeout).
			WithMetrics(k.metrics.ForKey(key)).
			WithClock(k.now)
		k.pools[key] = p
	}
	return p
}

// pruneEmpty removes a sub-pool whose `all` set has emptied.
func (k *KeyedConnectionPool) pruneEmpty(key string) {
	if p, ok := k.pools[key]; ok && p.AllLen() == 0 {
		delete(k.pools, key)
	}
}

// Push lazily creates the sub-pool for key and pushes c onto it.
func (k *KeyedConnectionPool) Push(c conn.Connection, key string) {
	k.subPool(key).Push(c)
}

// Repush returns c to its sub-pool's idle stack.
func (k *KeyedConnectionPool) Repush(c conn.Connection, key string) {
	k.subPool(key).Repush(c)
}

// Pop pops the warmest idle connection for key, or nil if key has no
// sub-pool or its idle stack is empty.
func (k *KeyedConnectionPool) Pop(key string) conn.Connection {
	p, ok := k.pools[key]
	if !ok {
		return nil
	}
	return p.Pop()
}

// Map applies f to every connection across every sub-pool.
func (k *KeyedConnectionPool) Map(f func(conn.Connection)) {
	for _, p := range k.pools {
		p.Map(f)
	}
}

// ReduceSize reduces every sub-pool and drops any that emptied.
func (k *KeyedConnectionPool) ReduceSize() {
	for key, p := range k.pools {
		p.reduceSize(false)
		if p.AllLen() == 0 {
			delete(k.pools, key)
		}
	}
}

// AvailableGC GCs every sub-pool and drops any that emptied.
func (k *KeyedConnectionPool) AvailableGC() {
	for key, p := range k.pools {
		p.AvailableGC()
		if p.AllLen() == 0 {
			delete(k.pools, key)
		}
	}
}

// SetSize propagates a new size target to every existing sub-pool and to
// sub-pools created afterward.
func (k *KeyedConnectionPool) SetSize(n int) {
	k.size = n
	for _, p := range k.pools {
		p.SetSize(n)
	}
}

// SetTimeout propagates a new idle timeout the same way.
func (k *KeyedConnectionPool) SetTimeout(t time.Duration) {
	k.timeout = t
	for _, p := range k.pools {
		p.SetTimeout(t)
	}
}

// All returns the union of every sub-pool's `all` set, for tests.
func (k *KeyedConnectionPool) All() []conn.Connection {
	var out []conn.Connection
	for _, p := range k.pools {
		out = append(out, p.All()...)
	}
	return out
}

// Available returns the concatenation of every sub-pool's idle sequence,
// for tests.
func (k *KeyedConnectionPool) Available() []conn.Connection {
	var out []conn.Connection
	for _, p := range k.pools {
		out = append(out, p.Available()...)
	}
	return out
}

// Keys returns the current set of sub-pool keys, for tests/inspection.
func (k *KeyedConnectionPool) Keys() []string {
	out := make([]string, 0, len(k.pools))
	for key := range k.pools {
		out = append(out, key)
	}
	return out
}

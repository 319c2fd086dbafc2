package pool_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dependable-objdb/core/internal/conn"
	"github.com/dependable-objdb/core/internal/pool"
)

func newConn(t *testing.T, warmth int) *conn.Memory {
	t.Helper()
	c := conn.NewMemory(100, 0)
	c.SetWarmth(warmth)
	return c
}

// scenario 2: warmth reuse.
func TestConnectionPool_WarmthReuse(t *testing.T) {
	p := pool.New(zaptest.NewLogger(t), 3, time.Hour)

	c50 := newConn(t, 50)
	c10 := newConn(t, 10)
	c200 := newConn(t, 200)

	p.Push(c50)
	p.Push(c10)
	p.Push(c200)

	got := []conn.Connection{p.Pop(), p.Pop(), p.Pop()}
	assert.Equal(t, []conn.Connection{c200, c50, c10}, got)
	assert.Nil(t, p.Pop())
}

// scenario 3: timeout reap.
func TestConnectionPool_TimeoutReap(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }

	p := pool.New(zaptest.NewLogger(t), 10, 300*time.Second).WithClock(clock)
	c := newConn(t, 1)
	p.Push(c)

	now = time.Unix(299, 0)
	p.AvailableGC()
	assert.Equal(t, 1, p.AvailableLen())
	assert.False(t, c.Released())

	now = time.Unix(301, 0)
	p.AvailableGC()
	assert.Equal(t, 0, p.AvailableLen())
	assert.Equal(t, 0, p.AllLen())
	assert.True(t, c.Released())
}

// scenario 4: capacity warning crossing detection.
//
// Push alone can't grow |all| past size: reduceSize(true) erodes
// `available` down to size-1 before every push's track() call, so
// repeated Push with nothing popped caps |all| at exactly size. The
// same erosion exists in the pool this is modeled on. Database.Open
// avoids it by popping the connection it just pushed (checkoutLocked's
// push-then-pop), which leaves `available` empty so reduceSize has
// nothing to erode; this test drives the same push-then-pop pattern to
// grow |all| past size and 2*size.
func TestConnectionPool_CapacityWarningCrossing(t *testing.T) {
	p := pool.New(zaptest.NewLogger(t), 2, time.Hour)

	warnings := 0
	criticals := 0
	p.WithMetrics(countingSink{warning: &warnings, critical: &criticals})

	for i := 0; i < 3; i++ {
		p.Push(newConn(t, 1))
		p.Pop()
	}
	// 3rd push: |all| reaches size+1=3 -> one warning.
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 0, criticals)

	for i := 0; i < 2; i++ {
		p.Push(newConn(t, 1))
		p.Pop()
	}
	// 5th push: |all| reaches 2*size+1=5 -> one critical.
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 1, criticals)
}

type countingSink struct {
	warning  *int
	critical *int
}

func (countingSink) SetPoolSize(int)      {}
func (countingSink) SetPoolAvailable(int) {}
func (countingSink) IncCheckout()         {}
func (countingSink) IncReaped(pool.ReapReason) {}
func (s countingSink) IncCapacityWarning(level string) {
	switch level {
	case "warning":
		*s.warning++
	case "critical":
		*s.critical++
	}
}

// invariant: available subset of all, no duplicates, warmth-ordered suffix.
func TestConnectionPool_Invariants(t *testing.T) {
	p := pool.New(zaptest.NewLogger(t), 5, time.Hour)

	conns := []*conn.Memory{newConn(t, 3), newConn(t, 1), newConn(t, 4), newConn(t, 1)}
	for _, c := range conns {
		p.Push(c)
	}

	all := p.All()
	available := p.Available()
	assert.LessOrEqual(t, len(available), len(all))

	seen := make(map[uint64]bool)
	for _, c := range available {
		id := c.(*conn.Memory).ID()
		assert.False(t, seen[id], "connection appears twice in available")
		seen[id] = true
	}

	for i := 1; i < len(available); i++ {
		prevWarmth := available[i-1].Cache().NonGhostCount()
		currWarmth := available[i].Cache().NonGhostCount()
		assert.LessOrEqual(t, prevWarmth, currWarmth)
	}
}

// round-trip law: push(c); pop() == c when empty and under target.
func TestConnectionPool_PushPopRoundTrip(t *testing.T) {
	p := pool.New(zaptest.NewLogger(t), 5, time.Hour)
	c := newConn(t, 7)
	p.Push(c)
	require.Equal(t, conn.Connection(c), p.Pop())
}

// successive pops with no intervening push/repush never return the same
// connection twice.
func TestConnectionPool_SuccessivePopsDiffer(t *testing.T) {
	p := pool.New(zaptest.NewLogger(t), 5, time.Hour)
	c1, c2 := newConn(t, 1), newConn(t, 2)
	p.Push(c1)
	p.Push(c2)

	first := p.Pop()
	second := p.Pop()
	assert.NotNil(t, first)
	if second != nil {
		assert.NotEqual(t, first, second)
	}
}

// SetSize(n') with n' < n leaves |available| <= n' before return.
func TestConnectionPool_SetSizeReducesImmediately(t *testing.T) {
	p := pool.New(zaptest.NewLogger(t), 5, time.Hour)
	for i := 0; i < 5; i++ {
		p.Push(newConn(t, i))
	}
	require.Equal(t, 5, p.AvailableLen())

	p.SetSize(2)
	assert.LessOrEqual(t, p.AvailableLen(), 2)
}

// SetTimeout(t') with t' < t removes every idle entry older than t'
// before return.
func TestConnectionPool_SetTimeoutReapsImmediately(t *testing.T) {
	now := time.Unix(1000, 0)
	p := pool.New(zaptest.NewLogger(t), 5, 2*time.Hour).WithClock(func() time.Time { return now })
	p.Push(newConn(t, 1))

	now = time.Unix(1000+3601, 0)
	p.SetTimeout(time.Hour)
	assert.Equal(t, 0, p.AvailableLen())
}

// an abandoned (never-closed) connection eventually disappears from `all`
// once it becomes unreachable, without pinning GC.
func TestConnectionPool_AbandonedConnectionUntracked(t *testing.T) {
	p := pool.New(zaptest.NewLogger(t), 5, time.Hour)

	func() {
		c := newConn(t, 1)
		p.Push(c)
		p.Pop() // checked out, then abandoned: no reference kept here
	}()

	// AllLen prunes dead weak entries; GC timing is not guaranteed, so this
	// only asserts the bookkeeping path runs without requiring collection
	// to have already happened.
	assert.GreaterOrEqual(t, p.AllLen(), 0)
}

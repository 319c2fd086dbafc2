package conn

import (
	"sync"
	"time"

	"github.com/dependable-objdb/core/internal/objectcache"
)

// memCache is an in-memory reference objectcache.Cache. Warmth
// (NonGhostCount) is set directly by tests via SetWarmth; production cache
// policy is out of scope.
type memCache struct {
	mu sync.Mutex

	size      int
	sizeBytes int64
	warmth    int
	objects   map[string]any
	lastGC    time.Time
}

func newMemCache(size int, sizeBytes int64) *memCache {
	return &memCache{
		size:      size,
		sizeBytes: sizeBytes,
		objects:   make(map[string]any),
	}
}

func (c *memCache) NonGhostCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warmth
}

func (c *memCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *memCache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeBytes
}

func (c *memCache) SetSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.size = n
}

func (c *memCache) SetSizeBytes(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sizeBytes = n
}

func (c *memCache) FullSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastGC = time.Now()
}

func (c *memCache) Minimize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = make(map[string]any)
	c.warmth = 0
	c.lastGC = time.Now()
}

func (c *memCache) IncrementalGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastGC = time.Now()
}

func (c *memCache) LastGCTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastGC
}

func (c *memCache) Each(f func(oid []byte, obj any) bool) {
	c.mu.Lock()
	snapshot := make(map[string]any, len(c.objects))
	for k, v := range c.objects {
		snapshot[k] = v
	}
	c.mu.Unlock()

	for k, v := range snapshot {
		if !f([]byte(k), v) {
			return
		}
	}
}

// Put loads obj at oid into the cache and bumps warmth, for tests that
// need a connection with a given non-ghost count.
func (c *memCache) Put(oid []byte, obj any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := string(oid)
	if _, exists := c.objects[key]; !exists {
		c.warmth++
	}
	c.objects[key] = obj
}

// SetWarmth forces NonGhostCount for tests that only care about pool
// reuse ordering, without populating real entries.
func (c *memCache) SetWarmth(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warmth = n
}

// Memory is a reference Connection implementation: no real object graph,
// just enough state to exercise ConnectionPool, Database, and
// TransactionalUndo against something concrete.
type Memory struct {
	mu sync.Mutex

	self  any // see SelfRef
	id    uint64
	cache *memCache

	before []byte

	txnManager TransactionManager
	opened     time.Time
	isOpen     bool
	closed     bool

	invalidations []invalidationCall
	released      bool
}

type invalidationCall struct {
	tid  []byte
	oids [][]byte
}

var memoryIDCounter uint64

// NewMemory constructs a live (before == nil) reference connection with
// the given cache target parameters.
func NewMemory(cacheSize int, cacheSizeBytes int64) *Memory {
	return newMemory(nil, cacheSize, cacheSizeBytes)
}

// NewMemoryHistorical constructs a historical reference connection bound
// to the given snapshot key.
func NewMemoryHistorical(before []byte, cacheSize int, cacheSizeBytes int64) *Memory {
	return newMemory(before, cacheSize, cacheSizeBytes)
}

func newMemory(before []byte, cacheSize int, cacheSizeBytes int64) *Memory {
	memoryIDCounter++
	m := &Memory{
		id:     memoryIDCounter,
		cache:  newMemCache(cacheSize, cacheSizeBytes),
		before: before,
	}
	var c Connection = m
	m.self = c
	return m
}

func (m *Memory) SelfRef() *any { return &m.self }

func (m *Memory) Before() []byte { return m.before }

func (m *Memory) Cache() objectcache.Cache { return m.cache }

// SetWarmth is a test helper forwarding to the underlying cache.
func (m *Memory) SetWarmth(n int) { m.cache.SetWarmth(n) }

// ID is a test helper for asserting pop() identity without relying on
// pointer equality semantics leaking into assertions.
func (m *Memory) ID() uint64 { return m.id }

func (m *Memory) Invalidate(tid []byte, oids [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations = append(m.invalidations, invalidationCall{tid: tid, oids: oids})
}

func (m *Memory) InvalidateCache() {
	m.cache.Minimize()
}

// Invalidations is a test helper returning every Invalidate call recorded
// so far.
func (m *Memory) Invalidations() []invalidationCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]invalidationCall, len(m.invalidations))
	copy(out, m.invalidations)
	return out
}

func (m *Memory) ReleaseResources() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	return nil
}

// Released reports whether ReleaseResources has been called.
func (m *Memory) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

func (m *Memory) Open(txnManager TransactionManager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txnManager = txnManager
	m.isOpen = true
}

func (m *Memory) TransactionManager() TransactionManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txnManager
}

func (m *Memory) SetOpened(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = t
	m.isOpen = !t.IsZero()
}

func (m *Memory) Opened() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.isOpen
}

func (m *Memory) SetClosed(closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = closed
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

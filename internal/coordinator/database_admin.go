package coordinator

import (
	"context"
	"reflect"
	"time"

	"github.com/dependable-objdb/core/internal/conn"
	cerrors "github.com/dependable-objdb/core/internal/errors"
	"github.com/dependable-objdb/core/internal/storage"
)

// SetCacheSize reconfigures the live pool's per-connection object cache
// size target, applying it to every tracked live connection immediately.
func (db *Database) SetCacheSize(n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.cacheSize = n
	db.live.Map(func(c conn.Connection) { c.Cache().SetSize(n) })
}

// SetCacheSizeBytes is SetCacheSize's byte-budget analogue.
func (db *Database) SetCacheSizeBytes(n int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.cacheSizeBytes = n
	db.live.Map(func(c conn.Connection) { c.Cache().SetSizeBytes(n) })
}

// SetHistoricalCacheSize is SetCacheSize's historical-pool analogue.
func (db *Database) SetHistoricalCacheSize(n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.historicalCacheSize = n
	db.historical.Map(func(c conn.Connection) { c.Cache().SetSize(n) })
}

// SetHistoricalCacheSizeBytes is SetHistoricalCacheSize's byte-budget
// analogue.
func (db *Database) SetHistoricalCacheSizeBytes(n int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.historicalCacheSizeBytes = n
	db.historical.Map(func(c conn.Connection) { c.Cache().SetSizeBytes(n) })
}

// SetPoolSize reconfigures the live pool's size target.
func (db *Database) SetPoolSize(n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.live.SetSize(n)
}

// SetHistoricalPoolSize is SetPoolSize's per-sub-pool historical analogue.
func (db *Database) SetHistoricalPoolSize(n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.historical.SetSize(n)
}

// SetHistoricalTimeout reconfigures the historical pools' idle timeout.
func (db *Database) SetHistoricalTimeout(t time.Duration) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.historical.SetTimeout(t)
}

// CacheClassDetail is one row of CacheDetail's per-class breakdown.
type CacheClassDetail struct {
	ClassName string
	Count     int
}

// CacheDetail groups every live connection's non-ghost entries by the
// Go type of the cached object, a per-class breakdown of cache contents.
func (db *Database) CacheDetail() []CacheClassDetail {
	db.mu.Lock()
	defer db.mu.Unlock()

	counts := make(map[string]int)
	db.live.Map(func(c conn.Connection) {
		c.Cache().Each(func(_ []byte, obj any) bool {
			if obj == nil {
				return true
			}
			counts[reflect.TypeOf(obj).String()]++
			return true
		})
	})

	out := make([]CacheClassDetail, 0, len(counts))
	for name, n := range counts {
		out = append(out, CacheClassDetail{ClassName: name, Count: n})
	}
	return out
}

// CacheExtremeEntry is one row of CacheExtremeDetail.
type CacheExtremeEntry struct {
	OID []byte
	// NormalizedRefcount always reports 0: ranking cache entries by
	// refcount needs a refcount Go's garbage collector does not expose.
	// Kept for interface parity.
	NormalizedRefcount int
}

// CacheExtremeDetail lists every live connection's non-ghost oids. See
// CacheExtremeEntry.NormalizedRefcount for why ranking is not attempted.
func (db *Database) CacheExtremeDetail() []CacheExtremeEntry {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []CacheExtremeEntry
	db.live.Map(func(c conn.Connection) {
		c.Cache().Each(func(oid []byte, obj any) bool {
			if obj != nil {
				out = append(out, CacheExtremeEntry{OID: oid})
			}
			return true
		})
	})
	return out
}

// CacheFullSweep triggers FullSweep on every tracked connection's cache,
// live and historical.
func (db *Database) CacheFullSweep() {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn := func(c conn.Connection) { c.Cache().FullSweep() }
	db.live.Map(fn)
	db.historical.Map(fn)
}

// CacheMinimize triggers Minimize on every tracked connection's cache.
func (db *Database) CacheMinimize() {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn := func(c conn.Connection) { c.Cache().Minimize() }
	db.live.Map(fn)
	db.historical.Map(fn)
}

// CacheSize reports the sum of non-ghost entries across every tracked
// connection's cache.
func (db *Database) CacheSize() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	total := 0
	fn := func(c conn.Connection) { total += c.Cache().NonGhostCount() }
	db.live.Map(fn)
	db.historical.Map(fn)
	return total
}

// CacheLastGCTime reports the most recent cache sweep time across every
// tracked connection, or the zero time if none has ever run.
func (db *Database) CacheLastGCTime() time.Time {
	db.mu.Lock()
	defer db.mu.Unlock()
	var latest time.Time
	fn := func(c conn.Connection) {
		if t := c.Cache().LastGCTime(); t.After(latest) {
			latest = t
		}
	}
	db.live.Map(fn)
	db.historical.Map(fn)
	return latest
}

// ConnectionDebugInfo is one row of ConnectionDebugInfoList's report.
type ConnectionDebugInfo struct {
	Before []byte // nil for live
	Opened time.Time
	IsOpen bool
}

// ConnectionDebugInfoList reports every tracked connection's checkout state,
// live and historical, for operator inspection.
func (db *Database) ConnectionDebugInfoList() []ConnectionDebugInfo {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []ConnectionDebugInfo
	fn := func(c conn.Connection) {
		opened, isOpen := c.Opened()
		out = append(out, ConnectionDebugInfo{Before: c.Before(), Opened: opened, IsOpen: isOpen})
	}
	db.live.Map(fn)
	db.historical.Map(fn)
	return out
}

// Pack reclaims storage for revisions made unreachable or superseded
// before cutoff. The coordinator's lock is held for the pack's full
// duration; pack is one of the few storage calls allowed to run while
// holding it, alongside bootstrap and invalidate.
func (db *Database) Pack(ctx context.Context, cutoff time.Time, refs storage.ReferencesFunc) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return cerrors.ErrDatabaseClosed
	}
	if err := db.store.Pack(ctx, cutoff, refs); err != nil {
		return cerrors.NewStorageError("packing storage", err)
	}
	return nil
}

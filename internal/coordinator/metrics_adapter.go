package coordinator

import (
	"github.com/dependable-objdb/core/internal/infrastructure/metrics"
	"github.com/dependable-objdb/core/internal/pool"
)

// poolMetricsAdapter forwards pool.MetricsSink calls to a shared
// metrics.Registry, labeled by database name, pool ("live"/"historical"),
// and (for historical sub-pools) snapshot key.
type poolMetricsAdapter struct {
	reg      *metrics.Registry
	dbName   string
	poolName string
	key      string
}

func (a poolMetricsAdapter) SetPoolSize(n int) {
	if a.reg == nil {
		return
	}
	a.reg.PoolSize.WithLabelValues(a.dbName, a.poolName, a.key).Set(float64(n))
}

func (a poolMetricsAdapter) SetPoolAvailable(n int) {
	if a.reg == nil {
		return
	}
	a.reg.PoolAvailable.WithLabelValues(a.dbName, a.poolName, a.key).Set(float64(n))
}

func (a poolMetricsAdapter) IncCheckout() {
	if a.reg == nil {
		return
	}
	a.reg.Checkouts.WithLabelValues(a.dbName, a.poolName).Inc()
}

func (a poolMetricsAdapter) IncReaped(reason pool.ReapReason) {
	if a.reg == nil {
		return
	}
	a.reg.Reaped.WithLabelValues(a.dbName, a.poolName, string(reason)).Inc()
}

func (a poolMetricsAdapter) IncCapacityWarning(level string) {
	if a.reg == nil {
		return
	}
	a.reg.Capacity.WithLabelValues(a.dbName, level).Inc()
}

// keyedMetricsAdapter implements pool.KeyedMetricsSink, handing each
// sub-pool a poolMetricsAdapter labeled with its snapshot key.
type keyedMetricsAdapter struct {
	reg    *metrics.Registry
	dbName string
}

func (a keyedMetricsAdapter) ForKey(key string) pool.MetricsSink {
	return poolMetricsAdapter{reg: a.reg, dbName: a.dbName, poolName: "historical", key: key}
}

// Package metrics exposes the coordination core's pool and invalidation
// counters as Prometheus collectors. Registry has no nil-safe methods:
// code that may hold a nil *Registry (as coordinator.Database does when
// no metrics are attached) checks for nil before each update.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector the core updates. All fields are safe for
// concurrent use: prometheus collectors are inherently thread-safe.
type Registry struct {
	PoolSize      *prometheus.GaugeVec
	PoolAvailable *prometheus.GaugeVec
	Checkouts     *prometheus.CounterVec
	Reaped        *prometheus.CounterVec
	Capacity      *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
	Bootstraps    prometheus.Counter
}

// NewRegistry builds a Registry and registers its collectors with reg. Pass
// prometheus.NewRegistry() for isolated tests or prometheus.DefaultRegisterer
// in production.
func NewRegistry(reg prometheus.Registerer) (*Registry, error) {
	r := &Registry{
		PoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "objdb_pool_size",
			Help: "Number of connections tracked by a pool (the `all` set).",
		}, []string{"database", "pool", "key"}),
		PoolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "objdb_pool_available",
			Help: "Number of idle connections currently available in a pool.",
		}, []string{"database", "pool", "key"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objdb_pool_checkouts_total",
			Help: "Total connections handed out by Database.Open.",
		}, []string{"database", "pool"}),
		Reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objdb_pool_reaped_total",
			Help: "Total idle connections reaped, by reason.",
		}, []string{"database", "pool", "reason"}),
		Capacity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objdb_capacity_warnings_total",
			Help: "Total capacity warnings logged, by level.",
		}, []string{"database", "level"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "objdb_invalidations_total",
			Help: "Total invalidate() broadcasts fanned out to connections.",
		}, []string{"database"}),
		Bootstraps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "objdb_bootstrap_total",
			Help: "Incremented once if this process created the root object.",
		}),
	}

	collectors := []prometheus.Collector{
		r.PoolSize, r.PoolAvailable, r.Checkouts, r.Reaped, r.Capacity,
		r.Invalidations, r.Bootstraps,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// CacheHitsTotal counts lookups that found a live entry.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_cache_hits_total",
		Help: "Total number of cache hits",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_cache_misses_total",
		Help: "Total number of cache misses",
	})

	CacheSetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_cache_sets_total",
		Help: "Total number of cache sets",
	})

	CacheDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_cache_deletes_total",
		Help: "Total number of cache deletes",
	})

	// CacheLoadsTotal counts loader calls by result (ok, error).
	CacheLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_cache_loads_total",
		Help: "Total number of cache loader calls by result",
	}, []string{"result"})

	// CacheLoadsSharedTotal counts Load calls that piggybacked on an in-flight load.
	CacheLoadsSharedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_cache_loads_shared_total",
		Help: "Total number of loads served by a concurrent in-flight load",
	})
)

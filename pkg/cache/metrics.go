package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clockTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickcache_clock_ticks_total",
		Help: "Total number of logical clock ticks across all engines.",
	})
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickcache_lookups_total",
		Help: "Total number of cache lookups.",
	}, []string{"status" /* hit | miss */})
	sweptItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickcache_swept_items_total",
		Help: "Total number of items classified by clock sweeps.",
	}, []string{"state" /* expired | stale | fresh | vanished | replaced */})
	sweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickcache_sweep_failures_total",
		Help: "Total number of scope or item failures absorbed by clock sweeps.",
	})
	refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickcache_refreshes_total",
		Help: "Total number of item refreshes by outcome.",
	}, []string{"outcome" /* refreshed | evicted | failed */})
	storeEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickcache_store_evictions_total",
		Help: "Total number of items evicted by stores to stay within the scope capacity.",
	}, []string{"backend"})
)

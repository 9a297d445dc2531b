// Package metrics holds Prometheus instruments used across tenantd.  All
// collectors are registered with the global registry, so importing this
// package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Eviction reasons used as the "reason" label on ConnEvictTotal.
const (
	ReasonIdle       = "idle"
	ReasonCapacity   = "capacity"
	ReasonInvalidate = "invalidate"
	ReasonShutdown   = "shutdown"
	ReasonClosed     = "closed" // closed by a caller while cached
)

var (
	OpenConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_open_connections",
			Help: "Number of tenant database clients currently cached.",
		})

	ConnCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_conn_cache_hits_total",
			Help: "Connection cache lookups served from memory.",
		})

	ConnCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_conn_cache_misses_total",
			Help: "Connection cache lookups that required opening a client.",
		})

	ConnOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_conn_open_total",
			Help: "Cumulative number of tenant clients opened and validated.",
		})

	ConnOpenErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_conn_open_errors_total",
			Help: "Cumulative number of failed tenant connect or ping attempts.",
		})

	ConnEvictTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_conn_evict_total",
			Help: "Tenant clients removed from the cache, by reason.",
		}, []string{"reason"})

	ConnCloseErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_conn_close_errors_total",
			Help: "Close failures swallowed during eviction.",
		})

	LookupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_lookup_total",
			Help: "Tenant metadata lookups, by result (hit, miss, refresh, error).",
		}, []string{"result"})

	SuspendedRejectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_suspended_rejects_total",
			Help: "Connection requests rejected because the tenant is suspended or terminated.",
		})

	ProvisionStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_provision_step_seconds",
			Help:    "Duration of provisioning steps, by step and outcome.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step", "outcome"})
)

func init() {
	prometheus.MustRegister(
		OpenConnections,
		ConnCacheHitsTotal,
		ConnCacheMissesTotal,
		ConnOpenTotal,
		ConnOpenErrorsTotal,
		ConnEvictTotal,
		ConnCloseErrorsTotal,
		LookupTotal,
		SuspendedRejectsTotal,
		ProvisionStepDuration,
	)
}

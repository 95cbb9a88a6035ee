// Package metrics registers the Prometheus collectors michimem exposes on
// its diagnostics listener (see internal/cmd/serve). The shape follows the
// teacher's internal/security/metrics.go: a package-level promauto.With
// factory guarded by sync.Once, generalized from HTTP-request metrics to
// Store-operation metrics since this repo has no HTTP API of its own to
// instrument.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreLatency observes the duration of each Store method call,
	// labeled by operation name.
	StoreLatency *prometheus.HistogramVec

	// StoreErrorsTotal counts failed Store calls, labeled by operation.
	StoreErrorsTotal *prometheus.CounterVec

	// MemoriesTotal is a gauge snapshot of Store.Stats().Total, refreshed
	// by the MCP server on each mem_stats call.
	MemoriesTotal prometheus.Gauge

	// LifecycleExpiredTotal and LifecycleArchivedTotal count the
	// cumulative effect of RunLifecycle across the process lifetime.
	LifecycleExpiredTotal  prometheus.Counter
	LifecycleArchivedTotal prometheus.Counter

	// CompoundingInsightsTotal and CompoundingKnowledgeTotal count
	// synthesized records produced by RunCompounding.
	CompoundingInsightsTotal  prometheus.Counter
	CompoundingKnowledgeTotal prometheus.Counter
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call
// multiple times; only the first call registers.
func Init() {
	initOnce.Do(func() {
		f := promauto.With(prometheus.DefaultRegisterer)

		StoreLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "michimem_store_latency_seconds",
			Help:    "Store operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"})

		StoreErrorsTotal = f.NewCounterVec(prometheus.CounterOpts{
			Name: "michimem_store_errors_total",
			Help: "Total failed Store operations.",
		}, []string{"operation"})

		MemoriesTotal = f.NewGauge(prometheus.GaugeOpts{
			Name: "michimem_memories_total",
			Help: "Last observed total memory record count.",
		})

		LifecycleExpiredTotal = f.NewCounter(prometheus.CounterOpts{
			Name: "michimem_lifecycle_expired_total",
			Help: "Total records expired by RunLifecycle.",
		})
		LifecycleArchivedTotal = f.NewCounter(prometheus.CounterOpts{
			Name: "michimem_lifecycle_archived_total",
			Help: "Total records successfully archived by RunLifecycle.",
		})

		CompoundingInsightsTotal = f.NewCounter(prometheus.CounterOpts{
			Name: "michimem_compounding_insights_total",
			Help: "Total insight records synthesized by RunCompounding.",
		})
		CompoundingKnowledgeTotal = f.NewCounter(prometheus.CounterOpts{
			Name: "michimem_compounding_knowledge_total",
			Help: "Total knowledge records synthesized by RunCompounding.",
		})
	})
}

// Observe records the duration since start against the named operation,
// and bumps the error counter when err is non-nil. A nil StoreLatency
// (Init never called, e.g. in unit tests) makes this a no-op.
func Observe(operation string, start time.Time, err error) {
	if StoreLatency == nil {
		return
	}
	StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
}

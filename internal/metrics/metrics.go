package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's custom Prometheus collectors. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	CacheLookups       *prometheus.CounterVec
	CacheEvictions     prometheus.Counter
	CacheInvalidations *prometheus.CounterVec
	RetrievalLatency   *prometheus.HistogramVec
	SubQueryFailures   *prometheus.CounterVec
	RetrievedChunks    prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalograg_cache_lookups_total",
			Help: "Cache lookups by kind (exact, semantic, embedding), tier and result",
		}, []string{"kind", "tier", "result"}),

		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalograg_cache_evictions_total",
			Help: "Query cache entries removed by capacity eviction",
		}),

		CacheInvalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalograg_cache_invalidations_total",
			Help: "Query cache entries removed by explicit invalidation, by scope",
		}, []string{"scope"}),

		RetrievalLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalograg_retrieval_duration_seconds",
			Help:    "Hybrid retrieval latency by query type",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"type"}),

		SubQueryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalograg_retrieval_subquery_failures_total",
			Help: "Retrieval sub-queries that failed or timed out, by kind",
		}, []string{"kind"}),

		RetrievedChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalograg_retrieval_chunks",
			Help:    "Chunks returned per retrieval",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *Metrics) RecordCacheLookup(kind, tier, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(kind, tier, result).Inc()
}

func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictions.Add(float64(n))
}

func (m *Metrics) RecordInvalidation(scope string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheInvalidations.WithLabelValues(scope).Add(float64(n))
}

func (m *Metrics) RecordRetrieval(queryType string, seconds float64, chunks int) {
	if m == nil {
		return
	}
	m.RetrievalLatency.WithLabelValues(queryType).Observe(seconds)
	m.RetrievedChunks.Observe(float64(chunks))
}

func (m *Metrics) RecordSubQueryFailure(kind string) {
	if m == nil {
		return
	}
	m.SubQueryFailures.WithLabelValues(kind).Inc()
}

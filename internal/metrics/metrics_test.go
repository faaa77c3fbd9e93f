package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCacheLookup("exact", "fast", "hit")
		m.RecordEvictions(3)
		m.RecordInvalidation("document", 1)
		m.RecordRetrieval("factual", 0.2, 8)
		m.RecordSubQueryFailure("semantic")
	})
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordCacheLookup("exact", "durable", "hit")
	m.RecordCacheLookup("exact", "durable", "hit")
	m.RecordEvictions(10)
	m.RecordEvictions(0)
	m.RecordInvalidation("user", 2)
	m.RecordSubQueryFailure("keyword")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("exact", "durable", "hit")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.CacheEvictions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheInvalidations.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubQueryFailures.WithLabelValues("keyword")))
}

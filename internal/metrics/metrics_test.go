package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics() *Metrics {
	return NewWithRegisterer(prometheus.NewRegistry())
}

func TestMetrics_RecordProviderCall(t *testing.T) {
	m := newTestMetrics()
	m.RecordProviderCall("openai-compatible", "embed", "success", 0.42)

	count := testutil.ToFloat64(m.ProviderCalls.WithLabelValues("openai-compatible", "embed", "success"))
	assert.Equal(t, float64(1), count)
}

func TestMetrics_SetCircuitBreakerState(t *testing.T) {
	m := newTestMetrics()
	m.SetCircuitBreakerState("provider:embedding", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CircuitBreakerOpen.WithLabelValues("provider:embedding")))

	m.SetCircuitBreakerState("provider:embedding", false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CircuitBreakerOpen.WithLabelValues("provider:embedding")))
}

func TestMetrics_RecordBatchTerminal(t *testing.T) {
	m := newTestMetrics()
	m.RecordBatchTerminal("completed")
	m.RecordBatchTerminal("completed")
	m.RecordBatchTerminal("failed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BatchesCompleted.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BatchesCompleted.WithLabelValues("failed")))
}

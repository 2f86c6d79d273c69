// Package metrics provides Prometheus metrics for the ingestion and
// embedding pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the pipeline exposes.
type Metrics struct {
	// Document ingestion
	DocumentsIngested prometheus.Counter
	ChunksCreated      prometheus.Counter
	ChunkingDuration    prometheus.Histogram
	QueueDepth          prometheus.Gauge

	// Batch orchestration
	BatchesSubmitted   prometheus.Counter
	BatchesCompleted   prometheus.CounterVec
	BatchAccumulation  prometheus.Histogram
	BatchProcessing    prometheus.Histogram
	EmbeddingsWritten  prometheus.Counter
	DocumentsFailed    prometheus.Counter

	// Embedding provider
	ProviderCalls       prometheus.CounterVec
	ProviderCallLatency prometheus.HistogramVec
	CircuitBreakerOpen  prometheus.GaugeVec
	RateLimitWaits      prometheus.Counter

	// Connector sync
	SyncRunsStarted   prometheus.Counter
	SyncRunsCompleted prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	ObjectsScanned    prometheus.Counter
	SyncConflicts     prometheus.Counter

	// Resources
	DatabaseConnections prometheus.Gauge
	GoroutineCount      prometheus.Gauge
}

// New creates and registers every collector against the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates and registers every collector against reg,
// letting tests use a throwaway registry instead of colliding on the
// process-wide default.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DocumentsIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_documents_ingested_total",
			Help: "Total number of documents upserted into the document store",
		}),
		ChunksCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_chunks_created_total",
			Help: "Total number of chunks produced by the chunker",
		}),
		ChunkingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragpipe_chunking_duration_seconds",
			Help:    "Duration of chunking a single document's content",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "ragpipe_embedding_queue_depth",
			Help: "Number of pending embedding queue items",
		}),

		BatchesSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_batches_submitted_total",
			Help: "Total number of batch jobs submitted to the embedding provider",
		}),
		BatchesCompleted: *f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_batches_completed_total",
			Help: "Total number of batch jobs that reached a terminal state",
		}, []string{"status"}),
		BatchAccumulation: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragpipe_batch_accumulation_seconds",
			Help:    "Time spent accumulating documents into a batch before submission",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		BatchProcessing: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragpipe_batch_processing_seconds",
			Help:    "Time a batch spent submitted at the provider before reaching a terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		EmbeddingsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_embeddings_written_total",
			Help: "Total number of embedding rows written",
		}),
		DocumentsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_documents_embedding_failed_total",
			Help: "Total number of documents that reached embedding_status=failed",
		}),

		ProviderCalls: *f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_provider_calls_total",
			Help: "Total number of calls made to an embedding provider",
		}, []string{"provider", "operation", "outcome"}),
		ProviderCallLatency: *f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ragpipe_provider_call_duration_seconds",
			Help:    "Duration of embedding provider calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider", "operation"}),
		CircuitBreakerOpen: *f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ragpipe_circuit_breaker_open",
			Help: "Circuit breaker state (1 = open, 0 = closed) by upstream",
		}, []string{"upstream"}),
		RateLimitWaits: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_rate_limit_waits_total",
			Help: "Total number of calls that had to wait for a rate limit token",
		}),

		SyncRunsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_sync_runs_started_total",
			Help: "Total number of connector sync runs started",
		}),
		SyncRunsCompleted: *f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_sync_runs_completed_total",
			Help: "Total number of connector sync runs that reached a terminal state",
		}, []string{"status"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragpipe_sync_duration_seconds",
			Help:    "Duration of a connector sync run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		ObjectsScanned: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_sync_objects_scanned_total",
			Help: "Total number of source objects scanned across all syncs",
		}),
		SyncConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_sync_conflicts_total",
			Help: "Total number of sync requests rejected because a sync was already running for that source",
		}),

		DatabaseConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "ragpipe_database_connections",
			Help: "Number of open database connections",
		}),
		GoroutineCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "ragpipe_goroutines",
			Help: "Number of goroutines in the process",
		}),
	}
}

// RecordProviderCall records the outcome and latency of one embedding
// provider call.
func (m *Metrics) RecordProviderCall(provider, operation, outcome string, durationSeconds float64) {
	m.ProviderCalls.WithLabelValues(provider, operation, outcome).Inc()
	m.ProviderCallLatency.WithLabelValues(provider, operation).Observe(durationSeconds)
}

// SetCircuitBreakerState records whether the breaker guarding upstream is open.
func (m *Metrics) SetCircuitBreakerState(upstream string, open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	m.CircuitBreakerOpen.WithLabelValues(upstream).Set(value)
}

// RecordBatchTerminal records a batch job reaching completed or failed.
func (m *Metrics) RecordBatchTerminal(status string) {
	m.BatchesCompleted.WithLabelValues(status).Inc()
}

// RecordSyncTerminal records a sync run reaching a terminal status.
func (m *Metrics) RecordSyncTerminal(status string, durationSeconds float64) {
	m.SyncRunsCompleted.WithLabelValues(status).Inc()
	m.SyncDuration.Observe(durationSeconds)
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for BoardLedger.
type Metrics struct {
	// --- Engine ---
	EngineEventsApplied  *prometheus.CounterVec
	EngineEventsSkipped  *prometheus.CounterVec
	EngineEntriesSkipped *prometheus.CounterVec
	EngineAdjustments    prometheus.Counter
	EngineAdjustedVolume prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	IdempotencyEvictions  prometheus.Counter

	// --- Analysis ---
	AnalysisRuns         *prometheus.CounterVec
	AnalysisDuration     *prometheus.HistogramVec
	AnalysisParticipants prometheus.Gauge

	// --- Upstream ---
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	UpstreamRetries  prometheus.Counter
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistReportsWritten prometheus.Counter
	PersistEntriesWritten prometheus.Counter
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter

	// --- Outbound ---
	ReportsPublished prometheus.Counter
	PublishErrors    prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	requestBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	return &Metrics{
		// Engine
		EngineEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_engine_events_applied_total",
			Help: "Board events applied to the ledger",
		}, []string{"kind"}),

		EngineEventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_engine_events_skipped_total",
			Help: "Classified board events that changed nothing",
		}, []string{"kind", "reason"}),

		EngineEntriesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_engine_entries_skipped_total",
			Help: "Feed entries rejected before classification",
		}, []string{"entry_type", "reason"}),

		EngineAdjustments: f.NewCounter(prometheus.CounterOpts{
			Name: "board_engine_adjustments_total",
			Help: "Reconciliation adjustments recorded",
		}),

		EngineAdjustedVolume: f.NewCounter(prometheus.CounterOpts{
			Name: "board_engine_adjusted_volume_total",
			Help: "Absolute money moved by reconciliation adjustments",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_idempotency_duplicates_total",
			Help: "Duplicate feed entries skipped",
		}, []string{"entry_type"}),

		IdempotencyEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "board_idempotency_evictions_total",
			Help: "Entry keys forgotten by a full dedup set",
		}),

		// Analysis
		AnalysisRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_analysis_runs_total",
			Help: "League analyses run",
		}, []string{"source", "status"}),

		AnalysisDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "board_analysis_duration_seconds",
			Help:    "End-to-end time of one analysis",
			Buckets: requestBuckets,
		}, []string{"source"}),

		AnalysisParticipants: f.NewGauge(prometheus.GaugeOpts{
			Name: "board_analysis_participants",
			Help: "Participants in the last analysis",
		}),

		// Upstream
		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_upstream_requests_total",
			Help: "Requests to the fantasy league API",
		}, []string{"endpoint", "status"}),

		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "board_upstream_request_duration_seconds",
			Help:    "Fantasy league API latency",
			Buckets: requestBuckets,
		}, []string{"endpoint"}),

		UpstreamRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "board_upstream_retries_total",
			Help: "Retried upstream requests",
		}),

		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_cache_hits_total",
			Help: "Upstream responses served from Redis",
		}, []string{"resource"}),

		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_cache_misses_total",
			Help: "Upstream responses not found in Redis",
		}, []string{"resource"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "board_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "board_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "board_channel_utilization_ratio",
			Help: "Channel buffer usage over capacity",
		}, []string{"channel"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "board_publish_drops_total",
			Help: "Reports dropped because the publish channel was full",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "board_persist_backpressure_total",
			Help: "Times an analysis blocked on a full persist channel",
		}),

		// Persistence
		PersistReportsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "board_persist_reports_written_total",
			Help: "Analysis reports written to Postgres",
		}),

		PersistEntriesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "board_persist_feed_entries_written_total",
			Help: "Board feed entries archived to Postgres",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "board_persist_batch_duration_seconds",
			Help:    "Time to write one batch of reports",
			Buckets: requestBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "board_persist_retry_total",
			Help: "Persistence retries",
		}),

		// Outbound
		ReportsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "board_reports_published_total",
			Help: "Reports published to NATS",
		}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "board_publish_errors_total",
			Help: "Failed NATS publishes",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_query_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "board_query_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: requestBuckets,
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "board_query_errors_total",
			Help: "HTTP API errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

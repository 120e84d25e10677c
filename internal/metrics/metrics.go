package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilo_ingest_requests_total",
			Help: "Total number of ingest requests received",
		},
		[]string{"endpoint", "status"},
	)

	RecordsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilo_ingest_records_inserted_total",
			Help: "Total number of event records persisted",
		},
	)

	RecordErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilo_ingest_record_errors_total",
			Help: "Total number of per-record failures",
		},
		[]string{"reason"},
	)

	NormalizationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigilo_ingest_normalization_duration_seconds",
			Help:    "Duration of event normalization in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigilo_ingest_persist_duration_seconds",
			Help:    "Duration of event persistence in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilo_ingest_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"key"},
	)

	// Reporting metrics
	ReportsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilo_reports_generated_total",
			Help: "Total number of daily reports computed and cached",
		},
	)

	// DLQ metrics
	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilo_dlq_writes_total",
			Help: "Total number of records spooled to the dead letter queue",
		},
		[]string{"reason"},
	)
)

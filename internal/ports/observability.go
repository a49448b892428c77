package ports

import "github.com/ghalamif/TensileFlow/internal/domain"

// Metric names understood by every Observability backend.
const (
	MetricSamplesIngested = "tensile_samples_ingested_total"
	MetricSamplesDropped  = "tensile_samples_dropped_total"
	MetricQueueDropped    = "tensile_queue_dropped_total"
	MetricDLQ             = "tensile_dlq_total"
	MetricExportRows      = "tensile_export_rows_total"
	MetricWALSize         = "tensile_wal_size_bytes"
	MetricQueueLength     = "tensile_queue_length"
	MetricSessions        = "tensile_sessions"
	MetricArchiveLatency  = "tensile_archive_latency_seconds"
	MetricSearchLatency   = "tensile_search_latency_seconds"
)

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)
	SetGauge(name string, v float64)

	// RecordDLQ reports a sample the calibration stage rejected.
	RecordDLQ(id WALEntryID, s *domain.Sample, err error)
}

type Field struct {
	Key   string
	Value any
}

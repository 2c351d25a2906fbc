package internal

import (
	"fmt"
	"time"

	"github.com/lychee-technology/bulkingest"
	"github.com/prometheus/client_golang/prometheus"
)

// unknownKindLabel replaces unrecognized operation kinds in metric labels so
// arbitrary input cannot grow label cardinality.
const unknownKindLabel = "unknown"

// MetricsRecorder collects per-operation counters and latencies for one
// invocation. It implements Observer and can be dumped in the node_exporter
// textfile format at exit.
type MetricsRecorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	processed  prometheus.Gauge
	failed     prometheus.Gauge
	lastRun    prometheus.Gauge
}

var _ Observer = (*MetricsRecorder)(nil)

// NewMetricsRecorder registers the ingest metrics under namespace on a fresh registry.
func NewMetricsRecorder(namespace string) *MetricsRecorder {
	if namespace == "" {
		namespace = "bulkingest"
	}
	m := &MetricsRecorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Batch operations attempted, by kind and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent executing a single batch operation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
		processed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_processed",
			Help:      "Successful operations in the last batch.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_errors",
			Help:      "Failed operations in the last batch.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_completed_timestamp_seconds",
			Help:      "Unix time the last batch finished.",
		}),
	}
	m.registry.MustRegister(m.operations, m.latency, m.processed, m.failed, m.lastRun)
	return m
}

// ObserveOperation records one attempted operation.
func (m *MetricsRecorder) ObserveOperation(kind bulkingest.OperationKind, outcome string, elapsed time.Duration) {
	label := string(kind)
	if !kind.Known() {
		label = unknownKindLabel
	}
	m.operations.WithLabelValues(label, outcome).Inc()
	m.latency.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ObserveReport records the summary of a completed batch.
func (m *MetricsRecorder) ObserveReport(report *bulkingest.Report, completedAt time.Time) {
	m.processed.Set(float64(len(report.Processed)))
	m.failed.Set(float64(len(report.Errors)))
	m.lastRun.Set(float64(completedAt.Unix()))
}

// Registry exposes the underlying registry for gathering.
func (m *MetricsRecorder) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile dumps all metrics to path in the textfile collector format.
func (m *MetricsRecorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

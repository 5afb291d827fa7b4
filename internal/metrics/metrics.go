// Package metrics provides Prometheus metrics for the archive pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all archiver metrics.
	Namespace = "warc_archiver"

	subsystemArchive = "archive"
	subsystemStorage = "storage"
	subsystemWorker  = "worker"
)

// Commit statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics holds all Prometheus metrics for the archive pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Archive metrics
	RecordsWritten   *prometheus.CounterVec
	EncodeFailures   prometheus.Counter
	Rotations        prometheus.Counter
	OpenArchiveBytes prometheus.Gauge

	// Storage metrics
	CommitsTotal          *prometheus.CounterVec
	CommittedBytes        prometheus.Counter
	CommitDurationSeconds prometheus.Histogram

	// Worker pool metrics
	WorkerPoolSize prometheus.Gauge
	WorkersBusy    prometheus.Gauge
}

// New creates and registers all archiver metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initArchiveMetrics(factory)
	m.initStorageMetrics(factory)
	m.initWorkerMetrics(factory)

	return m
}

func (m *Metrics) initArchiveMetrics(factory promauto.Factory) {
	m.RecordsWritten = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemArchive,
			Name:      "records_written_total",
			Help:      "Total number of records written, by kind (response or revisit)",
		},
		[]string{"kind"},
	)

	m.EncodeFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemArchive,
			Name:      "encode_failures_total",
			Help:      "Total number of records dropped because they could not be encoded",
		},
	)

	m.Rotations = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemArchive,
			Name:      "rotations_total",
			Help:      "Total number of archives rotated on size",
		},
	)

	m.OpenArchiveBytes = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystemArchive,
			Name:      "open_archive_bytes",
			Help:      "Uncompressed size of the archive currently being written",
		},
	)
}

func (m *Metrics) initStorageMetrics(factory promauto.Factory) {
	m.CommitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemStorage,
			Name:      "commits_total",
			Help:      "Total number of archive commits, by status",
		},
		[]string{"status"},
	)

	m.CommittedBytes = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystemStorage,
			Name:      "committed_bytes_total",
			Help:      "Total compressed bytes committed to storage",
		},
	)

	m.CommitDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: subsystemStorage,
			Name:      "commit_duration_seconds",
			Help:      "Duration of archive commits in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 18), // 10ms to ~22min
		},
	)
}

func (m *Metrics) initWorkerMetrics(factory promauto.Factory) {
	m.WorkerPoolSize = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystemWorker,
			Name:      "pool_size",
			Help:      "Size of the encode pool",
		},
	)

	m.WorkersBusy = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystemWorker,
			Name:      "busy",
			Help:      "Number of encode jobs currently running",
		},
	)
}

// RecordWrite records a written record of the given kind and the open archive size.
func (m *Metrics) RecordWrite(kind string, openBytes int64) {
	if m == nil {
		return
	}
	m.RecordsWritten.WithLabelValues(kind).Inc()
	m.OpenArchiveBytes.Set(float64(openBytes))
}

// RecordEncodeFailure records a dropped record.
func (m *Metrics) RecordEncodeFailure() {
	if m == nil {
		return
	}
	m.EncodeFailures.Inc()
}

// RecordRotation records a size rotation; the new archive starts empty.
func (m *Metrics) RecordRotation() {
	if m == nil {
		return
	}
	m.Rotations.Inc()
	m.OpenArchiveBytes.Set(0)
}

// RecordCommit records the outcome of a commit.
func (m *Metrics) RecordCommit(success bool, size int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CommitDurationSeconds.Observe(durationSeconds)
	if !success {
		m.CommitsTotal.WithLabelValues(StatusFailure).Inc()
		return
	}
	m.CommitsTotal.WithLabelValues(StatusSuccess).Inc()
	m.CommittedBytes.Add(float64(size))
}

// SetWorkerPoolMetrics sets the encode pool gauges.
func (m *Metrics) SetWorkerPoolMetrics(total, busy int) {
	if m == nil {
		return
	}
	m.WorkerPoolSize.Set(float64(total))
	m.WorkersBusy.Set(float64(busy))
}

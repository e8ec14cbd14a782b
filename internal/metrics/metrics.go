// Package metrics exposes Faro's Prometheus instrumentation: reader-level
// counters and a storage MetricsHook implementation for the Pebble wrapper.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsDelivered counts events published to the subscription layer.
	EventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faro_reader_events_delivered_total",
			Help: "Total number of events delivered by readers.",
		},
	)
	// DuplicatesSuppressed counts events discarded by the high-water mark.
	DuplicatesSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faro_reader_duplicates_suppressed_total",
			Help: "Total number of events discarded as duplicates or out of order.",
		},
	)
	// ModeSwitches counts index-to-TF handoffs.
	ModeSwitches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faro_reader_mode_switches_total",
			Help: "Total number of index-to-TF mode switches.",
		},
	)
	// ReadsIssued counts outbound read requests by kind.
	ReadsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faro_reader_reads_issued_total",
			Help: "Total number of read requests issued by readers.",
		},
		[]string{"kind"},
	)

	storageReadLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faro_storage_read_latency_ms",
			Help:    "Pebble point-read latency in milliseconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		},
	)
	storageCommitLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faro_storage_commit_latency_ms",
			Help:    "Pebble batch-commit latency in milliseconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		},
	)
	storageCommitBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "faro_storage_commit_bytes_total",
			Help: "Total bytes committed to storage.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsDelivered,
		DuplicatesSuppressed,
		ModeSwitches,
		ReadsIssued,
		storageReadLatencyMs,
		storageCommitLatencyMs,
		storageCommitBytes,
	)
}

// StorageHook implements pebblestore.MetricsHook backed by the package
// histograms.
type StorageHook struct{}

// ObserveRead records a point-read observation.
func (StorageHook) ObserveRead(elapsed time.Duration, _ int) {
	storageReadLatencyMs.Observe(float64(elapsed.Microseconds()) / 1000)
}

// ObserveBatchCommit records a batch-commit observation.
func (StorageHook) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	storageCommitLatencyMs.Observe(float64(elapsed.Microseconds()) / 1000)
	storageCommitBytes.Add(float64(bytes))
}

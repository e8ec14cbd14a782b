// Package pebblestore wraps a Pebble database with Faro's fsync policy and
// small helpers for point reads, writes, and atomic batches.
//
// All TF-log and stream-index keys are laid out to be lexicographically
// ordered (see internal/tflog), so range scans use raw Pebble iterators
// obtained via NewIter.
//
// A MetricsHook seam allows observing read/commit latencies and sizes; the
// default is a no-op and internal/metrics provides a Prometheus-backed
// implementation.
package pebblestore

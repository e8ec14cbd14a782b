// Package tflog implements Faro's transaction-file log: a totally ordered
// append-only sequence of events, the per-stream entry index derived from it,
// the per-event-type link streams ("$et-<type>"), and the index checkpoint
// stream ("$et").
//
// # Keyspace
//
// Keys are lexicographically ordered for efficient range scans:
//   - tf/m                               (log metadata: last position)
//   - tf/e/{commit_be8}{prepare_be8}     (TF entries)
//   - st/{stream}/m                      (stream metadata: last event number)
//   - st/{stream}/e/{num_be4}            (stream entries)
//
// Records are stored as: varint headerLen | header | payload | crc32c(header|payload),
// where the header is the JSON-encoded event envelope and the payload is the
// event data.
//
// # Positions
//
// A TfPos is a (commit, prepare) pair ordered lexicographically. This store
// assigns commit == prepare per event, which keeps the pair shape of the wire
// contract while giving a dense total order. PosBeforeAll sorts before any
// assigned position.
//
// # Type index
//
// The Indexer appends link events ("$>" payloads of the form
// "<eventNumber>@<streamId>") to "$et-<type>" streams; the link metadata
// carries a checkpoint tag JSON from which the original TfPos is recovered.
// WriteCheckpoint appends to "$et" a tag certifying that every type stream is
// complete up to the given position. Indexing is explicitly driven so callers
// (and tests) control how far the indexed prefix extends.
package tflog

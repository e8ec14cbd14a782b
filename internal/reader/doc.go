// Package reader implements the multi-type event reader: it publishes, in
// strictly increasing TF-position order, every event whose type belongs to a
// configured set, merging the per-type index streams ("$et-<type>") and then
// scanning the raw TF log.
//
// # Two phases
//
// The reader starts in index mode: it reads each type stream forward,
// k-way-merges the buffered entries by TF position, and delivers only what is
// provably inside the indexed prefix certified by the "$et" checkpoint
// stream. When every type stream is exhausted or its head lies beyond the
// indexed prefix, the reader switches (exactly once) to TF mode and scans the
// log forward from the handoff position, filtering by type and suppressing
// anything at or below the high-water mark.
//
// # Execution model
//
// The reader is a single-threaded, message-driven state machine. It owns no
// goroutines and takes no locks: I/O is emitted as request messages through a
// Publisher, completions and timer fires come back as messages, and the
// surrounding mailbox serializes every entry point. Handlers return an error
// only for protocol violations (a completion nobody asked for, an unknown
// stream, an unsupported result code); the host loop treats that as fatal.
//
// Delivery flows through a single chokepoint that enforces the monotone
// high-water invariant, counts deliveries against the optional stop-after-N
// budget, and publishes CommittedEventDistributed to the subscription layer.
package reader

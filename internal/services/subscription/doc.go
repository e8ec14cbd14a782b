// Package subsvc is the subscription layer consuming the reader's output
// port. It fans CommittedEventDistributed, EventReaderIdle and EventReaderEof
// notifications out to registered sinks, optionally filtered per subscriber
// with a CEL expression, and tracks the last safe-join position per reader.
package subsvc

package reader

import (
	"github.com/rzbill/faro/internal/tflog"
	"github.com/rzbill/faro/pkg/id"
)

// ReadResult is the outcome code carried by read completions.
type ReadResult int

const (
	ReadSuccess ReadResult = iota
	ReadNoStream
)

// String returns the result code name.
func (r ReadResult) String() string {
	switch r {
	case ReadSuccess:
		return "Success"
	case ReadNoStream:
		return "NoStream"
	default:
		return "Unknown"
	}
}

// Outbound read requests. The read service answers each with the matching
// completion message.

// ReadStreamEventsForward asks for up to MaxCount events of a stream,
// starting at FromEventNumber.
type ReadStreamEventsForward struct {
	CorrelationID   id.ID
	StreamID        string
	FromEventNumber int32
	MaxCount        int
	ResolveLinkTos  bool
	Principal       string
}

// ReadStreamEventsBackward asks for up to MaxCount events of a stream ending
// at FromEventNumber, newest first. FromEventNumber == -1 starts at the end.
type ReadStreamEventsBackward struct {
	CorrelationID   id.ID
	StreamID        string
	FromEventNumber int32
	MaxCount        int
	ResolveLinkTos  bool
	Principal       string
}

// ReadAllEventsForward asks for up to MaxCount TF-log events from the given
// position.
type ReadAllEventsForward struct {
	CorrelationID   id.ID
	CommitPosition  int64
	PreparePosition int64
	MaxCount        int
	ResolveLinkTos  bool
	Principal       string
}

// Inbound completions.

// ReadStreamEventsForwardCompleted answers ReadStreamEventsForward.
type ReadStreamEventsForwardCompleted struct {
	CorrelationID   id.ID
	StreamID        string
	Result          ReadResult
	Events          []tflog.ResolvedEvent
	NextEventNumber int32
	LastEventNumber int32
	IsEndOfStream   bool
}

// ReadStreamEventsBackwardCompleted answers ReadStreamEventsBackward.
type ReadStreamEventsBackwardCompleted struct {
	CorrelationID   id.ID
	StreamID        string
	Result          ReadResult
	Events          []tflog.ResolvedEvent
	NextEventNumber int32
	LastEventNumber int32
}

// ReadAllEventsForwardCompleted answers ReadAllEventsForward.
type ReadAllEventsForwardCompleted struct {
	CorrelationID id.ID
	Result        ReadResult
	Events        []tflog.ResolvedEvent
	NextPos       tflog.TfPos
	TfEofPosition int64
}

// Output port messages consumed by the subscription layer.

// CommittedEventDistributed carries one delivered event. A nil Event is a
// bare position heartbeat: SafeJoinPos then holds the last commit position.
type CommittedEventDistributed struct {
	CorrelationID id.ID
	Event         *tflog.ResolvedEvent
	// SafeJoinPos is the position at which a downstream subscription may
	// safely join heading distribution. Nil when the reader runs stopOnEof.
	SafeJoinPos *int64
	Progress    float64
}

// EventReaderIdle signals that every source the reader watches is at its end.
type EventReaderIdle struct {
	CorrelationID id.ID
	TimestampMs   int64
}

// EventReaderEof signals reader termination: either the stop-after-N budget
// was exhausted (MaxEventsReached) or stopOnEof observed TF-log EOF.
type EventReaderEof struct {
	CorrelationID    id.ID
	MaxEventsReached bool
}

// EventReaderTick is published after each processed completion to drive the
// surrounding subscription layer.
type EventReaderTick struct {
	CorrelationID id.ID
}

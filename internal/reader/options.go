package reader

import (
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/faro/internal/tflog"
)

// Wire constants. The batch sizes and retry delay are part of the reader's
// I/O contract; Options can override them for tests and tuning.
const (
	DefaultStreamReadBatch     = 111
	DefaultCheckpointReadBatch = 100
	DefaultTfReadBatch         = 111
	DefaultRetryDelay          = 250 * time.Millisecond
)

// Options configures a Reader at construction.
type Options struct {
	// EventTypes is the non-empty set of event types to emit.
	EventTypes []string
	// FromTfPos is the TF-log resume point for the second phase.
	FromTfPos tflog.TfPos
	// FromPositions holds the exclusive next sequence number per type-index
	// stream, keyed by stream name ("$et-<type>"). It must cover every
	// configured type exactly.
	FromPositions map[string]int32
	// ResolveLinkTos is passed through on index-stream reads.
	ResolveLinkTos bool
	// StopOnEof disposes the reader upon the first TF-log EOF.
	StopOnEof bool
	// MaxDeliveries disposes the reader after that many deliveries.
	// When 0, no limit is applied.
	MaxDeliveries uint64
	// Principal is the opaque account token stamped on read requests.
	Principal string

	// StreamReadBatch, CheckpointReadBatch, TfReadBatch and RetryDelay
	// default to the wire constants when zero.
	StreamReadBatch     int
	CheckpointReadBatch int
	TfReadBatch         int
	RetryDelay          time.Duration
}

// ErrBadOptions is wrapped by every construction validation failure.
var ErrBadOptions = errors.New("reader: invalid options")

// normalize applies defaults and validates the option set.
func (o *Options) normalize() error {
	if len(o.EventTypes) == 0 {
		return fmt.Errorf("%w: no event types", ErrBadOptions)
	}
	seen := make(map[string]struct{}, len(o.EventTypes))
	for _, t := range o.EventTypes {
		if t == "" {
			return fmt.Errorf("%w: empty event type", ErrBadOptions)
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: duplicate event type %q", ErrBadOptions, t)
		}
		seen[t] = struct{}{}
	}
	if len(o.FromPositions) != len(seen) {
		return fmt.Errorf("%w: fromPositions has %d entries for %d event types",
			ErrBadOptions, len(o.FromPositions), len(seen))
	}
	for t := range seen {
		if _, ok := o.FromPositions[tflog.TypeStream(t)]; !ok {
			return fmt.Errorf("%w: fromPositions missing stream %q", ErrBadOptions, tflog.TypeStream(t))
		}
	}
	if o.StreamReadBatch <= 0 {
		o.StreamReadBatch = DefaultStreamReadBatch
	}
	if o.CheckpointReadBatch <= 0 {
		o.CheckpointReadBatch = DefaultCheckpointReadBatch
	}
	if o.TfReadBatch <= 0 {
		o.TfReadBatch = DefaultTfReadBatch
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return nil
}

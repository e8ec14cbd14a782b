package tflog

import (
	"context"
	"fmt"
)

// CheckpointStream is the index checkpoint stream. Its entries certify that
// every type-index stream is complete up to the position in the entry's tag.
const CheckpointStream = "$et"

// CheckpointEventType marks "$et" entries.
const CheckpointEventType = "$Checkpoint"

// TypeStream returns the type-index stream name for an event type.
func TypeStream(eventType string) string { return CheckpointStream + "-" + eventType }

// Indexer maintains "$et-<type>" link streams and the "$et" checkpoint
// stream for a configured set of event types. Indexing is driven explicitly
// by the caller; events are indexed in the TF order they are handed in.
type Indexer struct {
	store *Store
	types map[string]struct{}
	// lastIndexed tracks, per type stream, the event number of the newest
	// link written, for checkpoint tag diagnostics.
	lastIndexed map[string]int32
}

// NewIndexer returns an Indexer for the given event types.
func NewIndexer(store *Store, eventTypes []string) (*Indexer, error) {
	if len(eventTypes) == 0 {
		return nil, fmt.Errorf("tflog: indexer needs at least one event type")
	}
	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		if t == "" {
			return nil, fmt.Errorf("tflog: empty event type")
		}
		types[t] = struct{}{}
	}
	return &Indexer{store: store, types: types, lastIndexed: map[string]int32{}}, nil
}

// IndexEvent appends a link event to the type stream of rec's type when the
// type is configured. The link metadata carries a checkpoint tag for pos so
// readers can recover the original TF position without touching the log.
func (ix *Indexer) IndexEvent(ctx context.Context, rec *EventRecord, pos TfPos) error {
	if _, ok := ix.types[rec.EventType]; !ok {
		return nil
	}
	stream := TypeStream(rec.EventType)
	payload := []byte(fmt.Sprintf("%d@%s", rec.EventNumber, rec.StreamID))
	link, err := ix.store.appendStreamOnly(ctx, stream, LinkEventType, payload, EncodeTag(pos, nil), pos.Prepare)
	if err != nil {
		return fmt.Errorf("tflog: index %s: %w", stream, err)
	}
	ix.lastIndexed[stream] = link.EventNumber
	return nil
}

// WriteCheckpoint appends a "$et" entry certifying that all type streams are
// complete up to pos.
func (ix *Indexer) WriteCheckpoint(ctx context.Context, pos TfPos) error {
	streams := make(map[string]int32, len(ix.lastIndexed))
	for s, n := range ix.lastIndexed {
		streams[s] = n
	}
	if _, err := ix.store.appendStreamOnly(ctx, CheckpointStream, CheckpointEventType, EncodeTag(pos, streams), nil, -1); err != nil {
		return fmt.Errorf("tflog: write checkpoint: %w", err)
	}
	return nil
}

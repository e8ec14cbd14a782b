package reader

import (
	"fmt"
	"time"

	"github.com/rzbill/faro/internal/metrics"
	logpkg "github.com/rzbill/faro/pkg/log"
)

// TF-mode handling: forward scan of the raw log from the handoff position.
// Events here are already in TF order, so positions come straight from the
// read instead of from checkpoint tags.

func (r *Reader) onAllForwardCompleted(m ReadAllEventsForwardCompleted) error {
	if r.disposed || m.CorrelationID != r.corrID {
		return nil
	}
	if r.mode != TfMode {
		return fmt.Errorf("%w: read-all completion before the tf handoff", ErrProtocol)
	}
	if !r.tfRequested {
		return fmt.Errorf("%w: read-all completion without outstanding request", ErrProtocol)
	}
	r.tfRequested = false
	if m.Result != ReadSuccess {
		return fmt.Errorf("%w: unsupported read-all result %v", ErrProtocol, m.Result)
	}

	if len(m.Events) == 0 {
		r.deliverLastCommitPosition(m.NextPos.Commit)
		if r.opts.StopOnEof {
			r.logger.Info("tf eof, stopping", logpkg.Str("at", r.fromTfPos.String()))
			r.pub.Publish(EventReaderIdle{CorrelationID: r.corrID, TimestampMs: time.Now().UnixMilli()})
			r.pub.Publish(EventReaderEof{CorrelationID: r.corrID, MaxEventsReached: false})
			r.disposeInternal()
			return nil
		}
		r.requestTf(true)
		r.finishCompletion()
		return nil
	}

	r.fromTfPos = m.NextPos
	for i := range m.Events {
		if r.disposed {
			return nil
		}
		ev := m.Events[i]
		switch {
		case ev.Link != nil && r.isTypeStream(ev.Link.StreamID):
			// already covered by the index; keep the stream bookkeeping
			// monotone so any reuse of fromPositions stays consistent
			r.updateNextStreamPosition(ev.Link.StreamID, ev.Link.EventNumber+1)

		case ev.Link == nil && ev.Event != nil && r.isConfiguredType(ev.Event.EventType):
			progress := 100.0
			if m.TfEofPosition > 0 {
				progress = 100.0 * float64(ev.Event.LogPosition) / float64(m.TfEofPosition)
			}
			r.deliver(ev, ev.OriginalPosition, progress, false)
		}
	}
	if r.disposed {
		return nil
	}
	r.requestTf(false)
	r.finishCompletion()
	return nil
}

// deliverLastCommitPosition publishes the bare position heartbeat on TF EOF.
// The position is the completion's next read position, i.e. where the next
// event would land. Suppressed for bounded readers.
func (r *Reader) deliverLastCommitPosition(commit int64) {
	if r.opts.StopOnEof || r.opts.MaxDeliveries > 0 {
		return
	}
	pos := commit
	r.pub.Publish(CommittedEventDistributed{
		CorrelationID: r.corrID,
		Event:         nil,
		SafeJoinPos:   &pos,
		Progress:      100.0,
	})
}

// requestTf issues the next TF read from the handoff position. Negative
// offsets (the before-any-event sentinel) are clamped to the log start.
func (r *Reader) requestTf(delay bool) {
	if r.disposed || r.paused || r.pauseRequested || r.mode != TfMode || r.tfRequested {
		return
	}
	r.tfRequested = true
	commit, prepare := r.fromTfPos.Commit, r.fromTfPos.Prepare
	if commit < 0 {
		commit = 0
	}
	if prepare < 0 {
		prepare = 0
	}
	metrics.ReadsIssued.WithLabelValues("all_forward").Inc()
	r.publishIO(delay, ReadAllEventsForward{
		CorrelationID:   r.corrID,
		CommitPosition:  commit,
		PreparePosition: prepare,
		MaxCount:        r.opts.TfReadBatch,
		ResolveLinkTos:  true,
		Principal:       r.opts.Principal,
	})
}

func (r *Reader) isTypeStream(stream string) bool {
	_, ok := r.streamToType[stream]
	return ok
}

func (r *Reader) isConfiguredType(eventType string) bool {
	_, ok := r.eventTypes[eventType]
	return ok
}

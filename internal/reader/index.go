package reader

import (
	"fmt"

	"github.com/rzbill/faro/internal/metrics"
	"github.com/rzbill/faro/internal/tflog"
	logpkg "github.com/rzbill/faro/pkg/log"
)

// Index-mode handling: per-type-stream queues merged in TF-position order,
// gated by the checkpoint-stream safety boundary.

func (r *Reader) onStreamForwardCompleted(m ReadStreamEventsForwardCompleted) error {
	if r.disposed || m.CorrelationID != r.corrID {
		return nil
	}
	if r.mode == TfMode {
		// late index read after the handoff
		return nil
	}
	if m.StreamID == tflog.CheckpointStream {
		return r.onCheckpointForward(m)
	}

	if _, known := r.streamToType[m.StreamID]; !known {
		return fmt.Errorf("%w: completion for unknown stream %q", ErrProtocol, m.StreamID)
	}
	if _, ok := r.requested[m.StreamID]; !ok {
		return fmt.Errorf("%w: completion for stream %q without outstanding request", ErrProtocol, m.StreamID)
	}
	delete(r.requested, m.StreamID)

	switch m.Result {
	case ReadNoStream:
		r.eofs[m.StreamID] = true

	case ReadSuccess:
		r.updateNextStreamPosition(m.StreamID, m.NextEventNumber)
		if len(m.Events) == 0 {
			r.eofs[m.StreamID] = true
			break
		}
		r.eofs[m.StreamID] = false
		for i := range m.Events {
			ev := m.Events[i]
			posEvent := ev.PositionEvent()
			tfPos, err := tflog.ParseTagPosition(posEvent.Metadata)
			if err != nil {
				return fmt.Errorf("%w: stream %q event %d: %v", ErrProtocol, m.StreamID, posEvent.EventNumber, err)
			}
			progress := 100.0
			if m.LastEventNumber > 0 {
				progress = 100.0 * float64(posEvent.EventNumber) / float64(m.LastEventNumber)
			}
			r.buffers[posEvent.StreamID] = append(r.buffers[posEvent.StreamID],
				pendingEvent{ev: ev, tfPos: tfPos, progress: progress})
		}

	default:
		return fmt.Errorf("%w: unsupported result %v for stream %q", ErrProtocol, m.Result, m.StreamID)
	}

	r.processBuffers()
	r.maybeIdle()
	r.requestEvents()
	r.checkSwitch()
	r.finishCompletion()
	return nil
}

// onStreamBackwardCompleted answers the initial checkpoint probe; backward
// reads are issued for no other stream.
func (r *Reader) onStreamBackwardCompleted(m ReadStreamEventsBackwardCompleted) error {
	if r.disposed || m.CorrelationID != r.corrID {
		return nil
	}
	if m.StreamID != tflog.CheckpointStream {
		return fmt.Errorf("%w: backward completion for stream %q", ErrProtocol, m.StreamID)
	}
	if r.mode == TfMode {
		return nil
	}
	if !r.checkpointRequested {
		return fmt.Errorf("%w: checkpoint probe completion without outstanding request", ErrProtocol)
	}
	r.checkpointRequested = false
	r.checkpointProbed = true

	switch m.Result {
	case ReadNoStream:
		// no checkpoint written yet; boundary stays at (0,0)
	case ReadSuccess:
		if len(m.Events) > 0 {
			ev := m.Events[0].PositionEvent()
			pos, err := tflog.ParseTagPosition(ev.Data)
			if err != nil {
				return fmt.Errorf("%w: checkpoint entry %d: %v", ErrProtocol, ev.EventNumber, err)
			}
			r.lastCheckpointPos = pos
			r.lastCheckpointSeq = ev.EventNumber
			r.logger.Debug("checkpoint probe",
				logpkg.Str("pos", pos.String()), logpkg.Int32("seq", ev.EventNumber))
		}
	default:
		return fmt.Errorf("%w: unsupported checkpoint probe result %v", ErrProtocol, m.Result)
	}

	r.processBuffers()
	r.maybeIdle()
	r.requestCheckpoint(false)
	r.requestEvents()
	r.checkSwitch()
	r.finishCompletion()
	return nil
}

// onCheckpointForward consumes forward batches of "$et", advancing the
// safety boundary. The checkpoint reader never delivers events.
func (r *Reader) onCheckpointForward(m ReadStreamEventsForwardCompleted) error {
	if !r.checkpointRequested {
		return fmt.Errorf("%w: checkpoint completion without outstanding request", ErrProtocol)
	}
	r.checkpointRequested = false

	switch m.Result {
	case ReadNoStream:
		// stays empty until the indexer writes the first checkpoint
	case ReadSuccess:
		for i := range m.Events {
			ev := m.Events[i].PositionEvent()
			pos, err := tflog.ParseTagPosition(ev.Data)
			if err != nil {
				return fmt.Errorf("%w: checkpoint entry %d: %v", ErrProtocol, ev.EventNumber, err)
			}
			if r.lastCheckpointPos.Less(pos) {
				r.lastCheckpointPos = pos
			}
			if ev.EventNumber > r.lastCheckpointSeq {
				r.lastCheckpointSeq = ev.EventNumber
			}
		}
	default:
		return fmt.Errorf("%w: unsupported checkpoint result %v", ErrProtocol, m.Result)
	}

	r.processBuffers()
	r.maybeIdle()
	r.requestCheckpoint(m.Result == ReadNoStream || len(m.Events) == 0)
	r.requestEvents()
	r.checkSwitch()
	r.finishCompletion()
	return nil
}

// processBuffers runs the k-way merge: repeatedly pick the buffered head with
// the smallest TF position and deliver it, as long as either no stream is at
// EOF (all heads are comparable) or the candidate is provably inside the
// indexed prefix.
func (r *Reader) processBuffers() {
	for {
		if r.disposed || r.mode == TfMode {
			return
		}
		anyEof := false
		minStream := ""
		var minPos tflog.TfPos
		for _, stream := range r.streams {
			buf := r.buffers[stream]
			if len(buf) == 0 {
				if r.eofs[stream] {
					anyEof = true
					continue
				}
				// waiting on an outstanding or future read
				return
			}
			if head := buf[0]; minStream == "" || head.tfPos.Less(minPos) {
				minStream, minPos = stream, head.tfPos
			}
		}
		if minStream == "" {
			return
		}
		if anyEof && !minPos.Less(r.lastCheckpointPos) {
			// cannot prove the candidate is inside the indexed prefix
			return
		}
		head := r.buffers[minStream][0]
		r.buffers[minStream] = r.buffers[minStream][1:]
		r.deliver(head.ev, head.tfPos, head.progress, true)
	}
}

// checkSwitch hands off to TF mode once every type stream is either at EOF or
// buffering only entries beyond the indexed prefix.
func (r *Reader) checkSwitch() {
	if r.disposed || r.mode != IndexMode {
		return
	}
	for _, stream := range r.streams {
		if r.eofs[stream] {
			continue
		}
		buf := r.buffers[stream]
		if len(buf) > 0 && !buf[0].tfPos.Less(r.lastCheckpointPos) {
			continue
		}
		return
	}
	r.mode = TfMode
	metrics.ModeSwitches.Inc()
	r.logger.Info("switching to tf mode", logpkg.Str("from", r.fromTfPos.String()))
	r.requestTf(false)
}

// requestEvents re-requests every type stream whose buffer has drained.
// Streams last observed empty are re-read after the retry delay.
func (r *Reader) requestEvents() {
	for _, stream := range r.streams {
		r.requestStream(stream, r.eofs[stream])
	}
}

func (r *Reader) requestStream(stream string, delay bool) {
	if r.disposed || r.paused || r.pauseRequested || r.mode == TfMode {
		return
	}
	if _, inflight := r.requested[stream]; inflight {
		return
	}
	if len(r.buffers[stream]) > 0 {
		return
	}
	r.requested[stream] = struct{}{}
	metrics.ReadsIssued.WithLabelValues("stream_forward").Inc()
	r.publishIO(delay, ReadStreamEventsForward{
		CorrelationID:   r.corrID,
		StreamID:        stream,
		FromEventNumber: r.fromPositions[stream],
		MaxCount:        r.opts.StreamReadBatch,
		ResolveLinkTos:  r.opts.ResolveLinkTos,
		Principal:       r.opts.Principal,
	})
}

// requestCheckpoint issues the next checkpoint-stream read: a single backward
// probe first, forward batches from lastCheckpointSeq+1 afterwards.
func (r *Reader) requestCheckpoint(delay bool) {
	if r.disposed || r.paused || r.pauseRequested || r.mode == TfMode || r.checkpointRequested {
		return
	}
	r.checkpointRequested = true
	if !r.checkpointProbed {
		metrics.ReadsIssued.WithLabelValues("stream_backward").Inc()
		r.publishIO(delay, ReadStreamEventsBackward{
			CorrelationID:   r.corrID,
			StreamID:        tflog.CheckpointStream,
			FromEventNumber: -1,
			MaxCount:        1,
			ResolveLinkTos:  false,
			Principal:       r.opts.Principal,
		})
		return
	}
	metrics.ReadsIssued.WithLabelValues("stream_forward").Inc()
	r.publishIO(delay, ReadStreamEventsForward{
		CorrelationID:   r.corrID,
		StreamID:        tflog.CheckpointStream,
		FromEventNumber: r.lastCheckpointSeq + 1,
		MaxCount:        r.opts.CheckpointReadBatch,
		ResolveLinkTos:  false,
		Principal:       r.opts.Principal,
	})
}

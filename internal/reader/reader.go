package reader

import (
	"errors"
	"sort"
	"time"

	"github.com/rzbill/faro/internal/bus"
	"github.com/rzbill/faro/internal/metrics"
	"github.com/rzbill/faro/internal/tflog"
	"github.com/rzbill/faro/pkg/id"
	logpkg "github.com/rzbill/faro/pkg/log"
)

// Mode is the reader's phase. The transition IndexMode -> TfMode happens
// exactly once and never reverses.
type Mode int

const (
	IndexMode Mode = iota
	TfMode
)

// String returns the mode name.
func (m Mode) String() string {
	if m == TfMode {
		return "tf"
	}
	return "index"
}

// ErrProtocol wraps every fatal protocol violation: completions nobody asked
// for, unknown streams, unsupported result codes. The host loop must tear the
// reader down on it.
var ErrProtocol = errors.New("reader: protocol violation")

// Scheduler delays a message republish; bus.Timer implements it.
type Scheduler interface {
	Schedule(d time.Duration, msg bus.Message)
}

// pendingEvent is a buffered index-stream entry awaiting the k-way merge.
type pendingEvent struct {
	ev       tflog.ResolvedEvent
	tfPos    tflog.TfPos
	progress float64
}

// Reader is the multi-type event reader state machine. All state lives flat
// on this struct with a mode tag; there is no internal locking because every
// entry point runs on the surrounding mailbox's single thread.
type Reader struct {
	corrID id.ID
	logger logpkg.Logger
	pub    bus.Publisher
	sched  Scheduler
	opts   Options

	mode           Mode
	fromTfPos      tflog.TfPos
	lastDelivered  tflog.TfPos
	deliveredCount uint64
	paused         bool
	pauseRequested bool
	disposed       bool

	// index side
	eventTypes    map[string]struct{}
	streamToType  map[string]string
	streams       []string // sorted type-stream names for deterministic scans
	fromPositions map[string]int32
	buffers       map[string][]pendingEvent
	eofs          map[string]bool
	requested     map[string]struct{}

	checkpointRequested bool
	checkpointProbed    bool
	lastCheckpointSeq   int32
	lastCheckpointPos   tflog.TfPos

	// tf side
	tfRequested bool
}

// New validates opts and builds a Reader publishing through pub, scheduling
// delayed republishes through sched.
func New(pub bus.Publisher, sched Scheduler, logger logpkg.Logger, opts Options) (*Reader, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logpkg.NewLogger()
	}

	r := &Reader{
		corrID: id.NewGenerator().Next(),
		pub:    pub,
		sched:  sched,
		opts:   opts,

		mode:          IndexMode,
		fromTfPos:     opts.FromTfPos,
		lastDelivered: tflog.PosBeforeAll,

		eventTypes:    make(map[string]struct{}, len(opts.EventTypes)),
		streamToType:  make(map[string]string, len(opts.EventTypes)),
		fromPositions: make(map[string]int32, len(opts.FromPositions)),
		buffers:       make(map[string][]pendingEvent, len(opts.EventTypes)),
		eofs:          make(map[string]bool, len(opts.EventTypes)),
		requested:     make(map[string]struct{}, len(opts.EventTypes)),

		lastCheckpointSeq: -1,
		lastCheckpointPos: tflog.TfPos{Commit: 0, Prepare: 0},
	}
	for _, t := range opts.EventTypes {
		stream := tflog.TypeStream(t)
		r.eventTypes[t] = struct{}{}
		r.streamToType[stream] = t
		r.streams = append(r.streams, stream)
	}
	sort.Strings(r.streams)
	for stream, from := range opts.FromPositions {
		r.fromPositions[stream] = from
	}
	r.logger = logger.With(logpkg.Component("reader"), logpkg.Str("correlation", r.corrID.String()))
	return r, nil
}

// CorrelationID identifies this reader on every message it publishes.
func (r *Reader) CorrelationID() id.ID { return r.corrID }

// Mode returns the current phase.
func (r *Reader) Mode() Mode { return r.mode }

// LastDelivered returns the high-water mark.
func (r *Reader) LastDelivered() tflog.TfPos { return r.lastDelivered }

// DeliveredCount returns the number of events delivered so far.
func (r *Reader) DeliveredCount() uint64 { return r.deliveredCount }

// StreamPositions returns a copy of the per-type-stream resume positions,
// suitable for constructing a reader that picks up where this one stopped.
func (r *Reader) StreamPositions() map[string]int32 {
	out := make(map[string]int32, len(r.fromPositions))
	for k, v := range r.fromPositions {
		out[k] = v
	}
	return out
}

// IsPaused reports whether the reader has fully quiesced after Pause.
func (r *Reader) IsPaused() bool { return r.paused }

// IsDisposed reports whether the reader has been disposed.
func (r *Reader) IsDisposed() bool { return r.disposed }

// Start emits the initial I/O for the current mode.
func (r *Reader) Start() {
	if r.disposed {
		return
	}
	r.logger.Info("starting", logpkg.Int("types", len(r.eventTypes)), logpkg.Str("mode", r.mode.String()))
	if r.mode == IndexMode {
		r.requestCheckpoint(false)
		r.requestEvents()
		return
	}
	r.requestTf(false)
}

// Pause latches the pause request; no new I/O is issued. The reader reports
// paused once the last outstanding read completes.
func (r *Reader) Pause() {
	if r.disposed {
		return
	}
	r.pauseRequested = true
	if !r.anyInFlight() {
		r.paused = true
	}
}

// Resume clears the pause latches and re-requests reads for the current mode.
func (r *Reader) Resume() {
	if r.disposed {
		return
	}
	r.pauseRequested = false
	r.paused = false
	if r.mode == IndexMode {
		r.processBuffers()
		if r.disposed {
			return
		}
		r.requestCheckpoint(false)
		r.requestEvents()
		r.checkSwitch()
		return
	}
	r.requestTf(false)
}

// Dispose stops the reader; subsequent completions and timer fires are
// dropped. Idempotent.
func (r *Reader) Dispose() {
	if r.disposeInternal() {
		r.logger.Info("disposed",
			logpkg.Uint64("delivered", r.deliveredCount),
			logpkg.Str("last", r.lastDelivered.String()))
	}
}

// disposeInternal flips the disposed latch, reporting whether it changed.
func (r *Reader) disposeInternal() bool {
	if r.disposed {
		return false
	}
	r.disposed = true
	return true
}

// Handle routes a completion message to the owning sub-reader. It reports
// whether the message was one of the reader's inbound types.
func (r *Reader) Handle(msg bus.Message) (bool, error) {
	switch m := msg.(type) {
	case ReadStreamEventsForwardCompleted:
		return true, r.onStreamForwardCompleted(m)
	case ReadStreamEventsBackwardCompleted:
		return true, r.onStreamBackwardCompleted(m)
	case ReadAllEventsForwardCompleted:
		return true, r.onAllForwardCompleted(m)
	default:
		return false, nil
	}
}

// publishIO emits an I/O request, delayed when the source was observed empty.
func (r *Reader) publishIO(delay bool, msg bus.Message) {
	if delay {
		r.sched.Schedule(r.opts.RetryDelay, msg)
		return
	}
	r.pub.Publish(msg)
}

// deliver is the single chokepoint every delivery path goes through. It
// enforces the monotone high-water invariant, counts against the optional
// stop-after-N budget, and publishes to the subscription layer.
func (r *Reader) deliver(ev tflog.ResolvedEvent, tfPos tflog.TfPos, progress float64, fromIndex bool) {
	if tfPos.Compare(r.lastDelivered) <= 0 {
		metrics.DuplicatesSuppressed.Inc()
		return
	}
	r.lastDelivered = tfPos
	if fromIndex {
		r.fromTfPos = tfPos
	}
	r.deliveredCount++

	var safeJoin *int64
	if !r.opts.StopOnEof {
		v := tfPos.Prepare
		if fromIndex {
			v = ev.PositionEvent().LogPosition
		}
		safeJoin = &v
	}
	evCopy := ev
	r.pub.Publish(CommittedEventDistributed{
		CorrelationID: r.corrID,
		Event:         &evCopy,
		SafeJoinPos:   safeJoin,
		Progress:      progress,
	})
	metrics.EventsDelivered.Inc()

	if r.opts.MaxDeliveries > 0 && r.deliveredCount >= r.opts.MaxDeliveries {
		if r.disposeInternal() {
			r.pub.Publish(EventReaderEof{CorrelationID: r.corrID, MaxEventsReached: true})
		}
	}
}

// updateNextStreamPosition advances a type stream's resume position, never
// regressing it. Both the index completions and the TF byStream records feed
// through here.
func (r *Reader) updateNextStreamPosition(stream string, next int32) {
	if cur, ok := r.fromPositions[stream]; !ok || next > cur {
		r.fromPositions[stream] = next
	}
}

func (r *Reader) anyInFlight() bool {
	if r.mode == TfMode {
		// index-side reads still outstanding at the handoff complete as stale
		// messages that are dropped without touching the index bookkeeping
		return r.tfRequested
	}
	return len(r.requested) > 0 || r.checkpointRequested || r.tfRequested
}

func (r *Reader) allEofs() bool {
	for _, stream := range r.streams {
		if !r.eofs[stream] {
			return false
		}
	}
	return true
}

// maybeIdle publishes the idle notification when every type stream is at its
// end. Evaluated before checkSwitch so the notification precedes the handoff.
func (r *Reader) maybeIdle() {
	if r.disposed || r.mode != IndexMode {
		return
	}
	if r.allEofs() {
		r.pub.Publish(EventReaderIdle{CorrelationID: r.corrID, TimestampMs: time.Now().UnixMilli()})
	}
}

// finishCompletion runs the shared completion epilogue: tick and the pause
// latch.
func (r *Reader) finishCompletion() {
	if r.disposed {
		return
	}
	r.pub.Publish(EventReaderTick{CorrelationID: r.corrID})
	if r.pauseRequested && !r.anyInFlight() {
		r.paused = true
	}
}

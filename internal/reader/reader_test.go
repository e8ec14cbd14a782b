package reader

import (
	"errors"
	"testing"
	"time"

	"github.com/rzbill/faro/internal/bus"
	"github.com/rzbill/faro/internal/tflog"
	logpkg "github.com/rzbill/faro/pkg/log"
)

// capture records everything the reader publishes.
type capture struct {
	msgs []bus.Message
}

func (c *capture) Publish(msg bus.Message) { c.msgs = append(c.msgs, msg) }

func (c *capture) committed() []CommittedEventDistributed {
	var out []CommittedEventDistributed
	for _, m := range c.msgs {
		if d, ok := m.(CommittedEventDistributed); ok {
			out = append(out, d)
		}
	}
	return out
}

func (c *capture) eofs() []EventReaderEof {
	var out []EventReaderEof
	for _, m := range c.msgs {
		if e, ok := m.(EventReaderEof); ok {
			out = append(out, e)
		}
	}
	return out
}

func (c *capture) idles() []EventReaderIdle {
	var out []EventReaderIdle
	for _, m := range c.msgs {
		if e, ok := m.(EventReaderIdle); ok {
			out = append(out, e)
		}
	}
	return out
}

func (c *capture) streamReads() []ReadStreamEventsForward {
	var out []ReadStreamEventsForward
	for _, m := range c.msgs {
		if rq, ok := m.(ReadStreamEventsForward); ok {
			out = append(out, rq)
		}
	}
	return out
}

func (c *capture) allReads() []ReadAllEventsForward {
	var out []ReadAllEventsForward
	for _, m := range c.msgs {
		if rq, ok := m.(ReadAllEventsForward); ok {
			out = append(out, rq)
		}
	}
	return out
}

func (c *capture) reset() { c.msgs = nil }

// fakeSched records delayed republishes instead of firing them.
type fakeSched struct {
	entries []schedEntry
}

type schedEntry struct {
	d   time.Duration
	msg bus.Message
}

func (s *fakeSched) Schedule(d time.Duration, msg bus.Message) {
	s.entries = append(s.entries, schedEntry{d: d, msg: msg})
}

func defaultOptions() Options {
	return Options{
		EventTypes: []string{"A", "B"},
		FromTfPos:  tflog.PosBeforeAll,
		FromPositions: map[string]int32{
			tflog.TypeStream("A"): 0,
			tflog.TypeStream("B"): 0,
		},
		ResolveLinkTos: true,
	}
}

func newTestReader(t *testing.T, opts Options) (*Reader, *capture, *fakeSched) {
	t.Helper()
	pub := &capture{}
	sched := &fakeSched{}
	r, err := New(pub, sched, logpkg.NewTestLogger(), opts)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	return r, pub, sched
}

// indexEvent builds a resolved link as read from "$et-<type>".
func indexEvent(typeStream string, num int32, pos tflog.TfPos) tflog.ResolvedEvent {
	link := &tflog.EventRecord{
		StreamID:    typeStream,
		EventNumber: num,
		EventType:   tflog.LinkEventType,
		Data:        []byte("0@orders"),
		Metadata:    tflog.EncodeTag(pos, nil),
		LogPosition: pos.Prepare,
	}
	orig := &tflog.EventRecord{
		StreamID:    "orders",
		EventNumber: 0,
		EventType:   typeStream[len("$et-"):],
		LogPosition: pos.Prepare,
	}
	return tflog.ResolvedEvent{Event: orig, Link: link}
}

// checkpointEvent builds a "$et" entry certifying pos at sequence seq.
func checkpointEvent(seq int32, pos tflog.TfPos) tflog.ResolvedEvent {
	return tflog.ResolvedEvent{Event: &tflog.EventRecord{
		StreamID:    tflog.CheckpointStream,
		EventNumber: seq,
		EventType:   tflog.CheckpointEventType,
		Data:        tflog.EncodeTag(pos, nil),
		LogPosition: -1,
	}}
}

// tfEvent builds a TF-log event of the given type at pos.
func tfEvent(eventType string, pos tflog.TfPos) tflog.ResolvedEvent {
	return tflog.ResolvedEvent{
		Event: &tflog.EventRecord{
			StreamID:    "orders",
			EventType:   eventType,
			LogPosition: pos.Prepare,
		},
		OriginalPosition: pos,
	}
}

func streamForwardCompleted(r *Reader, stream string, events []tflog.ResolvedEvent, next, last int32) ReadStreamEventsForwardCompleted {
	return ReadStreamEventsForwardCompleted{
		CorrelationID:   r.CorrelationID(),
		StreamID:        stream,
		Result:          ReadSuccess,
		Events:          events,
		NextEventNumber: next,
		LastEventNumber: last,
	}
}

func noStreamCompleted(r *Reader, stream string) ReadStreamEventsForwardCompleted {
	return ReadStreamEventsForwardCompleted{
		CorrelationID: r.CorrelationID(),
		StreamID:      stream,
		Result:        ReadNoStream,
	}
}

func probeCompleted(r *Reader, events []tflog.ResolvedEvent) ReadStreamEventsBackwardCompleted {
	res := ReadSuccess
	if events == nil {
		res = ReadNoStream
	}
	return ReadStreamEventsBackwardCompleted{
		CorrelationID: r.CorrelationID(),
		StreamID:      tflog.CheckpointStream,
		Result:        res,
		Events:        events,
	}
}

func allForwardCompleted(r *Reader, events []tflog.ResolvedEvent, next tflog.TfPos, eofPos int64) ReadAllEventsForwardCompleted {
	return ReadAllEventsForwardCompleted{
		CorrelationID: r.CorrelationID(),
		Result:        ReadSuccess,
		Events:        events,
		NextPos:       next,
		TfEofPosition: eofPos,
	}
}

func handle(t *testing.T, r *Reader, msg bus.Message) {
	t.Helper()
	handled, err := r.Handle(msg)
	if err != nil {
		t.Fatalf("handle %T: %v", msg, err)
	}
	if !handled {
		t.Fatalf("message %T not handled", msg)
	}
}

func TestStartIssuesInitialReads(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()

	reads := pub.streamReads()
	if len(reads) != 2 {
		t.Fatalf("want 2 stream reads, got %d", len(reads))
	}
	seen := map[string]bool{}
	for _, rq := range reads {
		seen[rq.StreamID] = true
		if rq.MaxCount != DefaultStreamReadBatch {
			t.Fatalf("stream batch: %d", rq.MaxCount)
		}
		if !rq.ResolveLinkTos {
			t.Fatalf("resolveLinkTos not passed through")
		}
	}
	if !seen[tflog.TypeStream("A")] || !seen[tflog.TypeStream("B")] {
		t.Fatalf("streams read: %v", seen)
	}

	var probes []ReadStreamEventsBackward
	for _, m := range pub.msgs {
		if p, ok := m.(ReadStreamEventsBackward); ok {
			probes = append(probes, p)
		}
	}
	if len(probes) != 1 {
		t.Fatalf("want 1 checkpoint probe, got %d", len(probes))
	}
	if probes[0].StreamID != tflog.CheckpointStream || probes[0].FromEventNumber != -1 || probes[0].MaxCount != 1 {
		t.Fatalf("probe: %+v", probes[0])
	}
}

// Scenario A: two types fully inside the indexed prefix are merged in
// TF-position order with no TF read issued.
func TestIndexOnlyTwoTypesOrdered(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()

	handle(t, r, probeCompleted(r, []tflog.ResolvedEvent{checkpointEvent(0, tflog.TfPos{1000, 1000})}))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{10, 10})}, 1, 0))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("B"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("B"), 0, tflog.TfPos{20, 20})}, 1, 0))
	// A delivered; B still buffered until A proves it has nothing below (20,20)
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"), nil, 1, 0))

	got := pub.committed()
	if len(got) != 2 {
		t.Fatalf("want 2 deliveries, got %d", len(got))
	}
	if got[0].Event.PositionEvent().StreamID != tflog.TypeStream("A") {
		t.Fatalf("first delivery from %s", got[0].Event.PositionEvent().StreamID)
	}
	if got[1].Event.PositionEvent().StreamID != tflog.TypeStream("B") {
		t.Fatalf("second delivery from %s", got[1].Event.PositionEvent().StreamID)
	}
	if len(pub.allReads()) != 0 {
		t.Fatalf("TF read issued while still in index mode")
	}
	if r.Mode() != IndexMode {
		t.Fatalf("mode: %v", r.Mode())
	}
	if r.LastDelivered() != (tflog.TfPos{20, 20}) {
		t.Fatalf("high water: %v", r.LastDelivered())
	}
}

// Scenario B: once every stream is at EOF or beyond the boundary, the reader
// hands off to TF mode and issues a ReadAllForward from the handoff position.
func TestModeSwitchOnBoundary(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()

	handle(t, r, probeCompleted(r, []tflog.ResolvedEvent{checkpointEvent(0, tflog.TfPos{100, 100})}))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{50, 50})}, 1, 0))
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("B")))

	got := pub.committed()
	if len(got) != 1 {
		t.Fatalf("want A delivered, got %d deliveries", len(got))
	}
	if r.Mode() != IndexMode {
		t.Fatalf("switched before A proved empty")
	}

	// A's follow-up read comes back empty: nothing below the boundary remains
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"), nil, 1, 0))
	if r.Mode() != TfMode {
		t.Fatalf("mode: %v", r.Mode())
	}
	reads := pub.allReads()
	if len(reads) != 1 {
		t.Fatalf("want 1 TF read, got %d", len(reads))
	}
	// handoff position is the last index delivery
	if reads[0].CommitPosition != 50 || reads[0].PreparePosition != 50 {
		t.Fatalf("TF read from %d/%d", reads[0].CommitPosition, reads[0].PreparePosition)
	}
	if reads[0].MaxCount != DefaultTfReadBatch || !reads[0].ResolveLinkTos {
		t.Fatalf("TF read shape: %+v", reads[0])
	}
}

// Scenario C: stop-after-N disposes after exactly N deliveries and publishes
// a single max-events EOF marker.
func TestStopAfterN(t *testing.T) {
	opts := Options{
		EventTypes:    []string{"A"},
		FromTfPos:     tflog.PosBeforeAll,
		FromPositions: map[string]int32{tflog.TypeStream("A"): 0},
		MaxDeliveries: 2,
	}
	r, pub, _ := newTestReader(t, opts)
	r.Start()

	handle(t, r, probeCompleted(r, []tflog.ResolvedEvent{checkpointEvent(0, tflog.TfPos{1000, 1000})}))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"), []tflog.ResolvedEvent{
		indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{10, 10}),
		indexEvent(tflog.TypeStream("A"), 1, tflog.TfPos{20, 20}),
		indexEvent(tflog.TypeStream("A"), 2, tflog.TfPos{30, 30}),
	}, 3, 2))

	if got := pub.committed(); len(got) != 2 {
		t.Fatalf("want 2 deliveries, got %d", len(got))
	}
	eofs := pub.eofs()
	if len(eofs) != 1 || !eofs[0].MaxEventsReached {
		t.Fatalf("eofs: %+v", eofs)
	}
	if !r.IsDisposed() {
		t.Fatalf("reader not disposed")
	}
	if r.DeliveredCount() != 2 {
		t.Fatalf("delivered: %d", r.DeliveredCount())
	}

	// completions after disposal are dropped silently
	handled, err := r.Handle(streamForwardCompleted(r, tflog.TypeStream("A"), nil, 3, 2))
	if !handled || err != nil {
		t.Fatalf("post-dispose completion: handled=%v err=%v", handled, err)
	}
	if len(pub.committed()) != 2 {
		t.Fatalf("delivery after dispose")
	}
}

// Scenario D: pause latches after the outstanding reads complete; resume
// re-issues reads and the stream continues without duplicates.
func TestPauseResume(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()
	pub.reset()

	r.Pause()
	if r.IsPaused() {
		t.Fatalf("paused while reads are outstanding")
	}

	handle(t, r, probeCompleted(r, []tflog.ResolvedEvent{checkpointEvent(0, tflog.TfPos{1000, 1000})}))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{10, 10})}, 1, 0))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("B"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("B"), 0, tflog.TfPos{20, 20})}, 1, 0))

	if !r.IsPaused() {
		t.Fatalf("not paused after last completion")
	}
	if n := len(pub.streamReads()) + len(pub.allReads()); n != 0 {
		t.Fatalf("%d reads issued under pause", n)
	}
	// pause stops I/O, not the merge: A was already provably deliverable
	if got := pub.committed(); len(got) != 1 {
		t.Fatalf("deliveries under pause: %d", len(got))
	}

	pub.reset()
	r.Resume()
	if r.IsPaused() {
		t.Fatalf("still paused after resume")
	}
	if len(pub.streamReads()) == 0 {
		t.Fatalf("no reads re-issued on resume")
	}
	// A proves empty below (20,20); B flows with no duplicate of A
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"), nil, 1, 0))
	got := pub.committed()
	if len(got) != 1 {
		t.Fatalf("deliveries after resume: %d", len(got))
	}
	if got[0].Event.PositionEvent().StreamID != tflog.TypeStream("B") {
		t.Fatalf("unexpected delivery from %s", got[0].Event.PositionEvent().StreamID)
	}
	if r.LastDelivered() != (tflog.TfPos{20, 20}) {
		t.Fatalf("high water: %v", r.LastDelivered())
	}
}

// Scenario E: TF mode suppresses events at or below the high-water mark.
func TestTfDuplicateSuppression(t *testing.T) {
	opts := Options{
		EventTypes:    []string{"A"},
		FromTfPos:     tflog.PosBeforeAll,
		FromPositions: map[string]int32{tflog.TypeStream("A"): 0},
	}
	r, pub, _ := newTestReader(t, opts)
	r.Start()

	handle(t, r, probeCompleted(r, []tflog.ResolvedEvent{checkpointEvent(0, tflog.TfPos{1000, 1000})}))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{200, 200})}, 1, 0))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"), nil, 1, 0))

	if r.Mode() != TfMode {
		t.Fatalf("mode: %v", r.Mode())
	}
	if r.LastDelivered() != (tflog.TfPos{200, 200}) {
		t.Fatalf("high water: %v", r.LastDelivered())
	}

	handle(t, r, allForwardCompleted(r, []tflog.ResolvedEvent{
		tfEvent("A", tflog.TfPos{150, 150}), // already delivered via the index
		tfEvent("A", tflog.TfPos{250, 250}),
		tfEvent("C", tflog.TfPos{260, 260}), // type not configured
	}, tflog.TfPos{250, 251}, 260))

	got := pub.committed()
	if len(got) != 2 {
		t.Fatalf("want 2 deliveries, got %d", len(got))
	}
	if got[1].Event.OriginalPosition != (tflog.TfPos{250, 250}) {
		t.Fatalf("tf delivery at %v", got[1].Event.OriginalPosition)
	}
	// strict monotonicity across the whole run
	prev := tflog.PosBeforeAll
	for _, d := range got {
		var at tflog.TfPos
		if d.Event.OriginalPosition != (tflog.TfPos{}) {
			at = d.Event.OriginalPosition
		} else {
			var err error
			at, err = tflog.ParseTagPosition(d.Event.PositionEvent().Metadata)
			if err != nil {
				t.Fatalf("tag: %v", err)
			}
		}
		if !prev.Less(at) {
			t.Fatalf("deliveries not strictly increasing: %v then %v", prev, at)
		}
		prev = at
	}
}

// Scenario F: stopOnEof publishes Idle then Eof on the first TF EOF and
// disposes the reader; the bare position heartbeat is suppressed.
func TestStopOnEof(t *testing.T) {
	opts := Options{
		EventTypes:    []string{"A"},
		FromTfPos:     tflog.PosBeforeAll,
		FromPositions: map[string]int32{tflog.TypeStream("A"): 0},
		StopOnEof:     true,
	}
	r, pub, _ := newTestReader(t, opts)
	r.Start()

	handle(t, r, probeCompleted(r, nil))
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("A")))
	if r.Mode() != TfMode {
		t.Fatalf("mode: %v", r.Mode())
	}

	pub.reset()
	handle(t, r, allForwardCompleted(r, nil, tflog.TfPos{0, 0}, 0))

	if len(pub.committed()) != 0 {
		t.Fatalf("heartbeat published under stopOnEof")
	}
	if len(pub.idles()) != 1 {
		t.Fatalf("idles: %d", len(pub.idles()))
	}
	eofs := pub.eofs()
	if len(eofs) != 1 || eofs[0].MaxEventsReached {
		t.Fatalf("eofs: %+v", eofs)
	}
	if !r.IsDisposed() {
		t.Fatalf("reader not disposed")
	}
}

func TestTfEofHeartbeatAndDelayedReread(t *testing.T) {
	opts := Options{
		EventTypes:    []string{"A"},
		FromTfPos:     tflog.TfPos{40, 40},
		FromPositions: map[string]int32{tflog.TypeStream("A"): 0},
	}
	r, pub, sched := newTestReader(t, opts)
	r.Start()
	handle(t, r, probeCompleted(r, nil))
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("A")))
	if r.Mode() != TfMode {
		t.Fatalf("mode: %v", r.Mode())
	}

	pub.reset()
	sched.entries = nil
	handle(t, r, allForwardCompleted(r, nil, tflog.TfPos{40, 40}, 100))

	got := pub.committed()
	if len(got) != 1 {
		t.Fatalf("want heartbeat, got %d deliveries", len(got))
	}
	if got[0].Event != nil {
		t.Fatalf("heartbeat carries an event")
	}
	if got[0].SafeJoinPos == nil || *got[0].SafeJoinPos != 40 {
		t.Fatalf("heartbeat position: %v", got[0].SafeJoinPos)
	}
	// and the next TF read is delayed by the retry backoff
	if len(sched.entries) != 1 {
		t.Fatalf("want 1 delayed read, got %d", len(sched.entries))
	}
	if sched.entries[0].d != DefaultRetryDelay {
		t.Fatalf("delay: %v", sched.entries[0].d)
	}
	if _, ok := sched.entries[0].msg.(ReadAllEventsForward); !ok {
		t.Fatalf("delayed message: %T", sched.entries[0].msg)
	}
	if r.IsDisposed() {
		t.Fatalf("reader disposed unexpectedly")
	}
}

func TestTfByStreamAdvancesPositionsWithoutDelivering(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()
	handle(t, r, probeCompleted(r, nil))
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("A")))
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("B")))
	if r.Mode() != TfMode {
		t.Fatalf("mode: %v", r.Mode())
	}
	pub.reset()

	link := indexEvent(tflog.TypeStream("A"), 5, tflog.TfPos{30, 30})
	link.OriginalPosition = tflog.TfPos{30, 30}
	handle(t, r, allForwardCompleted(r, []tflog.ResolvedEvent{link}, tflog.TfPos{30, 31}, 30))

	if len(pub.committed()) != 0 {
		t.Fatalf("byStream record delivered")
	}
	if got := r.StreamPositions()[tflog.TypeStream("A")]; got != 6 {
		t.Fatalf("position: %d", got)
	}

	// a lower-numbered link must not regress the position
	low := indexEvent(tflog.TypeStream("A"), 2, tflog.TfPos{35, 35})
	low.OriginalPosition = tflog.TfPos{35, 35}
	handle(t, r, allForwardCompleted(r, []tflog.ResolvedEvent{low}, tflog.TfPos{35, 36}, 35))
	if got := r.StreamPositions()[tflog.TypeStream("A")]; got != 6 {
		t.Fatalf("position regressed: %d", got)
	}
}

func TestCheckpointForwardAdvanceExtendsIndexedPrefix(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()

	handle(t, r, probeCompleted(r, []tflog.ResolvedEvent{checkpointEvent(0, tflog.TfPos{15, 15})}))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("B"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("B"), 0, tflog.TfPos{20, 20})}, 1, 0))
	if len(pub.committed()) != 0 {
		t.Fatalf("delivered ahead of the boundary")
	}

	// a new checkpoint extends the proven prefix past B's head
	handle(t, r, streamForwardCompleted(r, tflog.CheckpointStream,
		[]tflog.ResolvedEvent{checkpointEvent(1, tflog.TfPos{30, 30})}, 2, 1))
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("A")))

	got := pub.committed()
	if len(got) != 1 {
		t.Fatalf("want B delivered after checkpoint advance, got %d", len(got))
	}
	if r.Mode() != IndexMode {
		t.Fatalf("switched while B may still have indexed entries")
	}
}

func TestIdlePublishedWhenAllStreamsEof(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()
	handle(t, r, probeCompleted(r, []tflog.ResolvedEvent{checkpointEvent(0, tflog.TfPos{100, 100})}))
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("A")))
	if len(pub.idles()) != 0 {
		t.Fatalf("idle before all streams at eof")
	}
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("B")))
	// both at eof: at least one idle was published before the mode switch
	if len(pub.idles()) == 0 {
		t.Fatalf("no idle after all streams at eof")
	}
}

func TestTicksPublishedPerCompletion(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()
	pub.reset()
	handle(t, r, probeCompleted(r, nil))
	var ticks int
	for _, m := range pub.msgs {
		if _, ok := m.(EventReaderTick); ok {
			ticks++
		}
	}
	if ticks != 1 {
		t.Fatalf("ticks: %d", ticks)
	}
}

func TestConstructionValidation(t *testing.T) {
	pub := &capture{}
	sched := &fakeSched{}
	logger := logpkg.NewTestLogger()

	cases := []Options{
		{}, // no event types
		{EventTypes: []string{"A"}},
		{EventTypes: []string{"A"}, FromPositions: map[string]int32{"$et-B": 0}},
		{EventTypes: []string{"A"}, FromPositions: map[string]int32{"$et-A": 0, "$et-B": 0}},
		{EventTypes: []string{"A", "A"}, FromPositions: map[string]int32{"$et-A": 0}},
		{EventTypes: []string{""}, FromPositions: map[string]int32{"$et-": 0}},
	}
	for i, opts := range cases {
		if _, err := New(pub, sched, logger, opts); !errors.Is(err, ErrBadOptions) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}

	if _, err := New(pub, sched, logger, defaultOptions()); err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}
}

func TestProtocolViolationsAreFatal(t *testing.T) {
	newStarted := func(t *testing.T) (*Reader, *capture) {
		r, pub, _ := newTestReader(t, defaultOptions())
		r.Start()
		return r, pub
	}

	t.Run("unknown stream", func(t *testing.T) {
		r, _ := newStarted(t)
		_, err := r.Handle(streamForwardCompleted(r, "$et-zzz", nil, 0, 0))
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("completion without request", func(t *testing.T) {
		r, _ := newStarted(t)
		// pause keeps the completed read from being re-issued, so the second
		// completion has no outstanding request to match
		r.Pause()
		handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"), nil, 0, 0))
		_, err := r.Handle(streamForwardCompleted(r, tflog.TypeStream("A"), nil, 0, 0))
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("read-all before handoff", func(t *testing.T) {
		r, _ := newStarted(t)
		_, err := r.Handle(allForwardCompleted(r, nil, tflog.TfPos{}, 0))
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("malformed checkpoint tag", func(t *testing.T) {
		r, _ := newStarted(t)
		bad := indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{10, 10})
		bad.Link.Metadata = []byte("not a tag")
		_, err := r.Handle(streamForwardCompleted(r, tflog.TypeStream("A"), []tflog.ResolvedEvent{bad}, 1, 0))
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestStaleCompletionsDropped(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()

	// wrong correlation id: silently dropped
	msg := streamForwardCompleted(r, tflog.TypeStream("A"), nil, 0, 0)
	msg.CorrelationID = [16]byte{1, 2, 3}
	handled, err := r.Handle(msg)
	if !handled || err != nil {
		t.Fatalf("foreign completion: handled=%v err=%v", handled, err)
	}

	// index completions after the handoff: stale, dropped
	handle(t, r, probeCompleted(r, nil))
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("A")))
	handle(t, r, noStreamCompleted(r, tflog.TypeStream("B")))
	if r.Mode() != TfMode {
		t.Fatalf("mode: %v", r.Mode())
	}
	pub.reset()
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{10, 10})}, 1, 0))
	if len(pub.committed()) != 0 {
		t.Fatalf("stale index completion delivered")
	}
}

func TestAtMostOneInFlightReadPerStream(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()
	// Start issued one read per stream plus the probe; completing A with data
	// keeps its buffer non-empty, so no second A read may be issued
	pub.reset()
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{10, 10})}, 1, 0))
	for _, rq := range pub.streamReads() {
		if rq.StreamID == tflog.TypeStream("A") {
			t.Fatalf("re-read issued while buffer non-empty")
		}
	}
}

func TestSafeJoinPosNilUnderStopOnEof(t *testing.T) {
	opts := Options{
		EventTypes:    []string{"A"},
		FromTfPos:     tflog.PosBeforeAll,
		FromPositions: map[string]int32{tflog.TypeStream("A"): 0},
		StopOnEof:     true,
	}
	r, pub, _ := newTestReader(t, opts)
	r.Start()
	handle(t, r, probeCompleted(r, []tflog.ResolvedEvent{checkpointEvent(0, tflog.TfPos{100, 100})}))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{10, 10})}, 1, 0))

	got := pub.committed()
	if len(got) != 1 {
		t.Fatalf("deliveries: %d", len(got))
	}
	if got[0].SafeJoinPos != nil {
		t.Fatalf("safeJoinPos set under stopOnEof")
	}
}

func TestSafeJoinPosFromIndexDelivery(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()
	handle(t, r, probeCompleted(r, []tflog.ResolvedEvent{checkpointEvent(0, tflog.TfPos{100, 100})}))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("A"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("A"), 0, tflog.TfPos{10, 10})}, 1, 0))
	handle(t, r, streamForwardCompleted(r, tflog.TypeStream("B"),
		[]tflog.ResolvedEvent{indexEvent(tflog.TypeStream("B"), 0, tflog.TfPos{20, 20})}, 1, 0))

	got := pub.committed()
	if len(got) != 1 {
		t.Fatalf("deliveries: %d", len(got))
	}
	if got[0].SafeJoinPos == nil || *got[0].SafeJoinPos != 10 {
		t.Fatalf("safeJoinPos: %v", got[0].SafeJoinPos)
	}
}

func TestDisposeIdempotent(t *testing.T) {
	r, pub, _ := newTestReader(t, defaultOptions())
	r.Start()
	r.Dispose()
	r.Dispose()
	if !r.IsDisposed() {
		t.Fatalf("not disposed")
	}
	if len(pub.eofs()) != 0 {
		t.Fatalf("caller dispose published eof")
	}
	pub.reset()
	r.Resume()
	r.Pause()
	r.Start()
	if len(pub.msgs) != 0 {
		t.Fatalf("disposed reader emitted %d messages", len(pub.msgs))
	}
}

package subsvc

import (
	"sync"

	"github.com/rzbill/faro/internal/bus"
	"github.com/rzbill/faro/internal/reader"
	"github.com/rzbill/faro/internal/tflog"
	"github.com/rzbill/faro/pkg/id"
	logpkg "github.com/rzbill/faro/pkg/log"
)

// NotificationKind distinguishes the three output-port message kinds.
type NotificationKind int

const (
	KindEvent NotificationKind = iota
	KindIdle
	KindEof
)

// Notification is what subscribers receive. Event is nil for idle/eof
// notifications and for bare position heartbeats.
type Notification struct {
	Kind             NotificationKind
	Event            *tflog.ResolvedEvent
	Position         tflog.TfPos
	SafeJoinPos      *int64
	Progress         float64
	TimestampMs      int64
	MaxEventsReached bool
}

// Sink receives notifications for one subscriber. A Send error cancels the
// subscription.
type Sink interface {
	Send(n Notification) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(n Notification) error

// Send calls f(n).
func (f SinkFunc) Send(n Notification) error { return f(n) }

// Options configures one subscription.
type Options struct {
	// Filter is an optional CEL expression evaluated per delivered event.
	// When empty, all events are delivered. Idle/eof notifications are never
	// filtered.
	Filter string
}

type subscriber struct {
	subID  int
	corr   id.ID
	filter celFilter
	sink   Sink
}

// Service fans the reader's output port out to subscribers.
type Service struct {
	logger logpkg.Logger

	mu           sync.Mutex
	nextID       int
	subs         map[int]*subscriber
	lastSafeJoin map[id.ID]int64
}

// New returns an empty subscription service.
func New(logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Service{
		logger:       logger.With(logpkg.Component("subscription")),
		subs:         map[int]*subscriber{},
		lastSafeJoin: map[id.ID]int64{},
	}
}

// Subscribe registers sink for the reader identified by corr. Returns the
// subscription id for Unsubscribe.
func (s *Service) Subscribe(corr id.ID, opts Options, sink Sink) (int, error) {
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	subID := s.nextID
	s.subs[subID] = &subscriber{subID: subID, corr: corr, filter: filter, sink: sink}
	return subID, nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (s *Service) Unsubscribe(subID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, subID)
}

// LastSafeJoin returns the most recent safe-join position observed for a
// reader, when any delivery carried one.
func (s *Service) LastSafeJoin(corr id.ID) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lastSafeJoin[corr]
	return v, ok
}

// Handle consumes one output-port message. It reports whether the message was
// one of the subscription notification types.
func (s *Service) Handle(msg bus.Message) (bool, error) {
	switch m := msg.(type) {
	case reader.CommittedEventDistributed:
		s.onCommitted(m)
		return true, nil
	case reader.EventReaderIdle:
		s.broadcast(m.CorrelationID, Notification{Kind: KindIdle, TimestampMs: m.TimestampMs})
		return true, nil
	case reader.EventReaderEof:
		s.broadcast(m.CorrelationID, Notification{Kind: KindEof, MaxEventsReached: m.MaxEventsReached})
		return true, nil
	case reader.EventReaderTick:
		return true, nil
	default:
		return false, nil
	}
}

func (s *Service) onCommitted(m reader.CommittedEventDistributed) {
	if m.SafeJoinPos != nil {
		s.mu.Lock()
		s.lastSafeJoin[m.CorrelationID] = *m.SafeJoinPos
		s.mu.Unlock()
	}

	n := Notification{
		Kind:        KindEvent,
		Event:       m.Event,
		SafeJoinPos: m.SafeJoinPos,
		Progress:    m.Progress,
	}
	if m.Event != nil {
		n.Position = eventPosition(m.Event)
	}
	s.deliver(m.CorrelationID, n)
}

// eventPosition recovers the TF position of a delivered event: the original
// position for TF-log reads, the checkpoint tag otherwise.
func eventPosition(ev *tflog.ResolvedEvent) tflog.TfPos {
	if ev.OriginalPosition != (tflog.TfPos{}) {
		return ev.OriginalPosition
	}
	if pos, err := tflog.ParseTagPosition(ev.PositionEvent().Metadata); err == nil {
		return pos
	}
	return tflog.TfPos{}
}

// deliver sends an event notification through each matching subscriber's
// filter. broadcast sends control notifications unfiltered.
func (s *Service) deliver(corr id.ID, n Notification) {
	for _, sub := range s.matching(corr) {
		if n.Event != nil && !sub.filter.Eval(n.Event, n.Position) {
			continue
		}
		s.send(sub, n)
	}
}

func (s *Service) broadcast(corr id.ID, n Notification) {
	for _, sub := range s.matching(corr) {
		s.send(sub, n)
	}
}

func (s *Service) matching(corr id.ID) []*subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.corr == corr {
			out = append(out, sub)
		}
	}
	return out
}

func (s *Service) send(sub *subscriber, n Notification) {
	if err := sub.sink.Send(n); err != nil {
		s.logger.Warn("sink failed, cancelling subscription",
			logpkg.Int("sub", sub.subID), logpkg.Err(err))
		s.Unsubscribe(sub.subID)
	}
}

package readsvc

import (
	"errors"
	"fmt"

	"github.com/rzbill/faro/internal/bus"
	"github.com/rzbill/faro/internal/reader"
	"github.com/rzbill/faro/internal/tflog"
	logpkg "github.com/rzbill/faro/pkg/log"
)

// Service answers read-request messages from the TF-log store.
type Service struct {
	store  *tflog.Store
	pub    bus.Publisher
	logger logpkg.Logger
}

// New returns a Service reading from store and publishing completions to pub.
func New(store *tflog.Store, pub bus.Publisher, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Service{store: store, pub: pub, logger: logger.With(logpkg.Component("reads"))}
}

// Handle serves one request message. It reports whether the message was one
// of the read-request types; storage failures are returned as fatal errors.
func (s *Service) Handle(msg bus.Message) (bool, error) {
	switch m := msg.(type) {
	case reader.ReadStreamEventsForward:
		return true, s.onStreamForward(m)
	case reader.ReadStreamEventsBackward:
		return true, s.onStreamBackward(m)
	case reader.ReadAllEventsForward:
		return true, s.onAllForward(m)
	default:
		return false, nil
	}
}

func (s *Service) onStreamForward(m reader.ReadStreamEventsForward) error {
	slice, err := s.store.ReadStreamForward(m.StreamID, m.FromEventNumber, m.MaxCount, m.ResolveLinkTos)
	if err != nil {
		if errors.Is(err, tflog.ErrNoStream) {
			s.pub.Publish(reader.ReadStreamEventsForwardCompleted{
				CorrelationID: m.CorrelationID,
				StreamID:      m.StreamID,
				Result:        reader.ReadNoStream,
			})
			return nil
		}
		return fmt.Errorf("readsvc: forward read of %q: %w", m.StreamID, err)
	}
	s.pub.Publish(reader.ReadStreamEventsForwardCompleted{
		CorrelationID:   m.CorrelationID,
		StreamID:        m.StreamID,
		Result:          reader.ReadSuccess,
		Events:          slice.Events,
		NextEventNumber: slice.NextEventNumber,
		LastEventNumber: slice.LastEventNumber,
		IsEndOfStream:   slice.IsEndOfStream,
	})
	return nil
}

func (s *Service) onStreamBackward(m reader.ReadStreamEventsBackward) error {
	slice, err := s.store.ReadStreamBackward(m.StreamID, m.FromEventNumber, m.MaxCount, m.ResolveLinkTos)
	if err != nil {
		if errors.Is(err, tflog.ErrNoStream) {
			s.pub.Publish(reader.ReadStreamEventsBackwardCompleted{
				CorrelationID: m.CorrelationID,
				StreamID:      m.StreamID,
				Result:        reader.ReadNoStream,
			})
			return nil
		}
		return fmt.Errorf("readsvc: backward read of %q: %w", m.StreamID, err)
	}
	s.pub.Publish(reader.ReadStreamEventsBackwardCompleted{
		CorrelationID:   m.CorrelationID,
		StreamID:        m.StreamID,
		Result:          reader.ReadSuccess,
		Events:          slice.Events,
		NextEventNumber: slice.NextEventNumber,
		LastEventNumber: slice.LastEventNumber,
	})
	return nil
}

func (s *Service) onAllForward(m reader.ReadAllEventsForward) error {
	slice, err := s.store.ReadAllForward(tflog.TfPos{Commit: m.CommitPosition, Prepare: m.PreparePosition}, m.MaxCount)
	if err != nil {
		return fmt.Errorf("readsvc: tf read from %d/%d: %w", m.CommitPosition, m.PreparePosition, err)
	}
	s.pub.Publish(reader.ReadAllEventsForwardCompleted{
		CorrelationID: m.CorrelationID,
		Result:        reader.ReadSuccess,
		Events:        slice.Events,
		NextPos:       slice.NextPos,
		TfEofPosition: slice.TfEofPosition,
	})
	return nil
}

package bus

import (
	"errors"
	"sync"

	logpkg "github.com/rzbill/faro/pkg/log"
)

// ErrMailboxStopped is returned by Wait when the mailbox was stopped by the
// caller rather than by a handler failure.
var ErrMailboxStopped = errors.New("bus: mailbox stopped")

// Mailbox serializes message handling on a single goroutine. Publishes from
// inside a running handler are permitted; when the queue is full the message
// is dropped with a warning rather than deadlocking the loop.
type Mailbox struct {
	ch     chan Message
	logger logpkg.Logger

	mu      sync.Mutex
	handler Handler
	started bool
	stopped bool
	err     error

	done chan struct{}
}

// NewMailbox creates a mailbox with the given queue depth.
func NewMailbox(depth int, logger logpkg.Logger) *Mailbox {
	if depth <= 0 {
		depth = 1024
	}
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Mailbox{
		ch:     make(chan Message, depth),
		logger: logger.With(logpkg.Component("mailbox")),
		done:   make(chan struct{}),
	}
}

// Handle sets the handler. Must be called before Start.
func (m *Mailbox) Handle(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Start launches the dispatch loop.
func (m *Mailbox) Start() {
	m.mu.Lock()
	if m.started || m.handler == nil {
		m.mu.Unlock()
		return
	}
	m.started = true
	h := m.handler
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		for msg := range m.ch {
			if err := h(msg); err != nil {
				m.mu.Lock()
				m.err = err
				m.stopped = true
				m.mu.Unlock()
				m.logger.Error("handler failed, stopping dispatch", logpkg.Err(err))
				return
			}
		}
	}()
}

// Publish enqueues a message. Messages published after Stop, or while the
// queue is full, are dropped.
func (m *Mailbox) Publish(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	// Non-blocking send under the lock keeps Publish safe against a
	// concurrent Stop closing the channel.
	select {
	case m.ch <- msg:
	default:
		m.logger.Warn("queue full, dropping message")
	}
}

// Stop closes the queue; the loop exits after draining what was enqueued.
func (m *Mailbox) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.ch)
}

// Wait blocks until the dispatch loop exits. Returns the fatal handler error,
// or ErrMailboxStopped after a clean Stop.
func (m *Mailbox) Wait() error {
	<-m.done
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	return ErrMailboxStopped
}

package bus

import (
	"sync"
	"time"
)

// Timer schedules messages for delayed republish. Fires after Stop are
// suppressed; receivers additionally drop stale messages themselves, so a
// fire racing Stop is harmless.
type Timer struct {
	pub Publisher

	mu      sync.Mutex
	stopped bool
	pending map[*time.Timer]struct{}
}

// NewTimer returns a Timer publishing into pub.
func NewTimer(pub Publisher) *Timer {
	return &Timer{pub: pub, pending: map[*time.Timer]struct{}{}}
}

// Schedule publishes msg after d elapses.
func (t *Timer) Schedule(d time.Duration, msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	var tm *time.Timer
	tm = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.pending, tm)
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			t.pub.Publish(msg)
		}
	})
	t.pending[tm] = struct{}{}
}

// Stop cancels all pending schedules and rejects new ones.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for tm := range t.pending {
		tm.Stop()
	}
	t.pending = map[*time.Timer]struct{}{}
}

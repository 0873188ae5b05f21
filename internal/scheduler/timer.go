package scheduler

import (
	"sync"
	"time"
)

// Timer registers one-shot triggers at absolute instants, keyed by a stable
// identifier. Scheduling an identifier that is already armed replaces it.
// Delivery is at-least-once; consumers must tolerate late or duplicate
// firings.
type Timer interface {
	Schedule(id string, at time.Time, fire func())
	Cancel(id string)
}

// StdTimer implements Timer on the runtime timer facility.
type StdTimer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewStdTimer creates an empty timer registry.
func NewStdTimer() *StdTimer {
	return &StdTimer{timers: make(map[string]*time.Timer)}
}

// Schedule arms a one-shot trigger for the given instant. An instant in the
// past fires immediately.
func (t *StdTimer) Schedule(id string, at time.Time, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[id]; ok {
		existing.Stop()
	}

	t.timers[id] = time.AfterFunc(time.Until(at), func() {
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		fire()
	})
}

// Cancel stops a pending trigger. Unknown identifiers are ignored.
func (t *StdTimer) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[id]; ok {
		existing.Stop()
		delete(t.timers, id)
	}
}

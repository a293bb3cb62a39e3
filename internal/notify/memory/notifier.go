// Package memory records capture events in-memory for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

// Notifier stores notified events for inspection.
type Notifier struct {
	mu     sync.RWMutex
	events []thumbnail.CapturedEvent
	err    error
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes subsequent Notify calls return err.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notify records the event.
func (n *Notifier) Notify(_ context.Context, event thumbnail.CapturedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

// Events returns the recorded events.
func (n *Notifier) Events() []thumbnail.CapturedEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]thumbnail.CapturedEvent, len(n.events))
	copy(out, n.events)
	return out
}

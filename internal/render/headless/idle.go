package headless

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// idleTracker records which frames have reached network idle for their
// current document.
type idleTracker struct {
	mu     sync.Mutex
	idle   map[cdp.FrameID]bool
	notify chan struct{}
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		idle:   make(map[cdp.FrameID]bool),
		notify: make(chan struct{}, 1),
	}
}

func (t *idleTracker) handle(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}
	t.mu.Lock()
	switch e.Name {
	case "init":
		// A new document started loading in this frame.
		t.idle[e.FrameID] = false
	case idleLifecycleEvent:
		t.idle[e.FrameID] = true
	default:
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *idleTracker) isIdle(frame cdp.FrameID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle[frame]
}

// wait blocks until frame is idle or ctx ends.
func (t *idleTracker) wait(ctx context.Context, frame cdp.FrameID) error {
	for {
		if t.isIdle(frame) {
			return nil
		}
		select {
		case <-t.notify:
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		}
	}
}

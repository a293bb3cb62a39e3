// Package notify fans capture events out to notifiers without blocking the request path.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/site-thumbnailer/internal/metrics"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

var (
	// ErrDropped is returned by Notify when the queue is full.
	ErrDropped = errors.New("capture event dropped: queue full")
	// ErrClosed is returned by Notify once Close has started.
	ErrClosed = errors.New("notification hub closed")
)

const (
	defaultBufferSize  = 256
	defaultSinkTimeout = 10 * time.Second
	dropWarnInterval   = 5 * time.Second
)

// Config tunes a Hub. Zero values pick the defaults (256 queued events, 10s per sink).
type Config struct {
	BufferSize  int
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Hub queues CapturedEvents and hands each one to every sink in order from a
// single goroutine. Notify is safe for concurrent use and never waits on a sink.
type Hub struct {
	sinks       []thumbnail.Notifier
	sinkTimeout time.Duration
	logger      *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan thumbnail.CapturedEvent
	done   chan struct{}

	unreported atomic.Int64
	dropWarn   rate.Sometimes
}

// NewHub starts delivering to the non-nil sinks.
func NewHub(cfg Config, sinks ...thumbnail.Notifier) *Hub {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	h := &Hub{
		sinkTimeout: cfg.SinkTimeout,
		logger:      cfg.Logger,
		queue:       make(chan thumbnail.CapturedEvent, size),
		done:        make(chan struct{}),
		dropWarn:    rate.Sometimes{Interval: dropWarnInterval},
	}
	if h.sinkTimeout <= 0 {
		h.sinkTimeout = defaultSinkTimeout
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	for _, sink := range sinks {
		if sink != nil {
			h.sinks = append(h.sinks, sink)
		}
	}
	go h.loop()
	return h
}

// Notify queues event. Delivery happens later under its own deadline, so ctx is ignored.
func (h *Hub) Notify(_ context.Context, event thumbnail.CapturedEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	select {
	case h.queue <- event:
		return nil
	default:
	}
	metrics.ObserveNotification("dropped")
	h.unreported.Add(1)
	h.dropWarn.Do(func() {
		h.logger.Warn("capture events dropped due to backpressure",
			zap.Int64("dropped", h.unreported.Swap(0)),
			zap.Int("capacity", cap(h.queue)),
		)
	})
	return ErrDropped
}

// Close refuses new events, waits until every queued event has been offered to
// each sink, and returns early with ctx's error if ctx ends first. Calling it
// again after a timeout resumes the wait.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain capture events: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for event := range h.queue {
		for _, sink := range h.sinks {
			h.deliver(sink, event)
		}
	}
}

func (h *Hub) deliver(sink thumbnail.Notifier, event thumbnail.CapturedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), h.sinkTimeout)
	defer cancel()
	if err := sink.Notify(ctx, event); err != nil {
		metrics.ObserveNotification("failed")
		h.logger.Warn("capture notification failed",
			zap.String("capture_id", event.CaptureID),
			zap.String("entity_id", event.EntityID),
			zap.String("sink", fmt.Sprintf("%T", sink)),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveNotification("delivered")
}

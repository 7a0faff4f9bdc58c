package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize bounds the inbound queue when no size is configured.
const DefaultQueueSize = 100

// MessageBus is the hand-off point between transports and dispatch workers.
// Inbound envelopes wait in a bounded queue; lifecycle events fan out to
// subscribers without ever blocking the publisher.
type MessageBus struct {
	queue  chan Envelope
	closed chan struct{}
	once   sync.Once

	subsMu sync.RWMutex
	subs   map[*subscriber]struct{}

	dropped atomic.Uint64
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	Queued        int
	Capacity      int
	Subscribers   int
	DroppedEvents uint64
}

// NewMessageBus creates a bus whose inbound queue holds size envelopes.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &MessageBus{
		queue:  make(chan Envelope, size),
		closed: make(chan struct{}),
		subs:   make(map[*subscriber]struct{}),
	}
}

// PublishInbound enqueues env. It waits while the queue is full and reports
// false once ctx ends or the bus is closed.
func (mb *MessageBus) PublishInbound(ctx context.Context, env Envelope) bool {
	ctx = orBackground(ctx)
	if mb.stopped(ctx) {
		return false
	}

	select {
	case mb.queue <- env:
		return true
	case <-ctx.Done():
	case <-mb.closed:
	}
	return false
}

// ConsumeInbound takes the next envelope.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (Envelope, bool) {
	ctx = orBackground(ctx)

	select {
	case env := <-mb.queue:
		return env, true
	case <-ctx.Done():
	case <-mb.closed:
	}
	return Envelope{}, false
}

// Stats reports queue depth and event delivery counters.
func (mb *MessageBus) Stats() Stats {
	mb.subsMu.RLock()
	subscribers := len(mb.subs)
	mb.subsMu.RUnlock()

	return Stats{
		Queued:        len(mb.queue),
		Capacity:      cap(mb.queue),
		Subscribers:   subscribers,
		DroppedEvents: mb.dropped.Load(),
	}
}

// Close ends every pending and future bus operation. Safe to call repeatedly.
func (mb *MessageBus) Close() {
	mb.once.Do(func() {
		close(mb.closed)

		mb.subsMu.Lock()
		for sub := range mb.subs {
			sub.closeLocked(mb)
		}
		mb.subsMu.Unlock()
	})
}

func (mb *MessageBus) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-mb.closed:
		return true
	default:
		return false
	}
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

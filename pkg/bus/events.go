package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventMessageReceived  EventType = "message_received"
	EventCommandCompleted EventType = "command_completed"
	EventCommandFailed    EventType = "command_failed"
)

// Payload keys attached to dispatch events.
const (
	PayloadRoute    = "route"
	PayloadCommand  = "command"
	PayloadKind     = "failure_kind"
	PayloadDuration = "duration_ms"
)

// Event describes one dispatch lifecycle milestone.
type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	Channel    string            `json:"channel,omitempty"`
	ChatID     string            `json:"chat_id,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type subscriber struct {
	events chan Event
	once   sync.Once
}

// closeLocked detaches the subscriber; the caller holds subsMu for writing.
func (s *subscriber) closeLocked(mb *MessageBus) {
	s.once.Do(func() {
		delete(mb.subs, s)
		close(s.events)
	})
}

// PublishEvent offers event to each subscriber. A subscriber whose buffer is
// full misses the event and the drop is counted in Stats.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if mb.stopped(orBackground(ctx)) {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	// Held for the whole fan-out so no subscriber channel closes mid-send.
	mb.subsMu.RLock()
	defer mb.subsMu.RUnlock()

	for sub := range mb.subs {
		select {
		case sub.events <- event:
		default:
			mb.dropped.Add(1)
		}
	}
	return true
}

// SubscribeEvents returns a channel of buffer events and its cancel func.
// The channel closes on cancel, when ctx ends or when the bus closes.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	ctx = orBackground(ctx)
	if buffer <= 0 {
		buffer = DefaultQueueSize
	}
	sub := &subscriber{events: make(chan Event, buffer)}

	mb.subsMu.Lock()
	select {
	case <-mb.closed:
		mb.subsMu.Unlock()
		close(sub.events)
		return sub.events, func() {}
	default:
	}
	mb.subs[sub] = struct{}{}
	mb.subsMu.Unlock()

	cancel := func() {
		mb.subsMu.Lock()
		sub.closeLocked(mb)
		mb.subsMu.Unlock()
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-mb.closed:
		}
	}()

	return sub.events, cancel
}

package bus

import (
	"context"
	"testing"
	"time"
)

type nopReplier struct{}

func (nopReplier) Send(context.Context, OutboundMessage) (MessageRef, error) {
	return MessageRef{MessageID: "1"}, nil
}
func (nopReplier) Edit(context.Context, MessageRef, string) error { return nil }
func (nopReplier) Delete(context.Context, MessageRef) error       { return nil }
func (nopReplier) MaxAttachmentBytes() int64                      { return 0 }

func TestInboundRoundTrip(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	in := Envelope{Message: InboundMessage{Channel: "telegram", Content: "$TSLA", SessionKey: "telegram:1"}, Reply: nopReplier{}}
	if ok := mb.PublishInbound(context.Background(), in); !ok {
		t.Fatal("expected inbound publish to succeed")
	}

	out, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected inbound consume to succeed")
	}
	if out.Message.Content != in.Message.Content {
		t.Fatalf("content = %q, want %q", out.Message.Content, in.Message.Content)
	}
	if out.Reply == nil {
		t.Fatal("expected replier to travel with the envelope")
	}
}

func TestPublishBlocksWhenQueueFull(t *testing.T) {
	mb := NewMessageBus(1)
	t.Cleanup(mb.Close)

	if ok := mb.PublishInbound(context.Background(), Envelope{}); !ok {
		t.Fatal("expected first publish to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ok := mb.PublishInbound(ctx, Envelope{}); ok {
		t.Fatal("expected publish to give up when queue stays full")
	}
}

func TestCloseStopsBusOperations(t *testing.T) {
	mb := NewMessageBus(0)
	mb.Close()

	if ok := mb.PublishInbound(context.Background(), Envelope{}); ok {
		t.Fatal("expected inbound publish to fail after close")
	}
	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatal("expected inbound consume to stop after close")
	}
}

func TestContextCancellation(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := mb.PublishInbound(ctx, Envelope{}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mb.ConsumeInbound(context.Background())
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestMessageRefIsZero(t *testing.T) {
	if !(MessageRef{ChatID: "1"}).IsZero() {
		t.Fatal("expected ref without message id to be zero")
	}
	if (MessageRef{ChatID: "1", MessageID: "2"}).IsZero() {
		t.Fatal("expected ref with message id to be non-zero")
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := Event{Type: EventMessageReceived, RequestID: "1"}
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventMessageReceived {
				t.Fatalf("subscriber %s event type = %q, want %q", name, got.Type, EventMessageReceived)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s expected event timestamp", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestFullSubscriberDropsEvents(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	for _, typ := range []EventType{EventMessageReceived, EventCommandCompleted, EventCommandFailed} {
		if ok := mb.PublishEvent(ctx, Event{Type: typ}); !ok {
			t.Fatalf("publish %q failed", typ)
		}
	}

	if got := mb.Stats().DroppedEvents; got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
	if got := (<-events).Type; got != EventMessageReceived {
		t.Fatalf("first event = %q, want %q", got, EventMessageReceived)
	}
}

func TestStatsReportQueueAndSubscribers(t *testing.T) {
	mb := NewMessageBus(4)
	t.Cleanup(mb.Close)

	_, unsubscribe := mb.SubscribeEvents(context.Background(), 1)
	mb.PublishInbound(context.Background(), Envelope{})
	mb.PublishInbound(context.Background(), Envelope{})

	stats := mb.Stats()
	if stats.Queued != 2 || stats.Capacity != 4 {
		t.Fatalf("queue = %d/%d, want 2/4", stats.Queued, stats.Capacity)
	}
	if stats.Subscribers != 1 {
		t.Fatalf("subscribers = %d, want 1", stats.Subscribers)
	}

	unsubscribe()
	unsubscribe()
	if got := mb.Stats().Subscribers; got != 0 {
		t.Fatalf("subscribers after unsubscribe = %d, want 0", got)
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus(0)
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventMessageReceived}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscribeEventsUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus(0)

	events, _ := mb.SubscribeEvents(context.Background(), 1)
	mb.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}
}

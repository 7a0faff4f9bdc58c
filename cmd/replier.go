package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"mehranbot/pkg/bus"
)

// writerReplier prints replies for one-shot commands.
type writerReplier struct {
	mu   sync.Mutex
	out  io.Writer
	sent int
}

func (r *writerReplier) Send(_ context.Context, msg bus.OutboundMessage) (bus.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	text := msg.Content
	if msg.Attachment != nil {
		text = fmt.Sprintf("%s [%s] %s", msg.Attachment.Caption, msg.Attachment.Kind, msg.Attachment.Path)
	}
	if _, err := fmt.Fprintln(r.out, text); err != nil {
		return bus.MessageRef{}, err
	}

	r.sent++
	return bus.MessageRef{ChatID: "cli", MessageID: strconv.Itoa(r.sent)}, nil
}

func (r *writerReplier) Edit(_ context.Context, _ bus.MessageRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintln(r.out, text)
	return err
}

func (r *writerReplier) Delete(context.Context, bus.MessageRef) error {
	return nil
}

func (r *writerReplier) MaxAttachmentBytes() int64 {
	return 0
}

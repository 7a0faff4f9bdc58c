package dispatch

import (
	"context"
	"sync"

	"mehranbot/pkg/bus"
)

// replyProgress keeps a single status message per request and edits it in
// place. When editing is not possible it falls back to a new message.
type replyProgress struct {
	req *Request

	mu         sync.Mutex
	ref        bus.MessageRef
	sent       bool
	lastFailed bool
}

func newReplyProgress(req *Request) *replyProgress {
	return &replyProgress{req: req}
}

func (p *replyProgress) Update(ctx context.Context, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()

	if !p.ref.IsZero() {
		err := p.req.replier.Edit(ctx, p.ref, text)
		if err == nil {
			p.lastFailed = false
			return
		}
		p.req.log.Debug("Progress edit failed, sending new message", "error", err)
	}

	ref, err := p.req.replier.Send(ctx, bus.OutboundMessage{
		Channel:    p.req.Message.Channel,
		ChatID:     p.req.Message.ChatID,
		SessionKey: p.req.Message.SessionKey,
		Content:    text,
	})
	if err != nil {
		p.req.log.Warn("Progress update failed", "error", err)
		p.lastFailed = true
		return
	}
	p.ref = ref
	p.sent = true
	p.lastFailed = false
}

// delivered reports whether the latest status text reached the user.
func (p *replyProgress) delivered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent && !p.lastFailed
}

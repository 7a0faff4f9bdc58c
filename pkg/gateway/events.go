package gateway

import (
	"context"
	"log/slog"
	"time"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/logger"
)

func (s *Service) observeEvents(ctx context.Context, events <-chan bus.Event) {
	log := logger.Component(s.log, "bus.events")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
			s.metrics.observe(event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		logger.KeyRequestID, event.RequestID,
		"channel", event.Channel,
		"chat_id", event.ChatID,
		"session_key", event.SessionKey,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventCommandFailed:
		log.Warn("Dispatch event", append(attrs, "error", event.Error)...)
	case bus.EventCommandCompleted:
		log.Info("Dispatch event", attrs...)
	default:
		log.Debug("Dispatch event", attrs...)
	}
}

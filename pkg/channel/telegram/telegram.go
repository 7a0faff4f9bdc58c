package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/channel"
	"mehranbot/pkg/config"
	"mehranbot/pkg/logger"

	"github.com/mymmrac/telego"
)

const channelName = "telegram"

// Adapter bridges Telegram long polling into the dispatch queue.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom channel.AllowList
	log       *slog.Logger

	// username is the bot's own handle, learned at startup.
	username string
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		log:       logger.Component(log, "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards every accepted text message.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get telegram bot identity: %w", err)
	}
	a.username = me.Username

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "username", a.username)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			if err := a.accept(ctx, bot, update, handler); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.log.Error("Failed to enqueue inbound message", "update_id", update.UpdateID, "error", err)
			}
		}
	}
}

// accept hands one update to handler. The typing indicator is sent in the
// background so intake never waits on a Telegram round trip.
func (a *Adapter) accept(ctx context.Context, bot botAPI, update telego.Update, handler channel.Handler) error {
	inbound, ok := a.inboundFromUpdate(update)
	if !ok {
		return nil
	}
	a.log.Info("Received message", "chat_id", inbound.ChatID, "sender_id", inbound.SenderID, "content", channel.PreviewText(inbound.Content))

	replier := newReplier(bot, update.Message.Chat.ID, a.cfg.MaxUploadBytes(), a.log)
	go replier.typing(ctx)

	return handler(ctx, inbound, replier)
}

// inboundFromUpdate converts a text update from an allowed sender.
func (a *Adapter) inboundFromUpdate(update telego.Update) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil {
		return bus.InboundMessage{}, false
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		// Stickers, photos and other non-text updates carry no command.
		return bus.InboundMessage{}, false
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundMessage{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.allowFrom.Allows(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	return bus.InboundMessage{
		Channel:    channelName,
		SenderID:   senderID,
		ChatID:     chatID,
		SessionKey: channel.SessionKey(channelName, chatID),
		Content:    content,
		Metadata: map[string]string{
			"update_id":     strconv.Itoa(update.UpdateID),
			"message_id":    strconv.Itoa(message.MessageID),
			bus.MetaBotName: a.username,
		},
	}, true
}

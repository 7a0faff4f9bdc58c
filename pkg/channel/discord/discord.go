// Package discord connects the bot to Discord over the gateway websocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/channel"
	"mehranbot/pkg/config"
	"mehranbot/pkg/logger"
)

const channelName = "discord"

// Adapter bridges Discord message events into the dispatch queue.
type Adapter struct {
	cfg       config.DiscordConfig
	allowFrom channel.AllowList
	log       *slog.Logger

	mu        sync.RWMutex
	botUserID string
}

// NewAdapter validates Discord configuration and constructs an adapter.
func NewAdapter(cfg config.DiscordConfig, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channels.discord.token is required")
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		log:       logger.Component(log, "channel.discord"),
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// Run opens the Discord session and blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	session, err := discordgo.New("Bot " + strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	session.AddHandler(func(_ *discordgo.Session, ready *discordgo.Ready) {
		a.setBotUserID(ready.User.ID)
		a.log.Info("Discord bot connected", "user", ready.User.Username)
	})
	session.AddHandler(func(s *discordgo.Session, event *discordgo.MessageCreate) {
		inbound, ok := a.inboundFromMessage(event)
		if !ok {
			return
		}
		a.log.Info("Received message", "chat_id", inbound.ChatID, "sender_id", inbound.SenderID, "content", channel.PreviewText(inbound.Content))

		replier := newReplier(s, inbound.ChatID, a.cfg.MaxUploadBytes(), a.log)
		replier.typing()

		if err := handler(ctx, inbound, replier); err != nil && ctx.Err() == nil {
			a.log.Error("Failed to enqueue inbound message", "chat_id", inbound.ChatID, "error", err)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	a.log.Info("Discord channel started")

	<-ctx.Done()
	if err := session.Close(); err != nil {
		a.log.Warn("Failed to close discord session", "error", err)
	}
	return nil
}

func (a *Adapter) setBotUserID(id string) {
	a.mu.Lock()
	a.botUserID = id
	a.mu.Unlock()
}

func (a *Adapter) currentBotUserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.botUserID
}

// inboundFromMessage converts a message event from an allowed human sender.
func (a *Adapter) inboundFromMessage(event *discordgo.MessageCreate) (bus.InboundMessage, bool) {
	if event == nil || event.Message == nil || event.Author == nil {
		return bus.InboundMessage{}, false
	}
	if event.Author.Bot {
		return bus.InboundMessage{}, false
	}

	botID := a.currentBotUserID()
	if botID != "" && event.Author.ID == botID {
		return bus.InboundMessage{}, false
	}
	if !a.allowFrom.Allows(event.Author.ID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", event.Author.ID)
		return bus.InboundMessage{}, false
	}

	content := event.Content
	if botID != "" {
		content = strings.ReplaceAll(content, "<@"+botID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return bus.InboundMessage{}, false
	}

	metadata := map[string]string{"message_id": event.ID}
	if event.GuildID != "" {
		metadata["guild_id"] = event.GuildID
	}

	return bus.InboundMessage{
		Channel:    channelName,
		SenderID:   event.Author.ID,
		ChatID:     event.ChannelID,
		SessionKey: channel.SessionKey(channelName, event.ChannelID),
		Content:    content,
		Metadata:   metadata,
	}, true
}

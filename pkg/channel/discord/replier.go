package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/channel"
)

const maxMessageRunes = 2000

// sessionAPI is the subset of *discordgo.Session the replier uses.
type sessionAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

type replier struct {
	session   sessionAPI
	channelID string
	maxBytes  int64
	log       *slog.Logger
}

func newReplier(session sessionAPI, channelID string, maxBytes int64, log *slog.Logger) *replier {
	return &replier{session: session, channelID: channelID, maxBytes: maxBytes, log: log}
}

func (r *replier) Send(ctx context.Context, msg bus.OutboundMessage) (bus.MessageRef, error) {
	if msg.Attachment != nil {
		return r.sendAttachment(ctx, *msg.Attachment)
	}
	if msg.Content == "" {
		return bus.MessageRef{}, errors.New("empty message")
	}

	r.log.Info("Sending message", "chat_id", r.channelID, "content", channel.PreviewText(msg.Content))

	var last *discordgo.Message
	for _, chunk := range channel.SplitText(msg.Content, maxMessageRunes) {
		sent, err := r.session.ChannelMessageSend(r.channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			return bus.MessageRef{}, fmt.Errorf("send discord message: %w", err)
		}
		last = sent
	}

	return r.ref(last), nil
}

func (r *replier) sendAttachment(ctx context.Context, attachment bus.Attachment) (bus.MessageRef, error) {
	file, err := os.Open(attachment.Path)
	if err != nil {
		return bus.MessageRef{}, fmt.Errorf("open attachment: %w", err)
	}
	defer file.Close()

	sent, err := r.session.ChannelMessageSendComplex(r.channelID, &discordgo.MessageSend{
		Content: channel.TruncateText(attachment.Caption, maxMessageRunes),
		Files: []*discordgo.File{{
			Name:        filepath.Base(attachment.Path),
			ContentType: contentType(attachment.Kind),
			Reader:      file,
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return bus.MessageRef{}, fmt.Errorf("upload discord %s: %w", attachment.Kind, err)
	}

	return r.ref(sent), nil
}

func (r *replier) Edit(ctx context.Context, ref bus.MessageRef, text string) error {
	if ref.MessageID == "" {
		return errors.New("discord message id is required")
	}

	text = channel.TruncateText(text, maxMessageRunes)
	if _, err := r.session.ChannelMessageEdit(r.chatID(ref), ref.MessageID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit discord message: %w", err)
	}
	return nil
}

func (r *replier) Delete(ctx context.Context, ref bus.MessageRef) error {
	if ref.MessageID == "" {
		return errors.New("discord message id is required")
	}

	if err := r.session.ChannelMessageDelete(r.chatID(ref), ref.MessageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete discord message: %w", err)
	}
	return nil
}

func (r *replier) MaxAttachmentBytes() int64 {
	return r.maxBytes
}

func (r *replier) typing() {
	if err := r.session.ChannelTyping(r.channelID); err != nil {
		r.log.Debug("Failed to send typing indicator", "chat_id", r.channelID, "error", err)
	}
}

func (r *replier) chatID(ref bus.MessageRef) string {
	if ref.ChatID != "" {
		return ref.ChatID
	}
	return r.channelID
}

func (r *replier) ref(message *discordgo.Message) bus.MessageRef {
	ref := bus.MessageRef{ChatID: r.channelID}
	if message != nil {
		ref.MessageID = message.ID
	}
	return ref
}

func contentType(kind bus.AttachmentKind) string {
	if kind == bus.AttachmentAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

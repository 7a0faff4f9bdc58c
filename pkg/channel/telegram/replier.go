package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/channel"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const (
	maxMessageRunes = 4096
	maxCaptionRunes = 1024
)

// botAPI is the subset of *telego.Bot the replier uses.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error)
	SendAudio(ctx context.Context, params *telego.SendAudioParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

// replier answers within one Telegram chat.
type replier struct {
	bot      botAPI
	chatID   int64
	maxBytes int64
	log      *slog.Logger
}

func newReplier(bot botAPI, chatID int64, maxBytes int64, log *slog.Logger) *replier {
	return &replier{bot: bot, chatID: chatID, maxBytes: maxBytes, log: log}
}

func (r *replier) Send(ctx context.Context, msg bus.OutboundMessage) (bus.MessageRef, error) {
	if msg.Attachment != nil {
		return r.sendAttachment(ctx, *msg.Attachment)
	}
	if msg.Content == "" {
		return bus.MessageRef{}, errors.New("empty message")
	}

	r.log.Info("Sending message", "chat_id", r.chatID, "content", channel.PreviewText(msg.Content))

	var last *telego.Message
	for _, chunk := range channel.SplitText(msg.Content, maxMessageRunes) {
		sent, err := r.bot.SendMessage(ctx, tu.Message(tu.ID(r.chatID), chunk))
		if err != nil {
			return bus.MessageRef{}, fmt.Errorf("send telegram message: %w", err)
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

	caption := channel.TruncateText(attachment.Caption, maxCaptionRunes)
	chat := tu.ID(r.chatID)

	var sent *telego.Message
	switch attachment.Kind {
	case bus.AttachmentAudio:
		r.chatAction(ctx, telego.ChatActionUploadVoice)
		sent, err = r.bot.SendAudio(ctx, tu.Audio(chat, tu.File(file)).WithCaption(caption))
	default:
		r.chatAction(ctx, telego.ChatActionUploadVideo)
		sent, err = r.bot.SendVideo(ctx, tu.Video(chat, tu.File(file)).WithCaption(caption))
	}
	if err != nil {
		return bus.MessageRef{}, fmt.Errorf("upload telegram %s: %w", attachment.Kind, err)
	}

	return r.ref(sent), nil
}

func (r *replier) Edit(ctx context.Context, ref bus.MessageRef, text string) error {
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", ref.MessageID, err)
	}

	text = channel.TruncateText(text, maxMessageRunes)
	if _, err := r.bot.EditMessageText(ctx, tu.EditMessageText(tu.ID(r.chatID), messageID, text)); err != nil {
		return fmt.Errorf("edit telegram message: %w", err)
	}
	return nil
}

func (r *replier) Delete(ctx context.Context, ref bus.MessageRef) error {
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", ref.MessageID, err)
	}

	if err := r.bot.DeleteMessage(ctx, tu.Delete(tu.ID(r.chatID), messageID)); err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}

func (r *replier) MaxAttachmentBytes() int64 {
	return r.maxBytes
}

// typing shows the typing indicator once; Telegram clears it on the next
// message or after a few seconds.
func (r *replier) typing(ctx context.Context) {
	r.chatAction(ctx, telego.ChatActionTyping)
}

func (r *replier) chatAction(ctx context.Context, action string) {
	if err := r.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(r.chatID), action)); err != nil && ctx.Err() == nil {
		r.log.Debug("Failed to send chat action", "chat_id", r.chatID, "action", action, "error", err)
	}
}

func (r *replier) ref(message *telego.Message) bus.MessageRef {
	ref := bus.MessageRef{ChatID: strconv.FormatInt(r.chatID, 10)}
	if message != nil {
		ref.MessageID = strconv.Itoa(message.MessageID)
	}
	return ref
}

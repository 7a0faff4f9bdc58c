package bus

import "context"

// InboundMessage is one received chat message; it is never mutated after creation.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MetaBotName is the metadata key under which a transport records the
// receiving bot's username, so commands for other bots can be told apart.
const MetaBotName = "bot_name"

// AttachmentKind selects how a transport uploads a local file.
type AttachmentKind string

const (
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
)

// Attachment references a local file to upload alongside a reply.
type Attachment struct {
	Kind    AttachmentKind `json:"kind"`
	Path    string         `json:"path"`
	Caption string         `json:"caption,omitempty"`
}

// OutboundMessage is a reply: plain text, or a media upload with a caption.
type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key,omitempty"`
	Content    string            `json:"content"`
	Attachment *Attachment       `json:"attachment,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MessageRef identifies a message previously sent through a Replier.
type MessageRef struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// IsZero reports whether the ref points at nothing.
func (r MessageRef) IsZero() bool {
	return r.MessageID == ""
}

// Replier is the outbound half of a chat transport, bound to one conversation.
type Replier interface {
	Send(ctx context.Context, msg OutboundMessage) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string) error
	Delete(ctx context.Context, ref MessageRef) error
	// MaxAttachmentBytes is the largest upload the transport accepts.
	MaxAttachmentBytes() int64
}

// Envelope pairs an inbound message with the replier that answers it.
type Envelope struct {
	Message InboundMessage
	Reply   Replier
}

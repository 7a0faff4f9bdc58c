// Package channel defines the contract between chat transports and the
// dispatch side of the bot, plus helpers shared by every transport.
package channel

import (
	"context"
	"strings"
	"unicode/utf8"

	"mehranbot/pkg/bus"
)

const messagePreviewLimit = 240

// Handler accepts one inbound message together with the replier bound to
// its conversation. It returns quickly; work happens elsewhere.
type Handler func(context.Context, bus.InboundMessage, bus.Replier) error

// Adapter bridges one external transport (for example Telegram) into the bot.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// AllowList restricts which sender ids may talk to the bot. An empty list
// admits everyone.
type AllowList map[string]struct{}

// NewAllowList normalizes allow_from values into a lookup set.
func NewAllowList(values []string) AllowList {
	if len(values) == 0 {
		return nil
	}

	allowed := make(AllowList, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}
	return allowed
}

// Allows reports whether senderID may use the bot.
func (a AllowList) Allows(senderID string) bool {
	if len(a) == 0 {
		return true
	}

	_, ok := a[strings.TrimSpace(senderID)]
	return ok
}

// SessionKey namespaces a chat id by transport.
func SessionKey(channelName, chatID string) string {
	return channelName + ":" + strings.TrimSpace(chatID)
}

// PreviewText returns a bounded log-safe preview of message text.
func PreviewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	cut := messagePreviewLimit
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}

// SplitText breaks text into chunks of at most limit runes, preferring to
// cut at a newline, then at a space.
func SplitText(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)
	for len(remaining) > limit {
		cut := lastIndex(remaining[:limit], '\n')
		if cut <= 0 {
			cut = lastIndex(remaining[:limit], ' ')
		}
		if cut <= 0 {
			cut = limit
		}

		chunks = append(chunks, string(remaining[:cut]))
		remaining = remaining[cut:]
		// The separator we split on is not carried into the next chunk.
		if len(remaining) > 0 && (remaining[0] == '\n' || remaining[0] == ' ') {
			remaining = remaining[1:]
		}
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}

	return chunks
}

// TruncateText cuts text to limit runes.
func TruncateText(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

func lastIndex(runes []rune, target rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == target {
			return i
		}
	}
	return -1
}

package router

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultPrefix  = "/"
	DefaultTrigger = '$'
)

// Kind identifies which handler family a message belongs to.
type Kind int

const (
	KindPlainText Kind = iota
	KindCommand
	KindUnknownCommand
	KindLookups
	// KindIgnored is a command addressed to a different bot.
	KindIgnored
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindUnknownCommand:
		return "unknown_command"
	case KindLookups:
		return "lookups"
	case KindIgnored:
		return "ignored"
	default:
		return "plain_text"
	}
}

// Classification is the single outcome of routing one message text.
type Classification struct {
	Kind Kind
	// Name is the lower-cased command name for KindCommand and KindUnknownCommand.
	Name string
	// Args are the whitespace-separated tokens after the command name.
	Args []string
	// Rest is the raw remainder after the command name, trimmed.
	Rest string
	// Addressee is the lower-cased "@bot" suffix of the command, if any.
	Addressee string
	// Keys are upper-cased lookup keys in order of appearance.
	Keys []string
	// Text is the original message text.
	Text string
}

// Router classifies message text without performing any I/O.
type Router struct {
	prefix  string
	trigger rune
	known   func(name string) bool
}

// New builds a router. known reports whether a lower-cased command name is registered.
func New(prefix string, trigger rune, known func(name string) bool) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if trigger == 0 {
		trigger = DefaultTrigger
	}
	if known == nil {
		known = func(string) bool { return false }
	}

	return &Router{prefix: prefix, trigger: trigger, known: known}
}

// Classify maps text to exactly one classification, accepting commands
// addressed to any bot.
func (r *Router) Classify(text string) Classification {
	return r.ClassifyFor(text, "")
}

// ClassifyFor is Classify for a message received by the bot named botName.
// A command whose "@name" suffix names another bot is KindIgnored; an empty
// botName accepts every suffix.
//
// Command-prefixed text is never scanned for embedded lookups.
func (r *Router) ClassifyFor(text, botName string) Classification {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, r.prefix) {
		name, addressee, rest := splitCommand(strings.TrimPrefix(trimmed, r.prefix))
		if name != "" {
			kind := KindUnknownCommand
			switch {
			case !addressedTo(addressee, botName):
				kind = KindIgnored
			case r.known(name):
				kind = KindCommand
			}
			return Classification{
				Kind:      kind,
				Name:      name,
				Args:      strings.Fields(rest),
				Rest:      rest,
				Addressee: addressee,
				Text:      text,
			}
		}
	}

	if keys := ExtractKeys(text, r.trigger); len(keys) > 0 {
		return Classification{Kind: KindLookups, Keys: keys, Text: text}
	}

	return Classification{Kind: KindPlainText, Text: text}
}

// ExtractKeys returns every trigger-prefixed run of ASCII letters, upper-cased,
// in order of appearance with duplicates preserved.
func ExtractKeys(text string, trigger rune) []string {
	var keys []string

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != trigger {
			continue
		}

		start := i
		for i < len(text) && isASCIILetter(text[i]) {
			i++
		}
		if i > start {
			keys = append(keys, strings.ToUpper(text[start:i]))
		}
	}

	return keys
}

func addressedTo(addressee, botName string) bool {
	botName = strings.TrimPrefix(strings.TrimSpace(botName), "@")
	return addressee == "" || botName == "" || strings.EqualFold(addressee, botName)
}

// splitCommand separates "name@bot rest" into the lower-cased name, the
// lower-cased addressee and the trimmed rest.
func splitCommand(body string) (name, addressee, rest string) {
	if body == "" || isSpace(body[0]) {
		return "", "", ""
	}

	name, rest, _ = strings.Cut(body, " ")
	if idx := strings.IndexAny(name, "\t\n\r"); idx >= 0 {
		rest = name[idx:] + " " + rest
		name = name[:idx]
	}
	name, addressee, _ = strings.Cut(name, "@")

	return strings.ToLower(name), strings.ToLower(addressee), strings.TrimSpace(rest)
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

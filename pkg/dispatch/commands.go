package dispatch

import (
	"context"
	"fmt"
	"strings"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/failure"
	"mehranbot/pkg/media"
)

const noResponseText = "No response received."

func (e *Engine) builtinCommands() []Command {
	p := e.opts.Prefix
	return []Command{
		{
			Name:        "start",
			Description: "Start the bot",
			Handler:     e.handleStart,
		},
		{
			Name:        "help",
			Description: "Show help",
			Handler:     e.handleHelp,
		},
		{
			Name:        "o",
			Aliases:     []string{"ask", "llm"},
			Args:        "<message>",
			Description: "Send a query to the local language model",
			Usage:       fmt.Sprintf("Please enter a message, e.g., %so Hello, how are you?", p),
			MinArgs:     1,
			FreeText:    true,
			Handler:     e.handleAsk,
		},
		{
			Name:        "yo",
			Aliases:     []string{"video", "download"},
			Args:        "<URL>",
			Description: "Download a video",
			Usage:       fmt.Sprintf("Please provide a URL, e.g., %syo https://www.youtube.com/watch?v=...", p),
			MinArgs:     1,
			Handler:     e.mediaHandler(media.KindVideo),
		},
		{
			Name:        "mp3",
			Aliases:     []string{"audio"},
			Args:        "<URL>",
			Description: "Download a video as MP3",
			Usage:       fmt.Sprintf("Please provide a URL, e.g., %smp3 https://www.youtube.com/watch?v=...", p),
			MinArgs:     1,
			Handler:     e.mediaHandler(media.KindAudio),
		},
		{
			Name:        "price",
			Args:        "<SYMBOL>...",
			Description: "Look up one or more prices",
			Usage:       fmt.Sprintf("Please provide at least one symbol, e.g., %sprice AAPL TSLA", p),
			MinArgs:     1,
			Handler:     e.handlePrice,
		},
	}
}

func (e *Engine) handleStart(ctx context.Context, req *Request) error {
	p := e.opts.Prefix
	t := string(e.opts.Trigger)
	return req.Reply(ctx, strings.Join([]string{
		"Hello! Welcome to Mehran Bot.",
		fmt.Sprintf("To get a stock price, type the symbol prefixed with %s, e.g., %sAAPL or %sGOOGL.", t, t, t),
		fmt.Sprintf("To talk to the language model, use %so <your message>.", p),
		fmt.Sprintf("To download a video, use %syo <URL>.", p),
		fmt.Sprintf("To download a video as MP3, use %smp3 <URL>.", p),
		fmt.Sprintf("Send %shelp to see every command.", p),
	}, "\n"))
}

func (e *Engine) handleHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range e.registry.Commands() {
		b.WriteString(e.opts.Prefix)
		b.WriteString(cmd.Name)
		if cmd.Args != "" {
			b.WriteString(" " + cmd.Args)
		}
		b.WriteString(" - " + cmd.Description)
		if len(cmd.Aliases) > 0 {
			b.WriteString(" (also " + e.opts.Prefix + strings.Join(cmd.Aliases, ", "+e.opts.Prefix) + ")")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "You can also send a stock symbol with %s to get its price.", string(e.opts.Trigger))

	return req.Reply(ctx, b.String())
}

func (e *Engine) handleAsk(ctx context.Context, req *Request) error {
	if e.deps.LLM == nil {
		return failure.New(failure.KindExternalUnavailable, "no language model configured")
	}

	answer, err := e.deps.LLM.Complete(ctx, req.Rest)
	if err != nil {
		return err
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return req.Reply(ctx, noResponseText)
	}
	return req.Reply(ctx, "Model response:\n"+answer)
}

func (e *Engine) handlePrice(ctx context.Context, req *Request) error {
	keys := make([]string, 0, len(req.Args))
	for _, arg := range req.Args {
		key := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(arg), string(e.opts.Trigger)))
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return failure.New(failure.KindUserInput, "no symbols")
	}

	return req.Reply(ctx, e.resolveLookups(ctx, req, keys))
}

func (e *Engine) mediaHandler(kind media.Kind) Handler {
	caption := "Here is your video!"
	attachmentKind := bus.AttachmentVideo
	if kind == media.KindAudio {
		caption = "Here is your MP3!"
		attachmentKind = bus.AttachmentAudio
	}

	return func(ctx context.Context, req *Request) error {
		if e.deps.Media == nil {
			return failure.New(failure.KindExternalUnavailable, "media retrieval is not configured")
		}

		rawURL := req.Args[0]
		if err := media.ValidateURL(rawURL); err != nil {
			return err
		}

		progress := newReplyProgress(req)
		outcome := e.deps.Media.FetchAndDeliver(ctx, media.Request{
			URL:       rawURL,
			Kind:      kind,
			SizeLimit: req.replier.MaxAttachmentBytes(),
		}, progress, func(ctx context.Context, artifact media.Artifact) error {
			_, err := req.replier.Send(ctx, bus.OutboundMessage{
				Channel:    req.Message.Channel,
				ChatID:     req.Message.ChatID,
				SessionKey: req.Message.SessionKey,
				Attachment: &bus.Attachment{
					Kind:    attachmentKind,
					Path:    artifact.Path,
					Caption: caption,
				},
			})
			return err
		})

		if outcome.State == media.StateCompleted {
			return nil
		}
		if progress.delivered() {
			return &notifiedError{err: outcome.Err}
		}
		// The indicator never reached the user, so the boundary replies.
		return outcome.Err
	}
}

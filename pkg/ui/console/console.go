// Package console drives the dispatch engine from a local terminal, either
// through a full-screen TUI or a plain line-oriented loop when stdin is not
// a terminal.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/channel"
	"mehranbot/pkg/logger"
)

const (
	channelName = "console"
	chatID      = "local"
	senderID    = "local"

	defaultMaxAttachmentBytes = 2 << 30
)

// Info is shown in the TUI header.
type Info struct {
	LLMBackend string
	Model      string
}

// Options configure the console transport. Zero values read stdin and write
// stdout.
type Options struct {
	In                 io.Reader
	Out                io.Writer
	SaveDir            string
	MaxAttachmentBytes int64
	// Interactive forces TUI (true) or line mode (false). Nil detects a terminal.
	Interactive *bool
	Info        Info
}

// Adapter is the local chat transport.
type Adapter struct {
	opts Options
	log  *slog.Logger
}

func NewAdapter(opts Options, log *slog.Logger) *Adapter {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.MaxAttachmentBytes <= 0 {
		opts.MaxAttachmentBytes = defaultMaxAttachmentBytes
	}

	return &Adapter{opts: opts, log: logger.Component(log, "channel.console")}
}

func (a *Adapter) Name() string {
	return channelName
}

// Run reads messages until the user exits, input ends or ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	if a.interactive() {
		return a.runTUI(ctx, handler)
	}
	return a.runLines(ctx, handler)
}

func (a *Adapter) interactive() bool {
	if a.opts.Interactive != nil {
		return *a.opts.Interactive
	}

	in, ok := a.opts.In.(*os.File)
	if !ok {
		return false
	}
	out, ok := a.opts.Out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(in.Fd())) && term.IsTerminal(int(out.Fd()))
}

func (a *Adapter) runTUI(ctx context.Context, handler channel.Handler) error {
	var program *tea.Program
	r := newReplier(func(msg replyMsg) { program.Send(msg) }, a.opts.MaxAttachmentBytes, a.opts.SaveDir)

	m := newModel(ctx, handler, r, a.opts.Info)
	program = tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(a.opts.In),
		tea.WithOutput(a.opts.Out),
		tea.WithMouseCellMotion(),
	)

	if _, err := program.Run(); err != nil {
		if ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return fmt.Errorf("run console ui: %w", err)
	}

	fmt.Fprintln(a.opts.Out, renderGoodbyeBanner())
	return nil
}

func (a *Adapter) runLines(ctx context.Context, handler channel.Handler) error {
	var mu sync.Mutex
	printReply := func(msg replyMsg) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(a.opts.Out, formatLine(msg))
	}
	r := newReplier(printReply, a.opts.MaxAttachmentBytes, a.opts.SaveDir)

	scanner := bufio.NewScanner(a.opts.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if isExitCommand(text) {
			return nil
		}

		if err := handler(ctx, inboundMessage(text), r); err != nil {
			return fmt.Errorf("handle console message: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read console input: %w", err)
	}
	return nil
}

func inboundMessage(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    channelName,
		SenderID:   senderID,
		ChatID:     chatID,
		SessionKey: channel.SessionKey(channelName, chatID),
		Content:    text,
	}
}

// formatLine renders a reply for line mode. Edits are printed as new lines
// since the previous output cannot be rewritten.
func formatLine(msg replyMsg) string {
	switch msg.kind {
	case replyEdit:
		return "bot> " + msg.text
	case replyDelete:
		return "bot> (message " + msg.ref.MessageID + " removed)"
	}

	if msg.attachment != nil {
		return "bot> " + describeAttachment(msg)
	}
	return "bot> " + msg.text
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}

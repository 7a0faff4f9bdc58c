package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"mehranbot/pkg/bus"
)

type replyKind int

const (
	replySend replyKind = iota
	replyEdit
	replyDelete
)

// replyMsg is one transport operation rendered by the TUI or line printer.
type replyMsg struct {
	kind       replyKind
	ref        bus.MessageRef
	text       string
	attachment *bus.Attachment
	savedPath  string
}

// replier turns bus replies into replyMsg values for a renderer.
type replier struct {
	emit     func(replyMsg)
	nextID   atomic.Int64
	chatID   string
	maxBytes int64
	saveDir  string
}

func newReplier(emit func(replyMsg), maxBytes int64, saveDir string) *replier {
	return &replier{emit: emit, chatID: chatID, maxBytes: maxBytes, saveDir: saveDir}
}

func (r *replier) Send(_ context.Context, msg bus.OutboundMessage) (bus.MessageRef, error) {
	if msg.Attachment == nil && msg.Content == "" {
		return bus.MessageRef{}, errors.New("empty message")
	}

	out := replyMsg{kind: replySend, text: msg.Content}
	if msg.Attachment != nil {
		saved, err := r.keep(*msg.Attachment)
		if err != nil {
			return bus.MessageRef{}, err
		}
		attachment := *msg.Attachment
		out.attachment = &attachment
		out.savedPath = saved
	}

	out.ref = bus.MessageRef{ChatID: r.chatID, MessageID: strconv.FormatInt(r.nextID.Add(1), 10)}
	r.emit(out)
	return out.ref, nil
}

func (r *replier) Edit(_ context.Context, ref bus.MessageRef, text string) error {
	if ref.MessageID == "" {
		return errors.New("console message id is required")
	}
	r.emit(replyMsg{kind: replyEdit, ref: ref, text: text})
	return nil
}

func (r *replier) Delete(_ context.Context, ref bus.MessageRef) error {
	if ref.MessageID == "" {
		return errors.New("console message id is required")
	}
	r.emit(replyMsg{kind: replyDelete, ref: ref})
	return nil
}

func (r *replier) MaxAttachmentBytes() int64 {
	return r.maxBytes
}

// keep copies an attachment out of its temporary workspace when a save
// directory is configured.
func (r *replier) keep(attachment bus.Attachment) (string, error) {
	if r.saveDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(r.saveDir, 0o755); err != nil {
		return "", fmt.Errorf("create save dir: %w", err)
	}

	src, err := os.Open(attachment.Path)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer src.Close()

	target := filepath.Join(r.saveDir, filepath.Base(attachment.Path))
	dst, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("copy attachment: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", target, err)
	}

	return target, nil
}

func describeAttachment(msg replyMsg) string {
	line := fmt.Sprintf("[%s] %s", msg.attachment.Kind, filepath.Base(msg.attachment.Path))
	if msg.attachment.Caption != "" {
		line = msg.attachment.Caption + " " + line
	}
	if msg.savedPath != "" {
		return line + " saved to " + msg.savedPath
	}
	return line + " (not saved, use --save-dir to keep files)"
}

package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/logger"
)

func lineMode() *bool {
	v := false
	return &v
}

func TestRunLinesRepliesInOrder(t *testing.T) {
	var out bytes.Buffer
	adapter := NewAdapter(Options{
		In:          strings.NewReader("hello\n\n/help\nquit\nignored\n"),
		Out:         &out,
		Interactive: lineMode(),
	}, logger.Discard())

	var seen []string
	err := adapter.Run(context.Background(), func(ctx context.Context, msg bus.InboundMessage, r bus.Replier) error {
		seen = append(seen, msg.Content)
		_, err := r.Send(ctx, bus.OutboundMessage{Content: "You wrote: " + msg.Content})
		return err
	})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}

	if strings.Join(seen, "|") != "hello|/help" {
		t.Fatalf("seen = %q, want messages before quit", seen)
	}
	want := "bot> You wrote: hello\nbot> You wrote: /help\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestRunLinesPrintsEditsAndAttachments(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(src, []byte("video"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	saveDir := filepath.Join(t.TempDir(), "saved")

	var out bytes.Buffer
	adapter := NewAdapter(Options{
		In:          strings.NewReader("/yo https://example.com/v\n"),
		Out:         &out,
		SaveDir:     saveDir,
		Interactive: lineMode(),
	}, logger.Discard())

	err := adapter.Run(context.Background(), func(ctx context.Context, _ bus.InboundMessage, r bus.Replier) error {
		ref, err := r.Send(ctx, bus.OutboundMessage{Content: "Downloading video…"})
		if err != nil {
			return err
		}
		if _, err := r.Send(ctx, bus.OutboundMessage{Attachment: &bus.Attachment{Kind: bus.AttachmentVideo, Path: src, Caption: "Here is your video!"}}); err != nil {
			return err
		}
		return r.Edit(ctx, ref, "Upload complete.")
	})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q, want 3", lines)
	}
	if !strings.Contains(lines[1], "Here is your video! [video] clip.mp4 saved to") {
		t.Fatalf("attachment line = %q", lines[1])
	}
	if lines[2] != "bot> Upload complete." {
		t.Fatalf("edit line = %q", lines[2])
	}

	data, err := os.ReadFile(filepath.Join(saveDir, "clip.mp4"))
	if err != nil || string(data) != "video" {
		t.Fatalf("saved file = %q, %v", data, err)
	}
}

func TestReplierRejectsEmptyMessage(t *testing.T) {
	r := newReplier(func(replyMsg) {}, 10, "")

	if _, err := r.Send(context.Background(), bus.OutboundMessage{}); err == nil {
		t.Fatal("expected error for empty message")
	}
	if err := r.Edit(context.Background(), bus.MessageRef{}, "x"); err == nil {
		t.Fatal("expected error for missing message id")
	}
	if r.MaxAttachmentBytes() != 10 {
		t.Fatalf("MaxAttachmentBytes = %d, want 10", r.MaxAttachmentBytes())
	}
}

func TestRenderAnswerContainsBothSides(t *testing.T) {
	rendered := RenderAnswer("What is Go?", "A language.", 80)
	if !strings.Contains(rendered, "What is Go?") || !strings.Contains(rendered, "A language.") {
		t.Fatalf("rendered = %q", rendered)
	}
}

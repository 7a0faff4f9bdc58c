package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "categorized", err: New(KindUserInput, "missing url"), want: KindUserInput},
		{name: "wrapped categorized", err: fmt.Errorf("handler: %w", New(KindResourceLimit, "too big")), want: KindResourceLimit},
		{name: "deadline", err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), want: KindExternalTimeout},
		{name: "plain", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindExternalUnavailable, cause, "price lookup")

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to match cause")
	}
	if got := err.Error(); got != "external_unavailable: price lookup: connection refused" {
		t.Fatalf("Error() = %q", got)
	}
	if Wrap(KindInternal, nil, "ignored") != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(New(KindUserInput, "Please provide a URL.")); got != "Please provide a URL." {
		t.Fatalf("user input message = %q", got)
	}
	if got := UserMessage(Wrap(KindExternalTimeout, errors.New("slow"), "llm")); got != timeoutMessage {
		t.Fatalf("timeout message = %q", got)
	}
	if got := UserMessage(Wrap(KindExternalUnavailable, errors.New("down"), "secret detail")); got != unavailableMessage {
		t.Fatalf("unavailable message = %q", got)
	}
	if got := UserMessage(errors.New("nil pointer somewhere")); got != internalMessage {
		t.Fatalf("internal message = %q", got)
	}
}

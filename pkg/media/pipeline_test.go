package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mehranbot/pkg/failure"
	"mehranbot/pkg/logger"
)

type fakeRetriever struct {
	size    int
	err     error
	panics  bool
	outside string
	dirs    []string
}

func (f *fakeRetriever) Fetch(_ context.Context, _ string, kind Kind, dir string) (string, error) {
	f.dirs = append(f.dirs, dir)
	if f.panics {
		panic("retriever exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	if f.outside != "" {
		return f.outside, nil
	}

	name := "clip.mp4"
	if kind == KindAudio {
		name = "clip.mp3"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, f.size), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

type recordingProgress struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingProgress) Update(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recordingProgress) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

func newTestPipeline(t *testing.T, retriever Retriever) (*Pipeline, *Store) {
	t.Helper()

	store, err := NewStore(t.TempDir(), logger.Discard())
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}
	return NewPipeline(store, retriever, logger.Discard()), store
}

func assertRootEmpty(t *testing.T, store *Store) {
	t.Helper()

	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Fatalf("download root not empty: %v", names)
	}
}

func TestFetchAndDeliverSuccess(t *testing.T) {
	retriever := &fakeRetriever{size: 1024}
	pipeline, store := newTestPipeline(t, retriever)
	progress := &recordingProgress{}

	var delivered Artifact
	var existedDuringDelivery bool
	outcome := pipeline.FetchAndDeliver(context.Background(),
		Request{URL: "https://example.com/v", Kind: KindVideo, SizeLimit: 4096},
		progress,
		func(_ context.Context, artifact Artifact) error {
			delivered = artifact
			_, err := os.Stat(artifact.Path)
			existedDuringDelivery = err == nil
			return nil
		})

	if outcome.State != StateCompleted || outcome.Reason != ReasonNone || outcome.Err != nil {
		t.Fatalf("outcome = %+v, want completed", outcome)
	}
	if delivered.Size != 1024 || delivered.Kind != KindVideo {
		t.Fatalf("delivered = %+v, want 1024-byte video", delivered)
	}
	if !existedDuringDelivery {
		t.Fatal("artifact missing during delivery")
	}
	want := []string{"Downloading video…", "Download complete, uploading…", "Upload complete."}
	if strings.Join(progress.texts, "|") != strings.Join(want, "|") {
		t.Fatalf("progress = %q, want %q", progress.texts, want)
	}
	assertRootEmpty(t, store)
}

func TestFetchAndDeliverTooLarge(t *testing.T) {
	pipeline, store := newTestPipeline(t, &fakeRetriever{size: 2 * 1024 * 1024})
	progress := &recordingProgress{}
	delivered := false

	outcome := pipeline.FetchAndDeliver(context.Background(),
		Request{URL: "https://example.com/v", Kind: KindAudio, SizeLimit: 1024 * 1024},
		progress,
		func(context.Context, Artifact) error {
			delivered = true
			return nil
		})

	if outcome.State != StateFailed || outcome.Reason != ReasonTooLarge {
		t.Fatalf("outcome = %+v, want too large", outcome)
	}
	if delivered {
		t.Fatal("oversized artifact was delivered")
	}
	if got := failure.KindOf(outcome.Err); got != failure.KindResourceLimit {
		t.Fatalf("kind = %q, want %q", got, failure.KindResourceLimit)
	}
	if got := progress.last(); got != "File too large to upload (2.0 MB, limit 1.0 MB)." {
		t.Fatalf("last progress = %q", got)
	}
	assertRootEmpty(t, store)
}

func TestFetchAndDeliverRetrievalFailure(t *testing.T) {
	retriever := &fakeRetriever{err: failure.New(failure.KindExternalUnavailable, "exit 1")}
	pipeline, store := newTestPipeline(t, retriever)
	progress := &recordingProgress{}

	outcome := pipeline.FetchAndDeliver(context.Background(),
		Request{URL: "https://example.com/v", Kind: KindVideo}, progress, nil)

	if outcome.Reason != ReasonRetrievalFailed {
		t.Fatalf("reason = %q, want %q", outcome.Reason, ReasonRetrievalFailed)
	}
	if got := progress.last(); !strings.Contains(got, "failed") {
		t.Fatalf("last progress = %q, want failure text", got)
	}
	assertRootEmpty(t, store)
}

func TestFetchAndDeliverRetrievalTimeout(t *testing.T) {
	retriever := &fakeRetriever{err: failure.New(failure.KindExternalTimeout, "process timed out")}
	pipeline, _ := newTestPipeline(t, retriever)
	progress := &recordingProgress{}

	pipeline.FetchAndDeliver(context.Background(), Request{URL: "https://example.com/v", Kind: KindVideo}, progress, nil)

	if got := progress.last(); got != "Download failed: the download timed out." {
		t.Fatalf("last progress = %q", got)
	}
}

func TestFetchAndDeliverRejectsPathOutsideWorkspace(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "elsewhere.mp4")
	if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	pipeline, _ := newTestPipeline(t, &fakeRetriever{outside: outside})

	outcome := pipeline.FetchAndDeliver(context.Background(),
		Request{URL: "https://example.com/v", Kind: KindVideo}, nil,
		func(context.Context, Artifact) error { return nil })

	if outcome.Reason != ReasonRetrievalFailed {
		t.Fatalf("reason = %q, want %q", outcome.Reason, ReasonRetrievalFailed)
	}
}

func TestFetchAndDeliverDeliveryError(t *testing.T) {
	pipeline, store := newTestPipeline(t, &fakeRetriever{size: 10})
	progress := &recordingProgress{}

	outcome := pipeline.FetchAndDeliver(context.Background(),
		Request{URL: "https://example.com/v", Kind: KindVideo}, progress,
		func(context.Context, Artifact) error { return errors.New("network down") })

	if outcome.Reason != ReasonDeliveryFailed {
		t.Fatalf("reason = %q, want %q", outcome.Reason, ReasonDeliveryFailed)
	}
	if got := progress.last(); got != "Upload failed, please try again later." {
		t.Fatalf("last progress = %q", got)
	}
	assertRootEmpty(t, store)
}

func TestFetchAndDeliverDeliveryPanic(t *testing.T) {
	pipeline, store := newTestPipeline(t, &fakeRetriever{size: 10})

	outcome := pipeline.FetchAndDeliver(context.Background(),
		Request{URL: "https://example.com/v", Kind: KindVideo}, nil,
		func(context.Context, Artifact) error { panic("upload exploded") })

	if outcome.Reason != ReasonDeliveryFailed {
		t.Fatalf("reason = %q, want %q", outcome.Reason, ReasonDeliveryFailed)
	}
	if got := failure.KindOf(outcome.Err); got != failure.KindInternal {
		t.Fatalf("kind = %q, want %q", got, failure.KindInternal)
	}
	assertRootEmpty(t, store)
}

func TestFetchAndDeliverReleasesOnRetrieverPanic(t *testing.T) {
	retriever := &fakeRetriever{panics: true}
	pipeline, store := newTestPipeline(t, retriever)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		pipeline.FetchAndDeliver(context.Background(), Request{URL: "https://example.com/v", Kind: KindVideo}, nil, nil)
	}()

	if len(retriever.dirs) != 1 {
		t.Fatalf("retriever calls = %d, want 1", len(retriever.dirs))
	}
	assertRootEmpty(t, store)
}

func TestConcurrentRunsUseDistinctDirectories(t *testing.T) {
	store, err := NewStore(t.TempDir(), logger.Discard())
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}

	first, err := store.Acquire()
	if err != nil {
		t.Fatalf("Acquire error = %v", err)
	}
	second, err := store.Acquire()
	if err != nil {
		t.Fatalf("Acquire error = %v", err)
	}
	defer first.Release()
	defer second.Release()

	if first.Dir() == second.Dir() {
		t.Fatalf("workspaces share directory %q", first.Dir())
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{input: "https://www.youtube.com/watch?v=abc", ok: true},
		{input: "http://example.com/clip", ok: true},
		{input: "ftp://example.com/clip"},
		{input: "not a url"},
		{input: "https://"},
		{input: ""},
	}

	for _, tt := range tests {
		err := ValidateURL(tt.input)
		if (err == nil) != tt.ok {
			t.Fatalf("ValidateURL(%q) error = %v, want ok=%v", tt.input, err, tt.ok)
		}
		if err != nil && failure.KindOf(err) != failure.KindUserInput {
			t.Fatalf("ValidateURL(%q) kind = %q, want user input", tt.input, failure.KindOf(err))
		}
	}
}

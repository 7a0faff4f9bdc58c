package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/cache"
	"mehranbot/pkg/logger"
	"mehranbot/pkg/media"
	"mehranbot/pkg/price"
)

type recordingReplier struct {
	mu       sync.Mutex
	maxBytes int64
	failEdit bool
	failSend bool

	sent    []bus.OutboundMessage
	edits   []string
	deletes []bus.MessageRef
	nextID  int
}

func (r *recordingReplier) Send(_ context.Context, msg bus.OutboundMessage) (bus.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSend {
		return bus.MessageRef{}, errors.New("transport down")
	}
	r.nextID++
	r.sent = append(r.sent, msg)
	return bus.MessageRef{ChatID: msg.ChatID, MessageID: strconv.Itoa(r.nextID)}, nil
}

func (r *recordingReplier) Edit(_ context.Context, _ bus.MessageRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failEdit {
		return errors.New("edit not supported")
	}
	r.edits = append(r.edits, text)
	return nil
}

func (r *recordingReplier) Delete(_ context.Context, ref bus.MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, ref)
	return nil
}

func (r *recordingReplier) MaxAttachmentBytes() int64 {
	return r.maxBytes
}

func (r *recordingReplier) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, msg := range r.sent {
		if msg.Attachment == nil {
			out = append(out, msg.Content)
		}
	}
	return out
}

func (r *recordingReplier) attachments() []bus.Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Attachment
	for _, msg := range r.sent {
		if msg.Attachment != nil {
			out = append(out, *msg.Attachment)
		}
	}
	return out
}

func (r *recordingReplier) editTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.edits...)
}

type quote struct {
	value float64
	err   error
}

type fakePrices struct {
	quotes map[string]quote
	calls  atomic.Int64
}

func (f *fakePrices) Fetch(_ context.Context, symbol string) (float64, error) {
	f.calls.Add(1)
	q, ok := f.quotes[symbol]
	if !ok {
		return 0, price.ErrUnknownSymbol
	}
	return q.value, q.err
}

type fakeLLM struct {
	answer string
	err    error
	panics bool

	mu      sync.Mutex
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	if f.panics {
		panic("model exploded")
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.answer, f.err
}

type fakeRetriever struct {
	size int
	err  error
}

func (f *fakeRetriever) Fetch(_ context.Context, _ string, _ media.Kind, dir string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(dir, "clip.bin")
	if err := writeZeros(path, f.size); err != nil {
		return "", err
	}
	return path, nil
}

type testEnv struct {
	engine  *Engine
	prices  *fakePrices
	llm     *fakeLLM
	store   *media.Store
	bus     *bus.MessageBus
	replier *recordingReplier
}

func newTestEnv(t testing.TB, retriever media.Retriever) *testEnv {
	t.Helper()

	prices := &fakePrices{quotes: map[string]quote{
		"TSLA": {value: 250.14},
		"AAPL": {value: 187.4499969482422},
		"BUSY": {err: price.ErrRateLimited},
		"BOOM": {err: errors.New("connection reset")},
	}}
	llm := &fakeLLM{answer: "42"}

	store, err := media.NewStore(t.TempDir(), logger.Discard())
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}
	if retriever == nil {
		retriever = &fakeRetriever{size: 16}
	}

	lookupCache, err := cache.New[float64](cache.Options{})
	if err != nil {
		t.Fatalf("cache.New error = %v", err)
	}

	messageBus := bus.NewMessageBus(16)
	engine, err := New(Deps{
		Prices: prices,
		LLM:    llm,
		Media:  media.NewPipeline(store, retriever, logger.Discard()),
		Cache:  lookupCache,
		Log:    logger.Discard(),
		Bus:    messageBus,
	}, Options{})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	return &testEnv{
		engine:  engine,
		prices:  prices,
		llm:     llm,
		store:   store,
		bus:     messageBus,
		replier: &recordingReplier{maxBytes: 1024},
	}
}

func (env *testEnv) send(text string) {
	env.engine.OnMessage(context.Background(), bus.InboundMessage{
		Channel:  "test",
		SenderID: "u1",
		ChatID:   "c1",
		Content:  text,
	}, env.replier)
}

func writeZeros(path string, size int) error {
	return os.WriteFile(path, make([]byte, size), 0o600)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/cache"
	"mehranbot/pkg/channel"
	"mehranbot/pkg/config"
	"mehranbot/pkg/logger"
)

type stubEngine struct {
	inFlight int64
	stats    cache.Stats
}

func (e *stubEngine) Run(ctx context.Context, _ int) error {
	<-ctx.Done()
	return nil
}

func (e *stubEngine) InFlight() int64 {
	return e.inFlight
}

func (e *stubEngine) CacheStats() cache.Stats {
	return e.stats
}

type idleAdapter struct{ name string }

func (a idleAdapter) Name() string { return a.name }

func (a idleAdapter) Run(ctx context.Context, _ channel.Handler) error {
	<-ctx.Done()
	return nil
}

func newTestService(t *testing.T, engine Engine) *Service {
	t.Helper()

	svc, err := NewService(&config.Config{}, []channel.Adapter{idleAdapter{name: "telegram"}}, Deps{
		Engine: engine,
		Bus:    bus.NewMessageBus(4),
	}, logger.Discard())
	if err != nil {
		t.Fatalf("NewService error = %v", err)
	}
	return svc
}

func TestNewServiceValidatesDeps(t *testing.T) {
	t.Parallel()

	adapters := []channel.Adapter{idleAdapter{name: "telegram"}}
	tests := []struct {
		name     string
		cfg      *config.Config
		adapters []channel.Adapter
		deps     Deps
	}{
		{name: "nil config", adapters: adapters, deps: Deps{Engine: &stubEngine{}, Bus: bus.NewMessageBus(1)}},
		{name: "no adapters", cfg: &config.Config{}, deps: Deps{Engine: &stubEngine{}, Bus: bus.NewMessageBus(1)}},
		{name: "no engine", cfg: &config.Config{}, adapters: adapters, deps: Deps{Bus: bus.NewMessageBus(1)}},
		{name: "no bus", cfg: &config.Config{}, adapters: adapters, deps: Deps{Engine: &stubEngine{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(tt.cfg, tt.adapters, tt.deps, logger.Discard()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStatusBoardReadiness(t *testing.T) {
	t.Parallel()

	board := newStatusBoard("telegram", "discord")
	if board.ready() {
		t.Fatal("expected not ready without a running channel")
	}

	board.setChannel("discord", true, nil)
	if !board.ready() {
		t.Fatal("expected ready with one running channel")
	}

	board.recordLLM(errors.New("ollama down"), time.Now())
	if !board.ready() {
		t.Fatal("expected LLM errors not to gate readiness")
	}

	board.setChannel("discord", false, errors.New("gateway closed"))
	if board.ready() {
		t.Fatal("expected not ready after the last channel stopped")
	}
	if got := board.report("not_ready", 0).Channels["discord"].Error; got != "gateway closed" {
		t.Fatalf("discord error = %q, want %q", got, "gateway closed")
	}
}

func TestStatusBoardRecordLLMReportsTransitions(t *testing.T) {
	t.Parallel()

	board := newStatusBoard("telegram")
	steps := []struct {
		err         error
		wantChanged bool
	}{
		{err: nil, wantChanged: false},
		{err: errors.New("down"), wantChanged: true},
		{err: errors.New("still down"), wantChanged: false},
		{err: nil, wantChanged: true},
	}
	for i, step := range steps {
		if got := board.recordLLM(step.err, time.Now()); got != step.wantChanged {
			t.Fatalf("step %d changed = %v, want %v", i, got, step.wantChanged)
		}
	}
}

func TestHandlerServesStatusAndMetrics(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{inFlight: 2, stats: cache.Stats{Hits: 5, Misses: 3}}
	svc := newTestService(t, engine)
	svc.board.setChannel("telegram", true, nil)
	svc.metrics.observe(bus.Event{
		Type:    bus.EventCommandFailed,
		Payload: map[string]string{bus.PayloadCommand: "price", bus.PayloadKind: "external_timeout", bus.PayloadDuration: "1500"},
	})

	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	var status statusReport
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || status.Status != "ready" {
		t.Fatalf("readyz = %d %q, want 200 ready", resp.StatusCode, status.Status)
	}
	if status.InFlight != 2 {
		t.Fatalf("in_flight = %d, want 2", status.InFlight)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, want := range []string{
		`mehranbot_dispatch_messages_total{command="price",outcome="external_timeout"} 1`,
		`mehranbot_price_cache_hits_total 5`,
		`mehranbot_price_cache_misses_total 3`,
		`mehranbot_dispatch_in_flight 2`,
		`mehranbot_dispatch_duration_seconds_count{command="price"} 1`,
		`mehranbot_bus_queued_messages 0`,
		`mehranbot_bus_dropped_events_total 0`,
	} {
		if !strings.Contains(body.String(), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestMetricsIgnoreReceivedEvents(t *testing.T) {
	t.Parallel()

	mb := bus.NewMessageBus(1)
	t.Cleanup(mb.Close)
	m := newMetrics(&stubEngine{}, mb)
	m.observe(bus.Event{Type: bus.EventMessageReceived, Payload: map[string]string{bus.PayloadCommand: "help"}})
	m.observe(bus.Event{Type: bus.EventCommandCompleted, Payload: map[string]string{bus.PayloadCommand: "help"}})

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Gather error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != "mehranbot_dispatch_messages_total" {
			continue
		}
		if got := len(family.GetMetric()); got != 1 {
			t.Fatalf("series = %d, want 1", got)
		}
		if got := family.GetMetric()[0].GetCounter().GetValue(); got != 1 {
			t.Fatalf("counter = %v, want 1", got)
		}
		return
	}
	t.Fatal("dispatch counter not gathered")
}

func TestEnqueueFailsWhenBusClosed(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &stubEngine{})
	svc.bus.Close()

	if err := svc.enqueue(context.Background(), bus.InboundMessage{Content: "hi"}, nil); err == nil {
		t.Fatal("expected error after bus close")
	}
}

func TestCheckLLMHealthTracksRecovery(t *testing.T) {
	t.Parallel()

	health := &toggledHealth{}
	svc := newTestService(t, &stubEngine{})
	svc.llm = health

	health.set(context.DeadlineExceeded)
	svc.checkLLMHealth(context.Background())
	if svc.board.report("ok", 0).LLMLastErr == "" {
		t.Fatal("expected LLM error to be recorded")
	}

	health.set(nil)
	svc.checkLLMHealth(context.Background())
	status := svc.board.report("ok", 0)
	if status.LLMLastErr != "" || status.LLMLastOKAt == "" {
		t.Fatalf("status = %+v, want recovered", status)
	}
	if _, err := time.Parse(time.RFC3339, status.LLMLastOKAt); err != nil {
		t.Fatalf("llm_last_ok_at = %q: %v", status.LLMLastOKAt, err)
	}
}

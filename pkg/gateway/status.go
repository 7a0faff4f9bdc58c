package gateway

import (
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"time"
)

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusReport struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	InFlight      int64                   `json:"in_flight"`
	LLMLastOKAt   string                  `json:"llm_last_ok_at,omitempty"`
	LLMLastErr    string                  `json:"llm_last_error,omitempty"`
	Channels      map[string]channelState `json:"channels"`
}

// statusBoard is the mutable state behind /healthz and /readyz.
type statusBoard struct {
	mu        sync.RWMutex
	startedAt time.Time
	channels  map[string]channelState
	llmOKAt   time.Time
	llmErr    string
}

func newStatusBoard(channelNames ...string) *statusBoard {
	b := &statusBoard{channels: make(map[string]channelState, len(channelNames))}
	for _, name := range channelNames {
		b.channels[name] = channelState{}
	}
	return b
}

func (b *statusBoard) markStarted(at time.Time) {
	b.mu.Lock()
	b.startedAt = at.UTC()
	b.mu.Unlock()
}

func (b *statusBoard) setChannel(name string, running bool, err error) {
	state := channelState{Running: running}
	if err != nil {
		state.Error = err.Error()
	}

	b.mu.Lock()
	b.channels[name] = state
	b.mu.Unlock()
}

// recordLLM stores a health probe result and reports whether the backend
// changed between healthy and unhealthy.
func (b *statusBoard) recordLLM(err error, at time.Time) (changed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasHealthy := b.llmErr == ""
	if err != nil {
		b.llmErr = err.Error()
		return wasHealthy
	}
	b.llmErr = ""
	b.llmOKAt = at.UTC()
	return !wasHealthy
}

// ready is true while at least one channel runs. LLM health is reported but
// does not gate readiness: prices, echo and media work without it.
func (b *statusBoard) ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, state := range b.channels {
		if state.Running {
			return true
		}
	}
	return false
}

func (b *statusBoard) report(status string, inFlight int64) statusReport {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r := statusReport{
		Status:     status,
		InFlight:   inFlight,
		LLMLastErr: b.llmErr,
		Channels:   maps.Clone(b.channels),
	}
	if !b.startedAt.IsZero() {
		r.UptimeSeconds = int64(time.Since(b.startedAt).Seconds())
	}
	if !b.llmOKAt.IsZero() {
		r.LLMLastOKAt = b.llmOKAt.Format(time.RFC3339)
	}
	return r
}

// probeHandler answers with the status report; failing probes get 503 and
// the notOK status word.
func (s *Service) probeHandler(probe func() bool, ok, notOK string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		code, word := http.StatusOK, ok
		if !probe() {
			code, word = http.StatusServiceUnavailable, notOK
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(s.board.report(word, s.engine.InFlight())); err != nil {
			s.log.Error("Failed to write status response", "error", err)
		}
	}
}

func alwaysOK() bool { return true }

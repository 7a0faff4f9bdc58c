package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// LogEntry is one JSON log line.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// jsonHandler writes LogEntry lines. Attributes bound with WithAttrs are
// flattened once, under the group prefix active at bind time.
type jsonHandler struct {
	out       *lockedWriter
	level     slog.Leveler
	addSource bool

	prefix    string
	component string
	requestID string
	bound     map[string]any
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) writeLine(line []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(append(line, '\n'))
	return err
}

func newJSONHandler(w io.Writer, level slog.Leveler, addSource bool) *jsonHandler {
	return &jsonHandler{out: &lockedWriter{w: w}, level: level, addSource: addSource}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *jsonHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := LogEntry{
		Level:     levelName(record.Level),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Component: h.component,
		RequestID: h.requestID,
		Message:   record.Message,
	}

	fields := maps.Clone(h.bound)
	if fields == nil {
		fields = make(map[string]any, record.NumAttrs())
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.collect(&entry, fields, attr)
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}

	if h.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		if frame.File != "" {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	return h.out.writeLine(line)
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.bound = maps.Clone(h.bound)
	if next.bound == nil {
		next.bound = make(map[string]any, len(attrs))
	}

	var scratch LogEntry
	for _, attr := range attrs {
		next.collect(&scratch, next.bound, attr)
	}
	if scratch.Component != "" {
		next.component = scratch.Component
	}
	if scratch.RequestID != "" {
		next.requestID = scratch.RequestID
	}
	return &next
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// collect stores attr in fields, lifting the well-known ungrouped keys onto entry.
func (h *jsonHandler) collect(entry *LogEntry, fields map[string]any, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if h.prefix == "" && attr.Value.Kind() == slog.KindString {
		switch attr.Key {
		case KeyComponent:
			entry.Component = attr.Value.String()
			return
		case KeyRequestID:
			entry.RequestID = attr.Value.String()
			return
		}
	}

	fields[h.prefix+attr.Key] = plainValue(attr.Value)
}

func levelName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// plainValue converts a slog value into something encoding/json renders readably.
func plainValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := value.Group()
		out := make(map[string]any, len(group))
		for _, member := range group {
			out[member.Key] = plainValue(member.Value.Resolve())
		}
		return out
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			return v.Error()
		case fmt.Stringer:
			return v.String()
		default:
			return v
		}
	default:
		return value.Any()
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"mehranbot/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	Component(log, "dispatch.engine").Info("Command completed", KeyRequestID, "42", "command", "price", "ok", true)

	entry := decodeEntry(t, out.String())

	if entry.Level != "info" {
		t.Fatalf("level = %q, want %q", entry.Level, "info")
	}
	if entry.Message != "Command completed" {
		t.Fatalf("message = %q, want %q", entry.Message, "Command completed")
	}
	if entry.Component != "dispatch.engine" {
		t.Fatalf("component = %q, want %q", entry.Component, "dispatch.engine")
	}
	if entry.RequestID != "42" {
		t.Fatalf("request_id = %q, want %q", entry.RequestID, "42")
	}
	if entry.Timestamp == "" {
		t.Fatal("expected timestamp")
	}
	if got := entry.Fields["command"]; got != "price" {
		t.Fatalf("fields.command = %v, want %q", got, "price")
	}
	if got := entry.Fields["ok"]; got != true {
		t.Fatalf("fields.ok = %v, want true", got)
	}
}

func TestLoggerJSONErrorField(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Warn("Fetch failed", "error", errors.New("boom"))

	entry := decodeEntry(t, out.String())
	if got := entry.Fields["error"]; got != "boom" {
		t.Fatalf("fields.error = %v, want %q", got, "boom")
	}
}

func TestLoggerJSONGroupsPrefixLaterAttrs(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("chat", "7").WithGroup("quote").With("symbol", "TSLA").Info("Fetched", "price", 250.14)

	entry := decodeEntry(t, out.String())
	for key, want := range map[string]any{"chat": "7", "quote.symbol": "TSLA", "quote.price": 250.14} {
		if got := entry.Fields[key]; got != want {
			t.Fatalf("fields[%q] = %v, want %v", key, got, want)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	clearLoggingEnv(t)
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envLogFormat, "TEXT")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func TestLoggerRejectsUnknownSettings(t *testing.T) {
	clearLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if _, err := newWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported level")
	}
}

func decodeEntry(t *testing.T, raw string) LogEntry {
	t.Helper()

	line := strings.TrimSpace(raw)
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	return entry
}

func clearLoggingEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envLogLevel, "")
	t.Setenv(envLogFormat, "")
	t.Setenv(envLogAddSource, "")
}

// Package logger builds the process-wide slog logger: charm text output for
// terminals, one JSON object per line for log shippers.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"mehranbot/pkg/config"
)

const (
	envLogLevel     = "MEHRANBOT_LOG_LEVEL"
	envLogFormat    = "MEHRANBOT_LOG_FORMAT"
	envLogAddSource = "MEHRANBOT_LOG_ADD_SOURCE"

	formatText = "text"
	formatJSON = "json"
)

// Attribute keys lifted out of the free-form fields in JSON entries.
const (
	KeyComponent = "component"
	KeyRequestID = "request_id"
)

var levelNames = map[string]slog.Level{
	"":        slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

var charmLevels = map[slog.Level]charmLog.Level{
	slog.LevelDebug: charmLog.DebugLevel,
	slog.LevelInfo:  charmLog.InfoLevel,
	slog.LevelWarn:  charmLog.WarnLevel,
	slog.LevelError: charmLog.ErrorLevel,
}

// settings is LoggingConfig after environment overrides.
type settings struct {
	format    string
	level     slog.Level
	addSource bool
}

// New builds the process logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

// Component tags a logger with the package-level component name.
func Component(log *slog.Logger, name string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With(KeyComponent, name)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if s.format == formatJSON {
		return slog.New(newJSONHandler(w, s.level, s.addSource)), nil
	}

	return slog.New(charmLog.NewWithOptions(w, charmLog.Options{
		Level:           charmLevels[s.level],
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		Formatter:       charmLog.TextFormatter,
	})), nil
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	s := settings{
		format:    setting(envLogFormat, cfg.Format),
		addSource: cfg.AddSource,
	}

	switch s.format {
	case "":
		s.format = formatText
	case formatText, formatJSON:
	default:
		return settings{}, fmt.Errorf("unsupported log format %q", s.format)
	}

	levelText := setting(envLogLevel, cfg.Level)
	level, ok := levelNames[levelText]
	if !ok {
		return settings{}, fmt.Errorf("unsupported log level %q", levelText)
	}
	s.level = level

	if raw := setting(envLogAddSource, ""); raw != "" {
		s.addSource = raw == "1" || raw == "true" || raw == "yes" || raw == "on"
	}
	return s, nil
}

// setting returns the lower-cased environment value for key, else fallback.
func setting(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		value = strings.TrimSpace(fallback)
	}
	return strings.ToLower(value)
}

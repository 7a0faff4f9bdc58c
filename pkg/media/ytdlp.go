package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mehranbot/pkg/failure"
	"mehranbot/pkg/logger"
	"mehranbot/pkg/process"
)

const (
	DefaultYTDLPCommand = "yt-dlp"
	defaultFetchTimeout = 10 * time.Minute

	outputTemplate = "%(title).80s [%(id)s].%(ext)s"
	videoFormat    = "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/bv*+ba/b"
)

// Retriever downloads url into dir and returns the resulting file path.
type Retriever interface {
	Fetch(ctx context.Context, url string, kind Kind, dir string) (string, error)
}

// YTDLP retrieves media with the yt-dlp executable.
type YTDLP struct {
	runner  *process.Runner
	command string
	timeout time.Duration
	log     *slog.Logger
}

// NewYTDLP builds a retriever. Zero values select the defaults.
func NewYTDLP(runner *process.Runner, command string, timeout time.Duration, log *slog.Logger) *YTDLP {
	if runner == nil {
		runner = process.NewRunner(log)
	}
	if strings.TrimSpace(command) == "" {
		command = DefaultYTDLPCommand
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &YTDLP{
		runner:  runner,
		command: command,
		timeout: timeout,
		log:     logger.Component(log, "media.ytdlp"),
	}
}

func (y *YTDLP) Fetch(ctx context.Context, url string, kind Kind, dir string) (string, error) {
	result := y.runner.Run(ctx, process.Spec{
		Path:    y.command,
		Args:    ytdlpArgs(url, kind, dir),
		Timeout: y.timeout,
		Dir:     dir,
	})
	if err := result.Err(); err != nil {
		y.log.Warn("Retrieval failed", "kind", kind, "result", result.Kind, "exit_code", result.ExitCode, "stderr", result.Stderr)
		return "", fmt.Errorf("%s: %w", y.command, err)
	}

	if path := lastLine(result.Output); path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}

	// Older yt-dlp builds ignore --print after_move; look for the only file.
	return singleFile(dir)
}

func ytdlpArgs(url string, kind Kind, dir string) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--restrict-filenames",
		"-o", filepath.Join(dir, outputTemplate),
		"--print", "after_move:filepath",
		"--no-simulate",
	}

	switch kind {
	case KindAudio:
		args = append(args, "-x", "--audio-format", "mp3")
	default:
		args = append(args, "-f", videoFormat, "--merge-output-format", "mp4")
	}

	return append(args, "--", url)
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func singleFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", failure.Wrap(failure.KindInternal, err, "list download directory")
	}

	var found []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		found = append(found, filepath.Join(dir, name))
	}

	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", failure.Wrap(failure.KindExternalUnavailable, errors.New("no file produced"), "media retrieval")
	default:
		return "", failure.Wrap(failure.KindExternalUnavailable,
			fmt.Errorf("%d candidate files produced", len(found)), "media retrieval")
	}
}

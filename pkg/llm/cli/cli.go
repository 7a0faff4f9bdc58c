// Package cli runs a local model through its command-line front end.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"mehranbot/pkg/config"
	"mehranbot/pkg/failure"
	"mehranbot/pkg/logger"
	"mehranbot/pkg/process"
)

const defaultTimeout = 30 * time.Second

// Client feeds the prompt on stdin of a fresh process per call.
type Client struct {
	runner  *process.Runner
	command string
	args    []string
	timeout time.Duration
	log     *slog.Logger
}

// New builds a CLI-backed client, e.g. `ollama run deepseek-r1:14b`.
func New(cfg config.LLMConfig, runner *process.Runner, log *slog.Logger) (*Client, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		return nil, errors.New("llm.command is required for the cli backend")
	}
	if runner == nil {
		runner = process.NewRunner(log)
	}

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		runner:  runner,
		command: command,
		args:    append([]string(nil), cfg.Args...),
		timeout: timeout,
		log:     logger.Component(log, "llm.cli"),
	}, nil
}

// Complete returns the trimmed stdout of one invocation. Empty output is
// not an error.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", failure.New(failure.KindUserInput, "prompt is required")
	}

	result := c.runner.Run(ctx, process.Spec{
		Path:    c.command,
		Args:    c.args,
		Stdin:   prompt + "\n",
		Timeout: c.timeout,
	})

	log := c.log.With("kind", result.Kind, "duration_ms", result.Duration.Milliseconds())
	if err := result.Err(); err != nil {
		log.Warn("Model invocation failed", "exit_code", result.ExitCode, "error", err)
		return "", fmt.Errorf("run %s: %w", c.command, err)
	}
	if result.Output == "" && result.Stderr != "" {
		log.Debug("Model returned no output", "stderr", result.Stderr)
	}
	log.Debug("Model invocation completed", "response_length", len(result.Output))

	return result.Output, nil
}

// Health reports whether the executable can be found.
func (c *Client) Health(context.Context) error {
	if _, err := exec.LookPath(c.command); err != nil {
		return failure.Wrap(failure.KindExternalUnavailable, err, "llm executable not found")
	}
	return nil
}

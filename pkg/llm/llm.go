// Package llm selects the language-model backend used by the /o command.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"mehranbot/pkg/config"
	"mehranbot/pkg/llm/cli"
	"mehranbot/pkg/llm/ollama"
	"mehranbot/pkg/llm/openai"
	"mehranbot/pkg/logger"
	"mehranbot/pkg/process"
)

// Client answers one prompt at a time. Implementations never retry.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Health(ctx context.Context) error
}

// New builds the backend named by cfg.Backend.
func New(cfg config.LLMConfig, runner *process.Runner, log *slog.Logger) (Client, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = config.LLMBackendCLI
	}

	logger.Component(log, "llm.factory").Debug("Resolving LLM backend", "backend", backend, "model", cfg.Model)

	switch backend {
	case config.LLMBackendCLI:
		return checked(cli.New(cfg, runner, log))
	case config.LLMBackendOllama:
		return checked(ollama.New(cfg, log))
	case config.LLMBackendOpenAI:
		return checked(openai.New(cfg, log))
	default:
		return nil, fmt.Errorf("unsupported llm backend: %s", backend)
	}
}

// checked keeps a failed constructor from leaking a typed nil into Client.
func checked[C Client](client C, err error) (Client, error) {
	if err != nil {
		return nil, err
	}
	return client, nil
}

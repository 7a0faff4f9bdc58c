package llm

import (
	"testing"

	"mehranbot/pkg/config"
	"mehranbot/pkg/llm/cli"
	"mehranbot/pkg/llm/ollama"
	"mehranbot/pkg/llm/openai"
	"mehranbot/pkg/logger"
	"mehranbot/pkg/process"
)

func TestNewDefaultsToCLIBackend(t *testing.T) {
	cfg := config.LLMConfig{Command: "ollama", Args: []string{"run", "deepseek-r1:14b"}}

	client, err := New(cfg, process.NewRunner(logger.Discard()), logger.Discard())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := client.(*cli.Client); !ok {
		t.Fatalf("expected *cli.Client, got %T", client)
	}
}

func TestNewReturnsOllamaBackend(t *testing.T) {
	cfg := config.LLMConfig{Backend: config.LLMBackendOllama, Model: "llama3.2", BaseURL: "http://127.0.0.1:11434"}

	client, err := New(cfg, nil, logger.Discard())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := client.(*ollama.Client); !ok {
		t.Fatalf("expected *ollama.Client, got %T", client)
	}
}

func TestNewReturnsOpenAIBackend(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.LLMConfig{Backend: config.LLMBackendOpenAI, Model: "qwen2.5", BaseURL: "http://127.0.0.1:8080/v1"}

	client, err := New(cfg, nil, logger.Discard())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := client.(*openai.Client); !ok {
		t.Fatalf("expected *openai.Client, got %T", client)
	}
}

func TestNewReturnsErrorForUnsupportedBackend(t *testing.T) {
	_, err := New(config.LLMConfig{Backend: "unknown"}, nil, logger.Discard())
	if err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

// Package openai talks to an OpenAI-compatible chat completions endpoint,
// typically a local server such as Ollama's /v1 or llama.cpp.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"mehranbot/pkg/config"
	"mehranbot/pkg/failure"
	"mehranbot/pkg/logger"
)

// Local servers ignore the key but the SDK still sends one.
const localAPIKey = "local"

type Client struct {
	client         osdk.Client
	model          string
	requestTimeout time.Duration
	log            *slog.Logger
}

func New(cfg config.LLMConfig, log *slog.Logger) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		if baseURL == "" {
			return nil, errors.New("llm.api_key_env is required or OPENAI_API_KEY must be set when llm.base_url is empty")
		}
		apiKey = localAPIKey
	}

	model, err := normalizeModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	requestTimeout := cfg.Timeout()
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		model:          model,
		requestTimeout: requestTimeout,
		log:            logger.Component(log, "llm.openai"),
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := c.log.With("operation", "health")
	startedAt := time.Now()

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("llm request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return classify(ctx, fmt.Errorf("health check failed: %w", err))
	}
	log.Debug("llm request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", failure.New(failure.KindUserInput, "prompt is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := c.log.With("operation", "complete", "model", c.model)
	startedAt := time.Now()
	log.Debug("llm request started", "prompt_length", len(prompt))

	completion, err := c.client.Chat.Completions.New(ctx, osdk.ChatCompletionNewParams{
		Model: c.model,
		Messages: []osdk.ChatCompletionMessageParamUnion{
			osdk.UserMessage(prompt),
		},
	})
	if err != nil {
		log.Debug("llm request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", classify(ctx, fmt.Errorf("chat completion failed: %w", err))
	}

	var text string
	if len(completion.Choices) > 0 {
		text = strings.TrimSpace(completion.Choices[0].Message.Content)
	}
	log.Debug("llm request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	return text, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return failure.Wrap(failure.KindExternalTimeout, err, "language model")
	}
	return failure.Wrap(failure.KindExternalUnavailable, err, "language model")
}

func resolveAPIKey(cfg config.LLMConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// normalizeModel accepts both "model" and "openai/model".
func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	providerID, modelID, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}

	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		// Local model names like "library/llama3" pass through untouched.
		return model, nil
	}

	return modelID, nil
}

// Package ollama talks to a local Ollama server over its HTTP API.
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"mehranbot/pkg/config"
	"mehranbot/pkg/failure"
	"mehranbot/pkg/logger"
)

// Client sends single-turn, non-streaming chat requests.
type Client struct {
	client  *api.Client
	model   string
	timeout time.Duration
	log     *slog.Logger
}

// New connects to cfg.BaseURL, or to OLLAMA_HOST when no URL is configured.
func New(cfg config.LLMConfig, log *slog.Logger) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("llm.model is required for the ollama backend")
	}

	var client *api.Client
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return nil, errors.Wrap(err, "parse llm.base_url")
		}
		client = api.NewClient(u, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Ollama client")
		}
	}

	return &Client{
		client:  client,
		model:   model,
		timeout: cfg.Timeout(),
		log:     logger.Component(log, "llm.ollama"),
	}, nil
}

// Complete returns the assistant message for prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", failure.New(failure.KindUserInput, "prompt is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
	}

	startedAt := time.Now()
	var content strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		c.log.Warn("Chat request failed", "model", c.model, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", classify(ctx, errors.Wrap(err, "ollama chat error"))
	}

	text := strings.TrimSpace(content.String())
	c.log.Debug("Chat request completed", "model", c.model, "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	return text, nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Heartbeat(ctx); err != nil {
		return classify(ctx, errors.Wrap(err, "ollama heartbeat"))
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return failure.Wrap(failure.KindExternalTimeout, err, "language model")
	}
	return failure.Wrap(failure.KindExternalUnavailable, err, "language model")
}

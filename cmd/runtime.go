package cmd

import (
	"fmt"
	"log/slog"
	"net/http"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/cache"
	"mehranbot/pkg/config"
	"mehranbot/pkg/dispatch"
	"mehranbot/pkg/llm"
	"mehranbot/pkg/logger"
	"mehranbot/pkg/media"
	"mehranbot/pkg/price"
	"mehranbot/pkg/process"
)

// botRuntime is everything a transport needs to reach the dispatch engine.
type botRuntime struct {
	bus    *bus.MessageBus
	engine *dispatch.Engine
	llm    llm.Client
}

// loadConfig reads and validates configuration, then installs the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, appLogger, nil
}

func newPriceSource(cfg *config.Config, log *slog.Logger) (*price.Client, *cache.Cache[float64], error) {
	client := price.NewClient(&http.Client{Timeout: cfg.Prices.RequestTimeout()}, cfg.Prices.BaseURL, log)

	priceCache, err := cache.New[float64](cache.Options{TTL: cfg.Prices.CacheTTL(), Size: cfg.Prices.CacheSize})
	if err != nil {
		return nil, nil, fmt.Errorf("build price cache: %w", err)
	}
	return client, priceCache, nil
}

// buildRuntime wires the LLM backend, price source, media pipeline and
// dispatch engine. A broken LLM backend only disables /o.
func buildRuntime(cfg *config.Config, log *slog.Logger) (*botRuntime, error) {
	runner := process.NewRunner(log)

	llmClient, err := llm.New(cfg.LLM, runner, log)
	if err != nil {
		log.Warn("LLM backend unavailable, /o is disabled", "backend", cfg.LLM.Backend, "error", err)
		llmClient = nil
	}

	prices, priceCache, err := newPriceSource(cfg, log)
	if err != nil {
		return nil, err
	}

	store, err := media.NewStore(cfg.Media.DownloadDir, log)
	if err != nil {
		return nil, fmt.Errorf("prepare download dir: %w", err)
	}
	if removed, err := store.Sweep(cfg.Media.StaleAfter()); err != nil {
		log.Warn("Failed to sweep stale downloads", "dir", store.Root(), "error", err)
	} else if removed > 0 {
		log.Info("Removed stale downloads", "dir", store.Root(), "count", removed)
	}
	pipeline := media.NewPipeline(store, media.NewYTDLP(runner, cfg.Media.Command, cfg.Media.Timeout(), log), log)

	messageBus := bus.NewMessageBus(cfg.Dispatch.QueueSize)

	deps := dispatch.Deps{
		Prices: prices,
		Media:  pipeline,
		Cache:  priceCache,
		Log:    log,
		Bus:    messageBus,
	}
	if llmClient != nil {
		deps.LLM = llmClient
	}

	engine, err := dispatch.New(deps, dispatch.Options{LookupConcurrency: cfg.Prices.LookupConcurrency})
	if err != nil {
		return nil, err
	}

	return &botRuntime{bus: messageBus, engine: engine, llm: llmClient}, nil
}

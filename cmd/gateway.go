package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mehranbot/pkg/channel"
	"mehranbot/pkg/channel/discord"
	"mehranbot/pkg/channel/telegram"
	"mehranbot/pkg/config"
	"mehranbot/pkg/gateway"
	"mehranbot/pkg/logger"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the bot on the enabled chat channels",
	Long:  "Runs Mehran Bot on every enabled chat channel with health, readiness and metrics endpoints.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runGateway(runCtx)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(ctx context.Context) error {
	cfg, appLogger, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Component(appLogger, "cmd.gateway")

	adapters, err := enabledAdapters(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("gateway configuration invalid: %w", err)
	}

	rt, err := buildRuntime(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("initialize bot: %w", err)
	}

	deps := gateway.Deps{Engine: rt.engine, Bus: rt.bus}
	if rt.llm != nil {
		deps.LLM = rt.llm
	}

	svc, err := gateway.NewService(cfg, adapters, deps, appLogger)
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	log.Info("Gateway started",
		"channels", enabledChannelNames(adapters),
		"llm_backend", cfg.LLM.Backend,
		"model", cfg.LLM.Model,
		"workers", cfg.Dispatch.Workers,
	)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gateway runtime failed: %w", err)
	}

	log.Info("Gateway stopped")
	return nil
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.Discord.Enabled {
		adapter, err := discord.NewAdapter(cfg.Channels.Discord, log)
		if err != nil {
			return nil, fmt.Errorf("configure discord channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}

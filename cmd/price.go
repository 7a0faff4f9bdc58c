package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/config"
	"mehranbot/pkg/dispatch"
)

var priceCmd = &cobra.Command{
	Use:   "price SYMBOL...",
	Short: "Look up current prices for one or more symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadConfig()
		if err != nil {
			return err
		}
		return runPrice(cmd.Context(), cfg, appLogger, cmd.OutOrStdout(), args)
	},
}

func init() {
	rootCmd.AddCommand(priceCmd)
}

// runPrice answers exactly like "/price SYMBOL..." in a chat.
func runPrice(ctx context.Context, cfg *config.Config, log *slog.Logger, out io.Writer, symbols []string) error {
	prices, priceCache, err := newPriceSource(cfg, log)
	if err != nil {
		return err
	}

	engine, err := dispatch.New(dispatch.Deps{Prices: prices, Cache: priceCache, Log: log}, dispatch.Options{
		LookupConcurrency: cfg.Prices.LookupConcurrency,
	})
	if err != nil {
		return err
	}

	engine.OnMessage(ctx, bus.InboundMessage{
		Channel:  "cli",
		SenderID: "cli",
		ChatID:   "cli",
		Content:  "/price " + strings.Join(symbols, " "),
	}, &writerReplier{out: out})

	if ctx.Err() != nil {
		return fmt.Errorf("price lookup interrupted: %w", ctx.Err())
	}
	return nil
}

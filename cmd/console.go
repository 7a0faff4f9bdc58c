package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/logger"
	"mehranbot/pkg/ui/console"
)

var (
	consoleSaveDir  string
	consoleLineMode bool
	consoleVerbose  bool
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Talk to the bot from this terminal",
	Long:  "Runs the dispatch engine against a local terminal transport. No chat token is needed.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runConsole(runCtx)
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleSaveDir, "save-dir", "", "copy delivered video and audio files into this directory")
	consoleCmd.Flags().BoolVar(&consoleLineMode, "line", false, "use plain line mode even on a terminal")
	consoleCmd.Flags().BoolVarP(&consoleVerbose, "verbose", "v", false, "write logs to stderr")
}

func runConsole(ctx context.Context) error {
	cfg, appLogger, err := loadConfig()
	if err != nil {
		return err
	}
	// Log lines would tear the full-screen UI.
	if !consoleVerbose {
		appLogger = logger.Discard()
	}

	rt, err := buildRuntime(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("initialize bot: %w", err)
	}
	defer rt.bus.Close()

	opts := console.Options{
		SaveDir: consoleSaveDir,
		Info:    console.Info{LLMBackend: cfg.LLM.Backend, Model: cfg.LLM.Model},
	}
	if consoleLineMode {
		interactive := false
		opts.Interactive = &interactive
	}

	adapter := console.NewAdapter(opts, appLogger)

	// Local input is handled inline; there is a single user.
	return adapter.Run(ctx, func(ctx context.Context, msg bus.InboundMessage, replier bus.Replier) error {
		rt.engine.OnMessage(ctx, msg, replier)
		return nil
	})
}

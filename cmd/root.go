package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mehranbot",
	Short: "Chat bot for stock prices, LLM prompts and media downloads",
	Long: "Mehran Bot answers $SYMBOL price lookups, forwards /o prompts to a local LLM and " +
		"re-uploads video or audio fetched with yt-dlp, over Telegram, Discord or a local console.",
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

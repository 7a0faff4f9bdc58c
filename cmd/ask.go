package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mehranbot/pkg/llm"
	"mehranbot/pkg/logger"
	"mehranbot/pkg/process"
	"mehranbot/pkg/ui/console"
)

var promptText string

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send one prompt to the configured LLM backend",
	Long:  "Sends one prompt to the configured LLM backend and prints the answer. The prompt comes from -p, the arguments, or stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := resolvePrompt(args)
		if prompt == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read prompt from stdin: %w", err)
			}
			prompt = strings.TrimSpace(string(data))
		}
		if prompt == "" {
			return errors.New("prompt is required: pass it as arguments, with -p, or on stdin")
		}

		return runAsk(cmd.Context(), prompt, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func runAsk(ctx context.Context, prompt string, out io.Writer) error {
	cfg, appLogger, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Component(appLogger, "cmd.ask")

	client, err := llm.New(cfg.LLM, process.NewRunner(appLogger), appLogger)
	if err != nil {
		return fmt.Errorf("initialize llm backend: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.LLM.Timeout())
	defer cancel()

	log.Debug("Sending prompt", "backend", cfg.LLM.Backend, "model", cfg.LLM.Model)
	answer, err := client.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}

	printAnswer(out, prompt, answer)
	return nil
}

func printAnswer(out io.Writer, prompt string, answer string) {
	if strings.TrimSpace(answer) == "" {
		answer = "No response received."
	}

	if file, ok := out.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		width, _, err := term.GetSize(int(file.Fd()))
		if err != nil {
			width = 80
		}
		fmt.Fprint(out, console.RenderAnswer(prompt, answer, width))
		return
	}

	fmt.Fprintln(out, strings.TrimSpace(answer))
}

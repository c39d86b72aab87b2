package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strideai/stride/internal/config"
	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/signal"
	"github.com/strideai/stride/internal/ui"
)

var modelsBaseURL string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models offered by the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext()
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.ApplyOverrides(modelsBaseURL, "")

		provider := llm.NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, "openai-compat")
		models, err := provider.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(models) == 0 {
			fmt.Fprintln(out, ui.Muted("server offers no models"))
			return nil
		}
		for _, m := range models {
			line := m.ID
			if m.ID == cfg.Model {
				line = ui.Accent(line + " (configured)")
			}
			if m.Created > 0 {
				line += ui.Muted("  " + time.Unix(m.Created, 0).Format("2006-01-02"))
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	modelsCmd.Flags().StringVar(&modelsBaseURL, "base-url", "", "Override the configured server base URL")
	rootCmd.AddCommand(modelsCmd)
}

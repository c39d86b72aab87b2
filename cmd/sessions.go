package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strideai/stride/internal/config"
	"github.com/strideai/stride/internal/session"
	"github.com/strideai/stride/internal/ui"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dataDir, err := config.GetDataDir()
		if err != nil {
			return err
		}
		store, err := session.NewStore(session.Config{Enabled: cfg.Sessions.Enabled, DataDir: dataDir})
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.List(context.Background(), sessionsLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(summaries) == 0 {
			fmt.Fprintln(out, ui.Muted("no saved sessions"))
			return nil
		}
		for _, s := range summaries {
			title := s.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(out, "%s  %s\n", ui.Accent(s.ID), title)
			fmt.Fprintf(out, "    %s\n", ui.Muted(fmt.Sprintf("%s · %d messages · %s",
				s.Model, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))))
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strideai/stride/internal/tools"
)

var toolsPlan bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show the builtin tool catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := tools.NewRegistry()
		tools.RegisterBuiltins(registry, tools.DefaultOutputLimits())

		mode := tools.ModeNormal
		if toolsPlan {
			mode = tools.ModePlan
		}
		fmt.Fprintln(cmd.OutOrStdout(), registry.TextCatalog(mode))
		return nil
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsPlan, "plan", false, "Show only tools available in plan mode")
	rootCmd.AddCommand(toolsCmd)
}

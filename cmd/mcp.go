package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strideai/stride/internal/mcp"
	"github.com/strideai/stride/internal/signal"
	"github.com/strideai/stride/internal/ui"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage MCP servers",
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured MCP servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := mcp.NewManager()
		if err := manager.LoadConfig(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		names := manager.AvailableServers()
		if len(names) == 0 {
			fmt.Fprintln(out, ui.Muted("no MCP servers configured"))
			path, err := mcp.DefaultConfigPath()
			if err == nil {
				fmt.Fprintln(out, ui.Muted("add servers to "+path))
			}
			return nil
		}
		for _, name := range names {
			status, _ := manager.ServerStatus(name)
			fmt.Fprintf(out, "%s  %s\n", name, ui.Muted(string(status)))
		}
		return nil
	},
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools <server>",
	Short: "Start a server and list its tools",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext()
		defer stop()

		manager := mcp.NewManager()
		if err := manager.LoadConfig(); err != nil {
			return err
		}
		name := args[0]
		if err := manager.Enable(ctx, name); err != nil {
			return fmt.Errorf("enable %s: %w", name, err)
		}
		defer manager.StopAll()

		out := cmd.OutOrStdout()
		for _, tool := range manager.AllTools() {
			if tool.Server != name {
				continue
			}
			fmt.Fprintf(out, "%s\n  %s\n", ui.ToolName(tool.Spec.Name), ui.Muted(tool.Spec.Description))
		}
		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpToolsCmd)
	rootCmd.AddCommand(mcpCmd)
}

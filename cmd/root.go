// Package cmd is the cobra command surface for stride.
package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

var (
	debugFlag bool
	debugRaw  bool
)

var rootCmd = &cobra.Command{
	Use:   "stride",
	Short: "Interactive terminal coding agent for local models",
	Long: `stride drives a locally-hosted, OpenAI-compatible chat model through a
tool-using loop: the model reads files, edits them, and runs commands,
with every risky call gated by a permission prompt.

Examples:
  stride chat                       # interactive session
  stride chat --resume <id>         # resume a saved session
  stride chat --mcp playwright      # with an MCP server enabled
  stride models                     # list models the server offers
  stride tools                      # show the builtin tool catalog`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Write request/event JSONL logs to the data dir")
	rootCmd.PersistentFlags().BoolVar(&debugRaw, "debug-raw", false, "Also log raw stream events")
}

func Execute() {
	os.Exit(Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// Run executes the command tree against explicit streams and returns the
// process exit code. This is the embedding entrypoint.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

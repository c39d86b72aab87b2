package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/strideai/stride/internal/agent"
	"github.com/strideai/stride/internal/checkpoint"
	"github.com/strideai/stride/internal/config"
	"github.com/strideai/stride/internal/convo"
	"github.com/strideai/stride/internal/debuglog"
	"github.com/strideai/stride/internal/hooks"
	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/mcp"
	"github.com/strideai/stride/internal/permission"
	"github.com/strideai/stride/internal/session"
	"github.com/strideai/stride/internal/signal"
	"github.com/strideai/stride/internal/tools"
	"github.com/strideai/stride/internal/ui"
)

var (
	chatModel   string
	chatBaseURL string
	chatResume  string
	chatMCP     string
	chatPlan    bool
	chatYolo    bool
	chatNoTools bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive agent session",
	Long: `Start an interactive session with the model. The model can read and
edit files, search, and run shell commands; risky calls prompt for
approval.

Slash commands:
  /help         - Show help
  /clear        - Clear the conversation
  /rewind [n]   - Remove the last n turns (default 1)
  /undo         - Restore files changed this session
  /diff         - Show changes made this session
  /tools        - List available tools
  /compact      - Force conversation compaction
  /quit         - Exit

Ctrl-C once cancels the current generation; twice within 2 seconds exits.`,
}

func init() {
	chatCmd.RunE = runChat
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Override the configured model")
	chatCmd.Flags().StringVar(&chatBaseURL, "base-url", "", "Override the configured server base URL")
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Resume a saved session by id")
	chatCmd.Flags().StringVar(&chatMCP, "mcp", "", "Enable MCP server(s), comma-separated")
	chatCmd.Flags().BoolVar(&chatPlan, "plan", false, "Plan mode: read-only tools only")
	chatCmd.Flags().BoolVar(&chatYolo, "yolo", false, "Auto-approve every tool call (dangerous)")
	chatCmd.Flags().BoolVar(&chatNoTools, "no-native-tools", false, "Use text-parsed tool calls instead of the native channel")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.TermContext()
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(chatBaseURL, chatModel)
	if chatYolo {
		cfg.Permissions.AutoApproveAll = true
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	if chatYolo && isTTY {
		fmt.Fprintln(errOut, ui.Warn("All tool calls will run without approval."))
	}

	provider := llm.NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, "openai-compat")

	model := cfg.Model
	if model == "" {
		models, err := provider.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("no model configured and listing failed: %w", err)
		}
		if len(models) == 0 {
			return errors.New("no model configured and the server offers none")
		}
		model = models[0].ID
		fmt.Fprintln(errOut, ui.Muted("using model "+model))
	}

	maxTokens := cfg.Agent.MaxTokens
	if maxTokens <= 0 {
		negotiated, err := provider.NegotiateMaxTokens(ctx)
		if err != nil {
			fmt.Fprintf(errOut, "%s\n", ui.Muted(fmt.Sprintf("max_tokens negotiation failed: %v", err)))
		} else {
			maxTokens = negotiated
		}
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.DefaultOutputLimits())

	mcpManager := mcp.NewManager()
	if err := mcpManager.LoadConfig(); err != nil {
		fmt.Fprintf(errOut, "Warning: failed to load MCP config: %v\n", err)
	}
	if chatMCP != "" {
		for _, server := range strings.Split(chatMCP, ",") {
			server = strings.TrimSpace(server)
			if server == "" {
				continue
			}
			if err := mcpManager.Enable(ctx, server); err != nil {
				fmt.Fprintf(errOut, "Warning: failed to enable MCP server %q: %v\n", server, err)
			}
		}
		mcp.RegisterTools(mcpManager, registry)
	}
	defer mcpManager.StopAll()

	permCfg, err := buildPermissionConfig(cfg.Permissions)
	if err != nil {
		return err
	}
	engine := permission.NewEngine(permCfg, ui.NewTerminalApprover())

	hooksPath, err := cfg.HooksConfigPath()
	if err != nil {
		return err
	}
	hookCfg, err := hooks.LoadConfig(hooksPath)
	if err != nil {
		return err
	}

	dataDir, err := config.GetDataDir()
	if err != nil {
		return err
	}
	ckpt, err := checkpoint.NewStore(filepath.Join(dataDir, "checkpoints"))
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}

	store, err := session.NewStore(session.Config{Enabled: cfg.Sessions.Enabled, DataDir: dataDir})
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	var conv *convo.Conversation
	sessionID := session.NewID()
	if chatResume != "" {
		loaded, sess, err := session.LoadConversation(ctx, store, chatResume)
		if err != nil {
			return err
		}
		conv = loaded
		sessionID = sess.ID
		if sess.Model != "" {
			model = sess.Model
		}
		fmt.Fprintf(errOut, "%s\n", ui.Muted(fmt.Sprintf("resumed session %s (%d messages)", sess.ID, conv.Len())))
	} else {
		conv = convo.New()
	}
	if conv.SystemPrompt() == "" {
		conv.SetSystemPrompt(buildSystemPrompt(registry, !chatNoTools && cfg.Agent.NativeToolCalls, chatPlan))
	}

	var logger *debuglog.Logger
	if debugFlag || debugRaw {
		logger, err = debuglog.New(debuglog.DefaultDir(dataDir), sessionID)
		if err != nil {
			fmt.Fprintf(errOut, "Warning: debug logging disabled: %v\n", err)
		}
		defer logger.Close()
	}

	mode := tools.ModeNormal
	if chatPlan {
		mode = tools.ModePlan
	}

	dispatcher := tools.NewDispatcher(registry, engine)
	dispatcher.Hooks = hooks.NewRunner(hookCfg)
	dispatcher.Checkpoints = ckpt
	dispatcher.SessionID = sessionID
	dispatcher.Mode = mode
	dispatcher.RestrictRoot = cfg.RestrictRoot
	dispatcher.Timeout = time.Duration(cfg.Agent.ToolTimeoutSeconds) * time.Second
	dispatcher.MaxParallel = cfg.Agent.MaxParallelTools
	dispatcher.Sink = func(line string) {
		fmt.Fprintln(out, ui.Muted("  "+line))
	}

	compactor := &convo.Compactor{
		Summarizer:    provider,
		Model:         model,
		ContextWindow: cfg.Agent.ContextWindow,
		Threshold:     cfg.Agent.AutoCompactThreshold,
		PreserveLastN: cfg.Agent.CompactPreserveLastN,
	}

	loop := &agent.Loop{
		Provider:        provider,
		Registry:        registry,
		Dispatcher:      dispatcher,
		Compactor:       compactor,
		Model:           model,
		Temperature:     float32(cfg.Agent.Temperature),
		MaxOutputTokens: maxTokens,
		MaxIterations:   cfg.Agent.MaxIterations,
		IdleTimeout:     time.Duration(cfg.Agent.StreamIdleTimeoutSeconds) * time.Second,
		NativeToolCalls: !chatNoTools && cfg.Agent.NativeToolCalls,
	}
	if !isTTY {
		loop.OnText = func(delta string) { fmt.Fprint(out, delta) }
	}
	loop.OnToolStart = func(call llm.ToolCall, preview string) {
		line := ui.ToolName(call.Name)
		if preview != "" {
			line += " " + ui.Muted(preview)
		}
		fmt.Fprintln(out, line)
		logger.LogEvent(llm.Event{Type: llm.EventToolExecStart, ToolCallID: call.ID, ToolName: call.Name, ToolInfo: preview})
	}
	loop.OnToolEnd = func(res tools.Result) {
		if res.IsError {
			fmt.Fprintln(out, ui.ErrorText("  "+firstLine(res.Content)))
		}
		logger.LogEvent(llm.Event{Type: llm.EventToolExecEnd, ToolCallID: res.CallID, ToolName: res.Name, ToolSuccess: !res.IsError})
	}

	interrupt := signal.NewInterrupt()
	defer interrupt.Close()

	var firstUserMessage string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if isTTY {
			fmt.Fprint(out, ui.Accent("› "))
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := handleSlashCommand(ctx, cmd, input, conv, ckpt, registry, compactor, mode, sessionID); quit {
				return nil
			}
			continue
		}

		if firstUserMessage == "" {
			firstUserMessage = input
		}
		conv.AppendUser(input)

		genCtx, cancel := context.WithCancel(ctx)
		interrupt.SetCancel(cancel)
		logger.LogRequest(0, llm.Request{Model: model, Messages: conv.WireMessages(), MaxOutputTokens: maxTokens})

		res, runErr := loop.RunUntilQuiet(genCtx, conv)
		interrupt.ClearCancel()
		cancel()

		switch {
		case runErr == nil:
			if isTTY && res.Text != "" {
				fmt.Fprintln(out, ui.RenderMarkdown(res.Text, terminalWidth()))
			} else if !isTTY {
				fmt.Fprintln(out)
			}
		case errors.Is(runErr, context.Canceled):
			fmt.Fprintln(errOut, ui.Muted("\ninterrupted"))
		default:
			fmt.Fprintln(errOut, ui.ErrorText("error: "+runErr.Error()))
		}

		title := session.TruncateTitle(firstUserMessage)
		if err := session.SaveConversation(ctx, store, sessionID, conv, model, title); err != nil {
			fmt.Fprintf(errOut, "Warning: failed to save session: %v\n", err)
		}
	}
}

// handleSlashCommand processes one slash command. Returns true to exit.
func handleSlashCommand(ctx context.Context, cmd *cobra.Command, input string, conv *convo.Conversation, ckpt *checkpoint.Store, registry *tools.Registry, compactor *convo.Compactor, mode tools.Mode, sessionID string) bool {
	out := cmd.OutOrStdout()
	fields := strings.Fields(input)

	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/clear":
		conv.Clear()
		fmt.Fprintln(out, ui.Muted("conversation cleared"))

	case "/rewind":
		n := 1
		if len(fields) > 1 {
			if parsed, err := strconv.Atoi(fields[1]); err == nil && parsed > 0 {
				n = parsed
			}
		}
		removed := conv.RemoveLastTurns(n)
		fmt.Fprintln(out, ui.Muted(fmt.Sprintf("removed %d messages", removed)))

	case "/undo":
		paths := ckpt.Paths(sessionID)
		if len(paths) == 0 {
			fmt.Fprintln(out, ui.Muted("no file changes to undo"))
			break
		}
		for _, path := range paths {
			restored, err := ckpt.Restore(sessionID, path)
			switch {
			case err != nil:
				fmt.Fprintln(out, ui.ErrorText(fmt.Sprintf("restore %s: %v", path, err)))
			case restored:
				fmt.Fprintln(out, ui.Muted("restored "+path))
			}
		}

	case "/diff":
		paths := ckpt.Paths(sessionID)
		if len(paths) == 0 {
			fmt.Fprintln(out, ui.Muted("no file changes this session"))
			break
		}
		for _, path := range paths {
			diff, err := ckpt.Diff(sessionID, path)
			if err != nil {
				fmt.Fprintln(out, ui.ErrorText(fmt.Sprintf("diff %s: %v", path, err)))
				continue
			}
			if diff != "" {
				fmt.Fprintln(out, diff)
			}
		}

	case "/tools":
		fmt.Fprintln(out, registry.TextCatalog(mode))

	case "/compact":
		compacted, err := compactor.Compact(ctx, conv)
		switch {
		case err != nil:
			fmt.Fprintln(out, ui.ErrorText("compaction failed: "+err.Error()))
		case compacted:
			fmt.Fprintln(out, ui.Muted("conversation compacted"))
		default:
			fmt.Fprintln(out, ui.Muted("nothing to compact"))
		}

	case "/help":
		fmt.Fprintln(out, chatCmd.Long)

	default:
		fmt.Fprintln(out, ui.Muted("unknown command "+fields[0]))
	}
	return false
}

// buildPermissionConfig converts the config's string patterns into the
// engine's parsed form.
func buildPermissionConfig(p config.PermissionsConfig) (permission.Config, error) {
	allow, err := permission.ParsePatterns(p.Allow)
	if err != nil {
		return permission.Config{}, fmt.Errorf("permissions.allow: %w", err)
	}
	deny, err := permission.ParsePatterns(p.Deny)
	if err != nil {
		return permission.Config{}, fmt.Errorf("permissions.deny: %w", err)
	}
	return permission.Config{
		Disabled:            p.Disabled,
		AlwaysApprove:       p.AlwaysApprove,
		AllowPatterns:       allow,
		DenyPatterns:        deny,
		AutoApproveAll:      p.AutoApproveAll,
		AutoApproveReadOnly: p.AutoApproveReadOnly,
		AutoApproveModerate: p.AutoApproveModerate,
	}, nil
}

// buildSystemPrompt assembles the system message. Without native tool calls
// the model is told to emit tagged JSON, and the catalog is inlined.
func buildSystemPrompt(registry *tools.Registry, native bool, plan bool) string {
	var b strings.Builder
	b.WriteString("You are stride, a coding agent running in the user's terminal.\n")
	b.WriteString("You help with software tasks by reading files, making edits, and running commands.\n")
	b.WriteString("Prefer small, verifiable steps. Report what you changed.\n")
	if plan {
		b.WriteString("You are in plan mode: only read-only tools are available. Propose changes, do not make them.\n")
	}
	if !native {
		mode := tools.ModeNormal
		if plan {
			mode = tools.ModePlan
		}
		b.WriteString("\nTo call a tool, emit exactly:\n")
		b.WriteString("<tool_call>\n{\"name\": \"<tool>\", \"arguments\": {...}}\n</tool_call>\n")
		b.WriteString("\nAvailable tools:\n\n")
		b.WriteString(registry.TextCatalog(mode))
	}
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx != -1 {
		return s[:idx]
	}
	return s
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	if width > 120 {
		return 120
	}
	return width
}

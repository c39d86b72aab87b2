package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/strideai/stride/internal/checkpoint"
	"github.com/strideai/stride/internal/hooks"
	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/permission"
)

const (
	// DefaultToolTimeout bounds a single tool execution.
	DefaultToolTimeout = 120 * time.Second

	// MaxToolTimeout caps how far a per-call timeout argument can stretch
	// the dispatcher deadline. Matches the shell tool's documented maximum.
	MaxToolTimeout = 300 * time.Second

	// DefaultMaxParallel caps concurrent tool executions in a batch.
	DefaultMaxParallel = 8

	// historyResultLimit truncates recorded results.
	historyResultLimit = 500
)

// Result is the outcome of dispatching one tool call.
type Result struct {
	CallID   string
	Name     string
	Content  string
	IsError  bool
	Duration time.Duration
}

// HistoryEntry records an executed call for session history.
type HistoryEntry struct {
	Name     string
	Args     string
	Result   string // truncated
	IsError  bool
	Duration time.Duration
}

// Sink receives incremental output lines from streaming tools.
type Sink func(line string)

// Dispatcher safely executes tool calls: permission check, hooks,
// checkpointing, argument normalization, validation, directory restriction,
// timeout, and result formatting.
type Dispatcher struct {
	Registry    *Registry
	Permissions *permission.Engine
	Hooks       *hooks.Runner
	Checkpoints *checkpoint.Store

	SessionID    string
	Mode         Mode
	RestrictRoot string // when set, file-affecting tools may not escape it
	Timeout      time.Duration
	MaxParallel  int

	// Sink, when set, receives output lines from tools that stream.
	Sink Sink

	histMu  sync.Mutex
	history []HistoryEntry
}

func NewDispatcher(registry *Registry, perms *permission.Engine) *Dispatcher {
	return &Dispatcher{
		Registry:    registry,
		Permissions: perms,
		Timeout:     DefaultToolTimeout,
		MaxParallel: DefaultMaxParallel,
	}
}

// Execute runs the full pipeline for a single call. The returned Result is
// always usable as a tool result message; failures are folded into Content.
func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	res := d.execute(ctx, call)
	res.CallID = call.ID
	res.Name = call.Name
	res.Duration = time.Since(start)
	d.record(call, res)
	return res
}

func (d *Dispatcher) execute(ctx context.Context, call llm.ToolCall) Result {
	// 1. Resolve, with a closest-match suggestion for typos.
	tool, ok := d.Registry.Resolve(call.Name)
	if !ok {
		msg := fmt.Sprintf("Unknown tool: %s.", call.Name)
		if suggestion := d.Registry.FindClosestMatch(call.Name); suggestion != "" {
			msg = fmt.Sprintf("Unknown tool: %s. Did you mean %s?", call.Name, suggestion)
		}
		return Result{Content: msg, IsError: true}
	}

	// Mode is enforced here as well as by the catalog filter.
	if !d.Mode.Allows(tool.Risk()) {
		return Result{
			Content: fmt.Sprintf("Tool %s is not available in %s mode (read-only tools only).", call.Name, d.Mode),
			IsError: true,
		}
	}

	// 2. Permission.
	if d.Permissions != nil && !d.Permissions.Check(call.Name, tool.Risk(), call.Arguments) {
		return Result{Content: "Permission denied by user.", IsError: true}
	}

	// 3. Pre-hook.
	if d.Hooks != nil {
		if err := d.Hooks.RunPre(ctx, call.Name, call.Arguments); err != nil {
			slog.Debug("pre-hook blocked tool", "tool", call.Name, "error", err)
			return Result{Content: "Tool blocked by hook.", IsError: true}
		}
	}

	// 4. Argument normalization.
	schema := tool.Spec().Schema
	args := NormalizeArgs(call.Arguments, schema)

	// 5. Checkpoint mutating tools before they touch disk.
	if d.Checkpoints != nil && IsMutating(call.Name) {
		for _, path := range pathArgs(args) {
			if err := d.Checkpoints.Snapshot(d.SessionID, path); err != nil {
				slog.Warn("checkpoint snapshot failed", "path", path, "error", err)
			}
		}
	}

	// 6. Required-argument validation.
	if err := ValidateRequired(call.Name, schema, args); err != nil {
		return Result{Content: "ERROR: " + err.Error(), IsError: true}
	}

	// 7. Directory restriction.
	if d.RestrictRoot != "" && fileAffectingTools[strings.ToLower(call.Name)] {
		if err := d.checkRestriction(args); err != nil {
			return Result{Content: "ERROR: " + err.Error(), IsError: true}
		}
	}

	// 8. Execute with timeout; panics become errors.
	output, err := d.runTool(ctx, tool, call.Name, args)

	// 9. Post-hook, fire-and-forget.
	if d.Hooks != nil {
		d.Hooks.RunPost(call.Name, args)
	}

	// 11. Format: the model consistently sees failures as "ERROR: ...".
	if err != nil {
		return Result{Content: "ERROR: " + err.Error(), IsError: true}
	}
	return Result{Content: output}
}

func (d *Dispatcher) runTool(ctx context.Context, tool Tool, name string, args json.RawMessage) (output string, err error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	// A call asking for a longer run than the dispatcher default (a bash
	// timeout_seconds up to the 300s maximum) gets it.
	if t := requestedTimeout(args); t > timeout {
		timeout = t
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			output = ""
			err = fmt.Errorf("executing %s: %v", name, r)
		}
	}()

	if st, ok := tool.(StreamingTool); ok && d.Sink != nil {
		output, err = st.ExecuteStreaming(ctx, args, d.Sink)
	} else {
		output, err = tool.Execute(ctx, args)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return "", NewToolErrorf(ErrTimeout, "executing %s: timed out after %s", name, timeout)
	}
	return output, err
}

// requestedTimeout returns the per-call timeout the arguments ask for,
// capped at MaxToolTimeout. Zero when absent or malformed.
func requestedTimeout(args json.RawMessage) time.Duration {
	var a struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &a); err != nil || a.TimeoutSeconds <= 0 {
		return 0
	}
	t := time.Duration(a.TimeoutSeconds) * time.Second
	if t > MaxToolTimeout {
		t = MaxToolTimeout
	}
	return t
}

// checkRestriction rejects any path argument that does not normalize under
// the restricted root.
func (d *Dispatcher) checkRestriction(args json.RawMessage) error {
	root, err := filepath.Abs(d.RestrictRoot)
	if err != nil {
		return err
	}
	for _, path := range pathArgs(args) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return NewToolErrorf(ErrPathRestricted, "path %s is outside the allowed root %s", abs, root)
		}
	}
	return nil
}

// pathArgs extracts filesystem path arguments from the args JSON.
func pathArgs(args json.RawMessage) []string {
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return nil
	}
	var paths []string
	if p, ok := m["path"].(string); ok && p != "" {
		paths = append(paths, p)
	}
	return paths
}

func (d *Dispatcher) record(call llm.ToolCall, res Result) {
	result := res.Content
	if len(result) > historyResultLimit {
		result = result[:historyResultLimit] + "..."
	}
	d.histMu.Lock()
	d.history = append(d.history, HistoryEntry{
		Name:     call.Name,
		Args:     string(call.Arguments),
		Result:   result,
		IsError:  res.IsError,
		Duration: res.Duration,
	})
	d.histMu.Unlock()
}

// History returns a copy of the recorded calls.
func (d *Dispatcher) History() []HistoryEntry {
	d.histMu.Lock()
	defer d.histMu.Unlock()
	out := make([]HistoryEntry, len(d.history))
	copy(out, d.history)
	return out
}

// ExecuteAll dispatches a batch with bounded parallelism. Results come back
// in input order regardless of completion order, and one call's failure
// never affects the others.
func (d *Dispatcher) ExecuteAll(ctx context.Context, calls []llm.ToolCall) []Result {
	if len(calls) == 0 {
		return nil
	}
	if len(calls) == 1 {
		return []Result{d.Execute(ctx, calls[0])}
	}

	maxParallel := d.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	type indexed struct {
		index int
		res   Result
	}

	sem := make(chan struct{}, maxParallel)
	resultChan := make(chan indexed, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			resultChan <- indexed{index: idx, res: d.Execute(ctx, c)}
		}(i, call)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]Result, len(calls))
	for r := range resultChan {
		results[r.index] = r.res
	}
	return results
}

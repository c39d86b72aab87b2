// Package hooks runs user-configured commands before and after tool calls.
//
// Hook scripts receive the tool's argument JSON on stdin and in the
// STRIDE_TOOL_ARGS environment variable; the tool name is in
// STRIDE_TOOL_NAME. A pre-hook that exits non-zero blocks the tool.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PreHookTimeout bounds synchronous pre-hook execution.
const PreHookTimeout = 30 * time.Second

// Config maps tool names (or "*" for all tools) to shell commands.
type Config struct {
	Pre  map[string]string `yaml:"pre"`
	Post map[string]string `yaml:"post"`
}

// LoadConfig reads hooks.yaml. A missing file yields an empty config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read hooks config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse hooks config: %w", err)
	}
	return &cfg, nil
}

// Runner executes configured hooks.
type Runner struct {
	cfg *Config
}

func NewRunner(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Runner{cfg: cfg}
}

// lookup resolves the hook command for a tool. A specific entry takes
// priority over the wildcard.
func lookup(m map[string]string, toolName string) string {
	if m == nil {
		return ""
	}
	name := strings.ToLower(toolName)
	if cmd, ok := m[name]; ok {
		return cmd
	}
	return m["*"]
}

// RunPre runs the pre-hook for a tool, if configured. Returns an error when
// the hook exits non-zero, which the dispatcher turns into a blocked call.
func (r *Runner) RunPre(ctx context.Context, toolName string, args json.RawMessage) error {
	command := lookup(r.cfg.Pre, toolName)
	if command == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, PreHookTimeout)
	defer cancel()

	if err := r.run(ctx, command, toolName, args); err != nil {
		return fmt.Errorf("pre-hook for %s: %w", toolName, err)
	}
	return nil
}

// RunPost fires the post-hook best-effort in the background. Failures are
// logged and otherwise ignored.
func (r *Runner) RunPost(toolName string, args json.RawMessage) {
	command := lookup(r.cfg.Post, toolName)
	if command == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PreHookTimeout)
		defer cancel()
		if err := r.run(ctx, command, toolName, args); err != nil {
			slog.Warn("post-hook failed", "tool", toolName, "error", err)
		}
	}()
}

func (r *Runner) run(ctx context.Context, command, toolName string, args json.RawMessage) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = strings.NewReader(string(args))
	cmd.Env = append(os.Environ(),
		"STRIDE_TOOL_NAME="+toolName,
		"STRIDE_TOOL_ARGS="+string(args),
	)
	return cmd.Run()
}

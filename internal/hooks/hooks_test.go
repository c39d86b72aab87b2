package hooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunPrePasses(t *testing.T) {
	r := NewRunner(&Config{Pre: map[string]string{"bash": "exit 0"}})
	if err := r.RunPre(context.Background(), "bash", json.RawMessage(`{}`)); err != nil {
		t.Errorf("zero exit should pass: %v", err)
	}
}

func TestRunPreBlocks(t *testing.T) {
	r := NewRunner(&Config{Pre: map[string]string{"bash": "exit 1"}})
	if err := r.RunPre(context.Background(), "bash", json.RawMessage(`{}`)); err == nil {
		t.Error("non-zero exit should return an error")
	}
}

func TestWildcardAndPriority(t *testing.T) {
	r := NewRunner(&Config{Pre: map[string]string{
		"*":    "exit 1",
		"grep": "exit 0",
	}})
	if err := r.RunPre(context.Background(), "grep", nil); err != nil {
		t.Error("specific entry should take priority over wildcard")
	}
	if err := r.RunPre(context.Background(), "bash", nil); err == nil {
		t.Error("wildcard should apply to tools without a specific entry")
	}
}

func TestNoHookConfigured(t *testing.T) {
	r := NewRunner(&Config{})
	if err := r.RunPre(context.Background(), "bash", nil); err != nil {
		t.Errorf("missing hook should be a no-op: %v", err)
	}
	r.RunPost("bash", nil)
}

func TestHookReceivesArgs(t *testing.T) {
	dir := t.TempDir()
	stdinFile := filepath.Join(dir, "stdin.txt")
	envFile := filepath.Join(dir, "env.txt")

	cmd := "cat > " + stdinFile + "; printf '%s' \"$STRIDE_TOOL_NAME:$STRIDE_TOOL_ARGS\" > " + envFile
	r := NewRunner(&Config{Pre: map[string]string{"bash": cmd}})

	args := json.RawMessage(`{"command":"ls"}`)
	if err := r.RunPre(context.Background(), "bash", args); err != nil {
		t.Fatal(err)
	}

	stdin, _ := os.ReadFile(stdinFile)
	if string(stdin) != `{"command":"ls"}` {
		t.Errorf("stdin = %q", stdin)
	}
	env, _ := os.ReadFile(envFile)
	if string(env) != `bash:{"command":"ls"}` {
		t.Errorf("env = %q", env)
	}
}

func TestRunPostFireAndForget(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "fired")
	r := NewRunner(&Config{Post: map[string]string{"*": "touch " + marker}})

	r.RunPost("bash", json.RawMessage(`{}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(marker); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("post-hook never ran")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.yaml")
	content := "pre:\n  bash: echo pre\npost:\n  \"*\": echo post\n"
	os.WriteFile(path, []byte(content), 0o644)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pre["bash"] != "echo pre" || cfg.Post["*"] != "echo post" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Pre) != 0 || len(cfg.Post) != 0 {
		t.Errorf("missing file should yield empty config, got %+v", cfg)
	}
}

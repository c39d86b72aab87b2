package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/permission"
)

// BashTool executes shell commands. It supports streaming output lines to a
// sink while the command runs.
type BashTool struct {
	limits OutputLimits
}

// NewBashTool creates a new BashTool.
func NewBashTool(limits OutputLimits) *BashTool {
	return &BashTool{limits: limits}
}

// BashArgs are the arguments for bash.
type BashArgs struct {
	Command        string `json:"command"`
	WorkingDir     string `json:"working_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// shellResult contains the result of a shell command.
type shellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

func (t *BashTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        BashToolName,
		Description: "Execute a shell command. Returns stdout, stderr, and exit code.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"working_dir": map[string]interface{}{
					"type":        "string",
					"description": "Working directory (defaults to current directory)",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Command timeout in seconds (default: 30, max: 300)",
					"default":     30,
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *BashTool) Risk() permission.RiskLevel {
	return permission.RiskDangerous
}

func (t *BashTool) Preview(args json.RawMessage) string {
	var a BashArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return ""
	}
	return truncateCommand(a.Command)
}

func (t *BashTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.run(ctx, args, nil)
}

// ExecuteStreaming runs the command and forwards each output line to sink as
// it is produced. The full result is still returned at the end.
func (t *BashTool) ExecuteStreaming(ctx context.Context, args json.RawMessage, sink func(line string)) (string, error) {
	return t.run(ctx, args, sink)
}

func (t *BashTool) run(ctx context.Context, args json.RawMessage, sink func(line string)) (string, error) {
	var a BashArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Command == "" {
		return "", NewToolError(ErrInvalidParams, "command is required")
	}

	timeout := 30
	if a.TimeoutSeconds > 0 {
		timeout = a.TimeoutSeconds
	}
	if timeout > 300 {
		timeout = 300
	}

	workDir := a.WorkingDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return "", NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, detectShell(), "-c", a.Command)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	if sink != nil {
		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return "", NewToolErrorf(ErrExecutionFailed, "pipe error: %v", err)
		}
		stderrPipe, err := cmd.StderrPipe()
		if err != nil {
			return "", NewToolErrorf(ErrExecutionFailed, "pipe error: %v", err)
		}
		if err := cmd.Start(); err != nil {
			return "", NewToolErrorf(ErrExecutionFailed, "command error: %v", err)
		}

		done := make(chan struct{}, 2)
		scan := func(r interface{ Read([]byte) (int, error) }, buf *bytes.Buffer) {
			sc := bufio.NewScanner(r)
			sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for sc.Scan() {
				line := sc.Text()
				buf.WriteString(line)
				buf.WriteByte('\n')
				sink(line)
			}
			done <- struct{}{}
		}
		go scan(stdoutPipe, &stdout)
		go scan(stderrPipe, &stderr)
		<-done
		<-done

		err = cmd.Wait()
		return t.finish(execCtx, err, stdout.String(), stderr.String())
	}

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return t.finish(execCtx, err, stdout.String(), stderr.String())
}

func (t *BashTool) finish(execCtx context.Context, err error, stdout, stderr string) (string, error) {
	result := shellResult{Stdout: stdout, Stderr: stderr}

	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return formatShellResult(result, t.limits), nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return "", NewToolErrorf(ErrExecutionFailed, "command error: %v", err)
		}
	}
	return formatShellResult(result, t.limits), nil
}

// formatShellResult formats the shell result for the model.
func formatShellResult(result shellResult, limits OutputLimits) string {
	var sb strings.Builder

	stdout := result.Stdout
	stderr := result.Stderr
	truncated := false

	if int64(len(stdout)) > limits.MaxBytes {
		stdout = stdout[:limits.MaxBytes]
		truncated = true
	}
	if int64(len(stderr)) > limits.MaxBytes {
		stderr = stderr[:limits.MaxBytes]
		truncated = true
	}

	if result.TimedOut {
		sb.WriteString("[Command timed out]\n\n")
	}

	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}

	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}

	sb.WriteString(fmt.Sprintf("\nexit_code: %d", result.ExitCode))

	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}

	return sb.String()
}

// detectShell returns the user's shell.
func detectShell() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		return "bash"
	}
	return shell
}

// truncateCommand truncates a command for previews and error messages.
func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}

package ui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/strideai/stride/internal/permission"
)

// TerminalApprover prompts on the terminal for tool approval. Without a TTY
// every prompt denies, so non-interactive runs fail closed. The single
// long-lived reader keeps buffered read-ahead from one prompt stealing the
// answer to the next.
type TerminalApprover struct {
	in  *bufio.Reader
	out io.Writer
	tty bool
}

// NewTerminalApprover creates an approver reading from stdin and writing to
// stderr, keeping prompts out of piped stdout.
func NewTerminalApprover() *TerminalApprover {
	return &TerminalApprover{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		tty: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// Approve asks the user to allow a tool call. Answers: y (once), a (for the
// rest of the session), anything else denies.
func (a *TerminalApprover) Approve(toolName string, risk permission.RiskLevel, args json.RawMessage) permission.Outcome {
	if !a.tty {
		return permission.Denied
	}

	fmt.Fprintf(a.out, "\n%s wants to run %s %s\n",
		ToolName(toolName), riskLabel(risk), Muted(previewArgs(args)))
	fmt.Fprintf(a.out, "%s ", Warn("Allow? [y]es / [n]o / [a]lways this session:"))

	line, err := a.in.ReadString('\n')
	if err != nil {
		return permission.Denied
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return permission.Approved
	case "a", "always":
		return permission.ApproveAll
	default:
		return permission.Denied
	}
}

func riskLabel(risk permission.RiskLevel) string {
	switch risk {
	case permission.RiskReadOnly:
		return Muted("(read-only)")
	case permission.RiskModerate:
		return Warn("(modifies files)")
	case permission.RiskDangerous:
		return ErrorText("(dangerous)")
	default:
		return ""
	}
}

// previewArgs renders the call arguments on one line, truncated.
func previewArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		s := string(args)
		if len(s) > 120 {
			s = s[:117] + "..."
		}
		return s
	}
	compact, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	s := string(compact)
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

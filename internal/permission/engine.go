package permission

import (
	"encoding/json"
	"strings"
	"sync"
)

// Outcome of an interactive approval prompt.
type Outcome int

const (
	Denied Outcome = iota
	Approved
	ApproveAll // approve and remember the tool for the rest of the session
)

// Approver is the interactive approval capability supplied by the embedder.
type Approver interface {
	Approve(toolName string, risk RiskLevel, args json.RawMessage) Outcome
}

// Config is the static permission configuration. A snapshot of it plus the
// session-approved set fully determines every decision.
type Config struct {
	Disabled            []string
	AlwaysApprove       []string
	AllowPatterns       []Pattern
	DenyPatterns        []Pattern
	AutoApproveAll      bool
	AutoApproveReadOnly bool
	AutoApproveModerate bool
}

// Engine evaluates the fixed decision order. The session-approved set is
// monotonic: entries are only added, never removed except by Reset.
type Engine struct {
	cfg      Config
	approver Approver

	mu              sync.Mutex
	sessionApproved map[string]bool

	// promptMu serializes interactive prompts so parallel tool calls never
	// interleave output or race for the same input.
	promptMu sync.Mutex
}

func NewEngine(cfg Config, approver Approver) *Engine {
	return &Engine{
		cfg:             cfg,
		approver:        approver,
		sessionApproved: make(map[string]bool),
	}
}

// Check decides whether the tool call may run. Evaluation order, first match
// wins: disabled, deny patterns, allow patterns, auto-approve-all,
// always-approve, session grants, risk auto-approval, interactive prompt.
// With no approver registered the default is deny.
func (e *Engine) Check(toolName string, risk RiskLevel, args json.RawMessage) bool {
	name := strings.ToLower(toolName)

	for _, t := range e.cfg.Disabled {
		if strings.ToLower(t) == name {
			return false
		}
	}

	// Deny always wins over any subsequent allow.
	for _, p := range e.cfg.DenyPatterns {
		if p.Matches(toolName, args) {
			return false
		}
	}

	for _, p := range e.cfg.AllowPatterns {
		if p.Matches(toolName, args) {
			return true
		}
	}

	if e.cfg.AutoApproveAll {
		return true
	}

	for _, t := range e.cfg.AlwaysApprove {
		if strings.ToLower(t) == name {
			return true
		}
	}

	if e.isSessionApproved(name) {
		return true
	}

	if e.cfg.AutoApproveReadOnly && risk == RiskReadOnly {
		return true
	}
	if e.cfg.AutoApproveModerate && risk == RiskModerate {
		return true
	}

	if e.approver == nil {
		return false
	}

	e.promptMu.Lock()
	defer e.promptMu.Unlock()

	// A parallel call may have answered "always" while we waited for the
	// prompt lock.
	if e.isSessionApproved(name) {
		return true
	}

	switch e.approver.Approve(toolName, risk, args) {
	case Approved:
		return true
	case ApproveAll:
		e.approveSession(name)
		return true
	default:
		return false
	}
}

func (e *Engine) isSessionApproved(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionApproved[name]
}

func (e *Engine) approveSession(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionApproved[name] = true
}

// ApproveForSession adds a tool to the session-approved set directly.
func (e *Engine) ApproveForSession(toolName string) {
	e.approveSession(strings.ToLower(toolName))
}

// SessionApproved returns a snapshot of the session-approved tool names.
func (e *Engine) SessionApproved() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.sessionApproved))
	for name := range e.sessionApproved {
		names = append(names, name)
	}
	return names
}

// Reset clears the session-approved set. Never persisted, per-process only.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionApproved = make(map[string]bool)
}

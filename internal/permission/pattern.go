// Package permission decides whether a tool call may execute, combining
// static allow/deny patterns, risk-based auto-approval, session grants, and
// an interactive approver.
package permission

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// RiskLevel is the static danger classification of a tool.
type RiskLevel int

const (
	RiskReadOnly RiskLevel = iota
	RiskModerate
	RiskDangerous
)

func (r RiskLevel) String() string {
	switch r {
	case RiskReadOnly:
		return "read-only"
	case RiskModerate:
		return "moderate"
	case RiskDangerous:
		return "dangerous"
	default:
		return "unknown"
	}
}

// shellFamily tools match patterns against their command argument; all other
// tools match against path.
var shellFamily = map[string]bool{
	"bash":                     true,
	"shell":                    true,
	"start_background_process": true,
}

// Pattern is a parsed `ToolName(glob)` rule. The glob supports `*` (any
// non-separator), `**` (any including separators) and `?` (single char).
// Tool-name comparison is case-insensitive.
type Pattern struct {
	Tool string
	Glob string

	// compiled both ways: path-style globbing treats / as a separator,
	// command-style globbing has no separator so `*` spans anything.
	pathGlob glob.Glob
	cmdGlob  glob.Glob
}

// ParsePattern parses a rule like `Bash(rm -rf *)` or `read_file(/etc/**)`.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return Pattern{}, fmt.Errorf("invalid permission pattern %q: want ToolName(glob)", s)
	}
	p := Pattern{
		Tool: strings.ToLower(s[:open]),
		Glob: s[open+1 : len(s)-1],
	}
	var err error
	if p.pathGlob, err = glob.Compile(p.Glob, '/'); err != nil {
		return Pattern{}, fmt.Errorf("invalid glob in pattern %q: %w", s, err)
	}
	if p.cmdGlob, err = glob.Compile(p.Glob); err != nil {
		return Pattern{}, fmt.Errorf("invalid glob in pattern %q: %w", s, err)
	}
	return p, nil
}

// ParsePatterns parses a list of rules, returning the first error.
func ParsePatterns(rules []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(rules))
	for _, rule := range rules {
		p, err := ParsePattern(rule)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Matches reports whether the pattern applies to the given tool call.
// The relevant argument is extracted from the args JSON: command for
// shell-family tools, path otherwise.
func (p Pattern) Matches(toolName string, args json.RawMessage) bool {
	if p.Tool != strings.ToLower(toolName) {
		return false
	}
	arg, isCommand := ExtractArg(toolName, args)
	if arg == "" {
		return false
	}
	if isCommand {
		return p.cmdGlob.Match(arg)
	}
	return p.pathGlob.Match(arg)
}

// ExtractArg pulls the pattern-relevant argument out of the args JSON.
// Returns the value and whether it came from the command field.
func ExtractArg(toolName string, args json.RawMessage) (value string, isCommand bool) {
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return "", false
	}
	if shellFamily[strings.ToLower(toolName)] {
		if cmd, ok := m["command"].(string); ok {
			return cmd, true
		}
		return "", true
	}
	if path, ok := m["path"].(string); ok {
		return path, false
	}
	return "", false
}

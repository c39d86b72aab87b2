// Package tools provides the tool registry, the permission-aware dispatcher,
// and the builtin filesystem and shell tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/permission"
)

// Tool describes a callable local tool.
type Tool interface {
	Spec() llm.ToolSpec
	Risk() permission.RiskLevel
	Execute(ctx context.Context, args json.RawMessage) (string, error)
	// Preview returns a short human-readable description of what the tool
	// will do, shown before execution (e.g. the path being read).
	// Returns empty string if no preview is available.
	Preview(args json.RawMessage) string
}

// StreamingTool is an optional interface for tools that can emit incremental
// output lines to a sink while running.
type StreamingTool interface {
	Tool
	ExecuteStreaming(ctx context.Context, args json.RawMessage, sink func(line string)) (string, error)
}

// ToolErrorType provides structured errors for agent retry logic.
type ToolErrorType string

const (
	ErrFileNotFound     ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams    ToolErrorType = "INVALID_PARAMS"
	ErrPathRestricted   ToolErrorType = "PATH_RESTRICTED"
	ErrExecutionFailed  ToolErrorType = "EXECUTION_FAILED"
	ErrPermissionDenied ToolErrorType = "PERMISSION_DENIED"
	ErrBinaryFile       ToolErrorType = "BINARY_FILE"
	ErrFileTooLarge     ToolErrorType = "FILE_TOO_LARGE"
	ErrTimeout          ToolErrorType = "TIMEOUT"
)

// ToolError provides structured error information for retry logic.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Tool spec names
const (
	ReadFileToolName  = "read_file"
	WriteFileToolName = "write_file"
	EditFileToolName  = "edit_file"
	BashToolName      = "bash"
	GrepToolName      = "grep"
	GlobToolName      = "glob"
	ListDirToolName   = "list_dir"
)

// mutatingTools need a checkpoint snapshot of their path argument before
// they run.
var mutatingTools = map[string]bool{
	WriteFileToolName: true,
	EditFileToolName:  true,
}

// IsMutating reports whether a tool mutates files it names via path args.
// Case-insensitive, like registry lookup.
func IsMutating(name string) bool {
	return mutatingTools[strings.ToLower(name)]
}

// fileAffectingTools are subject to the directory restriction.
var fileAffectingTools = map[string]bool{
	ReadFileToolName:  true,
	WriteFileToolName: true,
	EditFileToolName:  true,
	GrepToolName:      true,
	GlobToolName:      true,
	ListDirToolName:   true,
}

// OutputLimits bound tool output fed back to the model.
type OutputLimits struct {
	MaxBytes int64
	MaxLines int
}

// DefaultOutputLimits returns the standard limits.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxBytes: 100 * 1024,
		MaxLines: 2000,
	}
}

// Mode restricts the tool catalog the model sees.
type Mode int

const (
	ModeNormal Mode = iota
	ModePlan
	ModeSandbox
)

func (m Mode) String() string {
	switch m {
	case ModePlan:
		return "plan"
	case ModeSandbox:
		return "sandbox"
	default:
		return "normal"
	}
}

// Allows reports whether a tool of the given risk may run in this mode.
// Plan and sandbox expose read-only tools only.
func (m Mode) Allows(risk permission.RiskLevel) bool {
	if m == ModeNormal {
		return true
	}
	return risk == permission.RiskReadOnly
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/permission"
)

// EditFileTool implements the edit_file tool.
type EditFileTool struct{}

// NewEditFileTool creates a new EditFileTool.
func NewEditFileTool() *EditFileTool {
	return &EditFileTool{}
}

// EditFileArgs are the arguments for edit_file.
type EditFileArgs struct {
	Path       string `json:"path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

func (t *EditFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        EditFileToolName,
		Description: "Replace an exact string in a file. old_string must match exactly once unless replace_all is set. Include enough surrounding context to make the match unique.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file to edit",
				},
				"old_string": map[string]interface{}{
					"type":        "string",
					"description": "Exact text to find and replace",
				},
				"new_string": map[string]interface{}{
					"type":        "string",
					"description": "Text to replace old_string with",
				},
				"replace_all": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace every occurrence instead of requiring a unique match",
				},
			},
			"required":             []string{"path", "old_string", "new_string"},
			"additionalProperties": false,
		},
	}
}

func (t *EditFileTool) Risk() permission.RiskLevel {
	return permission.RiskModerate
}

func (t *EditFileTool) Preview(args json.RawMessage) string {
	var a EditFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Path == "" {
		return ""
	}
	return a.Path
}

func (t *EditFileTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a EditFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Path == "" {
		return "", NewToolError(ErrInvalidParams, "path is required")
	}
	if a.OldString == "" {
		return "", NewToolError(ErrInvalidParams, "old_string is required")
	}
	if a.OldString == a.NewString {
		return "", NewToolError(ErrInvalidParams, "old_string and new_string are identical")
	}

	// Serialize concurrent edits to the same file with a lock file.
	// We can't lock the file itself because rename() replaces the inode,
	// and other goroutines holding fds to the old inode won't see changes.
	lockPath := a.Path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "failed to create lock file: %v", err)
	}
	defer func() {
		lockFile.Close()
		os.Remove(lockPath)
	}()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "failed to lock: %v", err)
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	data, err := os.ReadFile(a.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewToolError(ErrFileNotFound, a.Path)
		}
		return "", NewToolErrorf(ErrExecutionFailed, "read error: %v", err)
	}
	content := string(data)

	count := strings.Count(content, a.OldString)
	switch {
	case count == 0:
		return "", NewToolErrorf(ErrExecutionFailed, "old_string not found in %s", a.Path)
	case count > 1 && !a.ReplaceAll:
		return "", NewToolErrorf(ErrExecutionFailed, "old_string matches %d times in %s; add surrounding context or set replace_all", count, a.Path)
	}

	var newContent string
	replaced := count
	if a.ReplaceAll {
		newContent = strings.ReplaceAll(content, a.OldString, a.NewString)
	} else {
		newContent = strings.Replace(content, a.OldString, a.NewString, 1)
		replaced = 1
	}

	dir := filepath.Dir(a.Path)
	base := filepath.Base(a.Path)
	tempFile, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "failed to create temp file: %v", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFile.WriteString(newContent); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return "", NewToolErrorf(ErrExecutionFailed, "failed to write temp file: %v", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return "", NewToolErrorf(ErrExecutionFailed, "failed to close temp file: %v", err)
	}
	if info, err := os.Stat(a.Path); err == nil {
		os.Chmod(tempPath, info.Mode())
	}
	if err := os.Rename(tempPath, a.Path); err != nil {
		os.Remove(tempPath)
		return "", NewToolErrorf(ErrExecutionFailed, "failed to rename temp file: %v", err)
	}

	if replaced == 1 {
		return fmt.Sprintf("Edited %s: replaced %d lines with %d lines.", a.Path, countLines(a.OldString), countLines(a.NewString)), nil
	}
	return fmt.Sprintf("Edited %s: replaced %d occurrences.", a.Path, replaced), nil
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/permission"
)

// ListDirTool implements the list_dir tool.
type ListDirTool struct{}

// NewListDirTool creates a new ListDirTool.
func NewListDirTool() *ListDirTool {
	return &ListDirTool{}
}

// ListDirArgs are the arguments for list_dir.
type ListDirArgs struct {
	Path       string `json:"path,omitempty"`
	ShowHidden bool   `json:"show_hidden,omitempty"`
}

const maxListEntries = 500

func (t *ListDirTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ListDirToolName,
		Description: "List directory contents with file sizes. Directories are listed first.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory to list (defaults to current directory)",
				},
				"show_hidden": map[string]interface{}{
					"type":        "boolean",
					"description": "Include hidden files (default: false)",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *ListDirTool) Risk() permission.RiskLevel {
	return permission.RiskReadOnly
}

func (t *ListDirTool) Preview(args json.RawMessage) string {
	var a ListDirArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return a.Path
}

func (t *ListDirTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a ListDirArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}

	path := a.Path
	if path == "" {
		var err error
		path, err = os.Getwd()
		if err != nil {
			return "", NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err)
		}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "cannot resolve path: %v", err)
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewToolError(ErrFileNotFound, absPath)
		}
		return "", NewToolErrorf(ErrExecutionFailed, "read dir: %v", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var sb strings.Builder
	sb.WriteString(absPath + ":\n")
	shown := 0
	for _, e := range entries {
		if !a.ShowHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if shown >= maxListEntries {
			sb.WriteString(fmt.Sprintf("\n[Listing truncated at %d entries]", maxListEntries))
			break
		}
		if e.IsDir() {
			sb.WriteString(fmt.Sprintf("  %s/\n", e.Name()))
		} else {
			size := int64(0)
			if info, err := e.Info(); err == nil {
				size = info.Size()
			}
			sb.WriteString(fmt.Sprintf("  %s  %s\n", formatSize(size), e.Name()))
		}
		shown++
	}
	if shown == 0 {
		sb.WriteString("  (empty)\n")
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

// RegisterBuiltins registers the builtin file and shell tools.
func RegisterBuiltins(r *Registry, limits OutputLimits) {
	r.Register(NewReadFileTool(limits))
	r.Register(NewWriteFileTool())
	r.Register(NewEditFileTool())
	r.Register(NewBashTool(limits))
	r.Register(NewGrepTool(limits))
	r.Register(NewGlobTool())
	r.Register(NewListDirTool())
}

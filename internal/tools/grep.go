package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/permission"
)

// GrepTool implements the grep tool: regex search across files.
type GrepTool struct {
	limits OutputLimits
}

// NewGrepTool creates a new GrepTool.
func NewGrepTool(limits OutputLimits) *GrepTool {
	return &GrepTool{limits: limits}
}

// GrepArgs are the arguments for grep.
type GrepArgs struct {
	Pattern         string `json:"pattern"`
	Path            string `json:"path,omitempty"`
	Include         string `json:"include,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	MaxResults      int    `json:"max_results,omitempty"`
}

const (
	defaultGrepResults = 100
	maxGrepFileSize    = 10 * 1024 * 1024
)

func (t *GrepTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        GrepToolName,
		Description: "Search file contents with a regular expression. Returns matching lines as path:line: text.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Regular expression to search for (Go regexp syntax)",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File or directory to search (defaults to current directory)",
				},
				"include": map[string]interface{}{
					"type":        "string",
					"description": "Only search files matching this glob, e.g. '*.go' or '**/*.ts'",
				},
				"case_insensitive": map[string]interface{}{
					"type":        "boolean",
					"description": "Case-insensitive matching (default: false)",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of matching lines (default: 100)",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	}
}

func (t *GrepTool) Risk() permission.RiskLevel {
	return permission.RiskReadOnly
}

func (t *GrepTool) Preview(args json.RawMessage) string {
	var a GrepArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return ""
	}
	if a.Path != "" {
		return fmt.Sprintf("%s in %s", a.Pattern, a.Path)
	}
	return a.Pattern
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var a GrepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolError(ErrInvalidParams, err.Error())
	}
	if a.Pattern == "" {
		return "", NewToolError(ErrInvalidParams, "pattern is required")
	}

	pattern := a.Pattern
	if a.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "invalid pattern: %v", err)
	}

	basePath := a.Path
	if basePath == "" {
		basePath, err = os.Getwd()
		if err != nil {
			return "", NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err)
		}
	}
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "cannot resolve path: %v", err)
	}

	maxResults := a.MaxResults
	if maxResults <= 0 || maxResults > 1000 {
		maxResults = defaultGrepResults
	}

	var matches []string
	searched := 0

	info, err := os.Stat(absBase)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewToolError(ErrFileNotFound, absBase)
		}
		return "", NewToolErrorf(ErrExecutionFailed, "stat error: %v", err)
	}

	if !info.IsDir() {
		n, err := t.grepFile(re, absBase, absBase, maxResults, &matches)
		if err != nil {
			return "", err
		}
		searched = n
	} else {
		err = filepath.WalkDir(absBase, func(path string, d os.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != absBase {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}

			relPath, rerr := filepath.Rel(absBase, path)
			if rerr != nil {
				return nil
			}
			if a.Include != "" {
				matched, merr := doublestar.Match(a.Include, relPath)
				if merr != nil || !matched {
					// Also match against the bare filename so '*.go' works
					// without a ** prefix.
					if matched, _ = doublestar.Match(a.Include, d.Name()); !matched {
						return nil
					}
				}
			}

			searched++
			if _, gerr := t.grepFile(re, path, relPath, maxResults, &matches); gerr != nil {
				return nil
			}
			if len(matches) >= maxResults {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			return "", NewToolErrorf(ErrExecutionFailed, "walk error: %v", err)
		}
	}

	if len(matches) == 0 {
		return fmt.Sprintf("No matches found (%d files searched).", searched), nil
	}

	output := strings.Join(matches, "\n")
	if int64(len(output)) > t.limits.MaxBytes {
		output = output[:t.limits.MaxBytes] + "\n\n[Output truncated due to size limit]"
	} else if len(matches) >= maxResults {
		output += fmt.Sprintf("\n\n[Results truncated at %d matches]", maxResults)
	}
	return output, nil
}

// grepFile scans one file, appending "label:line: text" matches. Binary and
// oversized files are skipped. Returns 1 if the file was scanned.
func (t *GrepTool) grepFile(re *regexp.Regexp, path, label string, maxResults int, matches *[]string) (int, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxGrepFileSize {
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, nil
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	if isBinaryContent(head[:n]) {
		return 0, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return 0, nil
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if !re.MatchString(line) {
			continue
		}
		if len(line) > 500 {
			line = line[:500] + "..."
		}
		*matches = append(*matches, fmt.Sprintf("%s:%d: %s", label, lineNo, line))
		if len(*matches) >= maxResults {
			break
		}
	}
	return 1, nil
}

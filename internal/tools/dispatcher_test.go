package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/permission"
)

// fakeTool is a scriptable tool for dispatcher tests.
type fakeTool struct {
	name    string
	risk    permission.RiskLevel
	schema  map[string]interface{}
	execute func(ctx context.Context, args json.RawMessage) (string, error)

	mu    sync.Mutex
	calls int
}

func (t *fakeTool) Spec() llm.ToolSpec {
	schema := t.schema
	if schema == nil {
		schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return llm.ToolSpec{Name: t.name, Description: "test tool", Schema: schema}
}

func (t *fakeTool) Risk() permission.RiskLevel     { return t.risk }
func (t *fakeTool) Preview(json.RawMessage) string { return "" }

func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.execute != nil {
		return t.execute(ctx, args)
	}
	return "ok", nil
}

func (t *fakeTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func allowAllDispatcher(tools ...Tool) *Dispatcher {
	registry := NewRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	engine := permission.NewEngine(permission.Config{AutoApproveAll: true}, nil)
	return NewDispatcher(registry, engine)
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "c-" + name, Name: name, Arguments: json.RawMessage(args)}
}

func TestUnknownToolSuggestsClosest(t *testing.T) {
	d := allowAllDispatcher(&fakeTool{name: "read_file"})

	res := d.Execute(context.Background(), call("read_fiel", `{}`))
	if !res.IsError {
		t.Fatal("unknown tool must produce an error result")
	}
	if !strings.Contains(res.Content, "read_file") {
		t.Errorf("expected a closest-match suggestion, got %q", res.Content)
	}
}

func TestPermissionDenialIsResultNotPanic(t *testing.T) {
	tool := &fakeTool{name: "bash", risk: permission.RiskDangerous}
	registry := NewRegistry()
	registry.Register(tool)
	engine := permission.NewEngine(permission.Config{}, nil) // default deny
	d := NewDispatcher(registry, engine)

	res := d.Execute(context.Background(), call("bash", `{"command":"ls"}`))
	if !res.IsError || !strings.Contains(res.Content, "Permission denied") {
		t.Errorf("denied call must return a denial result, got %+v", res)
	}
	if tool.callCount() != 0 {
		t.Error("denied tool must not execute")
	}
}

func TestToolErrorBecomesErrorPrefixedContent(t *testing.T) {
	tool := &fakeTool{
		name: "read_file",
		execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", NewToolError(ErrFileNotFound, "no such file: /nope")
		},
	}
	d := allowAllDispatcher(tool)

	res := d.Execute(context.Background(), call("read_file", `{}`))
	if !res.IsError {
		t.Fatal("tool failure must be an error result")
	}
	if !strings.HasPrefix(res.Content, "ERROR: ") {
		t.Errorf("failures must be ERROR: prefixed, got %q", res.Content)
	}
	if !strings.Contains(res.Content, "FILE_NOT_FOUND") {
		t.Errorf("typed error code must reach the model, got %q", res.Content)
	}
}

func TestMissingRequiredArgument(t *testing.T) {
	tool := &fakeTool{
		name: "write_file",
		schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":    map[string]interface{}{"type": "string"},
				"content": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"path", "content"},
		},
	}
	d := allowAllDispatcher(tool)

	res := d.Execute(context.Background(), call("write_file", `{"path":"/tmp/x"}`))
	if !res.IsError {
		t.Fatal("missing required argument must fail validation")
	}
	if !strings.Contains(res.Content, "content") {
		t.Errorf("error must name the missing argument, got %q", res.Content)
	}
	if tool.callCount() != 0 {
		t.Error("tool must not execute with missing required arguments")
	}
}

func TestAliasNormalization(t *testing.T) {
	var got string
	tool := &fakeTool{
		name: "read_file",
		schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"path"},
		},
		execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			var m struct {
				Path string `json:"path"`
			}
			json.Unmarshal(args, &m)
			got = m.Path
			return "ok", nil
		},
	}
	d := allowAllDispatcher(tool)

	res := d.Execute(context.Background(), call("read_file", `{"file_path":"/tmp/a.go"}`))
	if res.IsError {
		t.Fatalf("aliased argument should validate, got %q", res.Content)
	}
	if got != "/tmp/a.go" {
		t.Errorf("file_path must normalize to path, tool saw %q", got)
	}
}

func TestModeRejectsRiskyTools(t *testing.T) {
	tool := &fakeTool{name: "bash", risk: permission.RiskDangerous}
	d := allowAllDispatcher(tool)
	d.Mode = ModePlan

	res := d.Execute(context.Background(), call("bash", `{"command":"ls"}`))
	if !res.IsError || !strings.Contains(res.Content, "plan") {
		t.Errorf("plan mode must reject non-read-only tools, got %+v", res)
	}
}

func TestRestrictRootBlocksEscapes(t *testing.T) {
	root := t.TempDir()
	tool := &fakeTool{
		name: "read_file",
		risk: permission.RiskReadOnly,
		schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
		},
	}
	d := allowAllDispatcher(tool)
	d.RestrictRoot = root

	inside := filepath.Join(root, "a.txt")
	os.WriteFile(inside, []byte("x"), 0644)

	res := d.Execute(context.Background(), call("read_file", `{"path":"`+inside+`"}`))
	if res.IsError {
		t.Errorf("path under the root must be allowed, got %q", res.Content)
	}

	res = d.Execute(context.Background(), call("read_file", `{"path":"/etc/passwd"}`))
	if !res.IsError || !strings.Contains(res.Content, "outside the allowed root") {
		t.Errorf("path outside the root must be rejected, got %+v", res)
	}
}

func TestIsMutatingIgnoresCase(t *testing.T) {
	if !IsMutating("Write_File") || !IsMutating("EDIT_FILE") {
		t.Error("mutating check must be case-insensitive like registry lookup")
	}
	if IsMutating("read_file") {
		t.Error("read_file does not mutate")
	}
}

func TestPerCallTimeoutExtendsDefault(t *testing.T) {
	tool := &fakeTool{
		name: "bash",
		execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "done", nil
		},
	}
	d := allowAllDispatcher(tool)
	d.Timeout = 10 * time.Millisecond

	res := d.Execute(context.Background(), call("bash", `{"command":"sleep 0.03","timeout_seconds":1}`))
	if res.IsError {
		t.Errorf("a requested timeout beyond the default must apply, got %q", res.Content)
	}

	// Without a per-call request the dispatcher default still governs.
	res = d.Execute(context.Background(), call("bash", `{"command":"sleep 0.03"}`))
	if !res.IsError || !strings.Contains(res.Content, "TIMEOUT") {
		t.Errorf("default timeout must still apply, got %+v", res)
	}
}

func TestTimeoutProducesTypedError(t *testing.T) {
	tool := &fakeTool{
		name: "bash",
		risk: permission.RiskDangerous,
		execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	d := allowAllDispatcher(tool)
	d.Timeout = 20 * time.Millisecond

	res := d.Execute(context.Background(), call("bash", `{"command":"sleep 99"}`))
	if !res.IsError || !strings.Contains(res.Content, "TIMEOUT") {
		t.Errorf("timed-out tool must report a TIMEOUT error, got %+v", res)
	}
}

func TestExecuteAllKeepsInputOrder(t *testing.T) {
	slow := &fakeTool{
		name: "slow",
		execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "slow done", nil
		},
	}
	fast := &fakeTool{name: "fast"}
	d := allowAllDispatcher(slow, fast)

	calls := []llm.ToolCall{
		{ID: "1", Name: "slow", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "fast", Arguments: json.RawMessage(`{}`)},
		{ID: "3", Name: "fast", Arguments: json.RawMessage(`{}`)},
	}
	results := d.ExecuteAll(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"1", "2", "3"} {
		if results[i].CallID != want {
			t.Errorf("result %d: expected call id %s, got %s", i, want, results[i].CallID)
		}
	}
}

func TestExecuteAllIsolatesFailures(t *testing.T) {
	boom := &fakeTool{
		name: "boom",
		execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			panic("tool blew up")
		},
	}
	fine := &fakeTool{name: "fine"}
	d := allowAllDispatcher(boom, fine)

	results := d.ExecuteAll(context.Background(), []llm.ToolCall{
		{ID: "1", Name: "boom", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "fine", Arguments: json.RawMessage(`{}`)},
	})
	if !results[0].IsError {
		t.Error("panicking tool must surface as an error result")
	}
	if results[1].IsError || results[1].Content != "ok" {
		t.Errorf("one call's failure must not affect the others, got %+v", results[1])
	}
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strideai/stride/internal/convo"
	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/permission"
	"github.com/strideai/stride/internal/tools"
)

// sliceStream replays a fixed event slice then EOF.
type sliceStream struct {
	events []llm.Event
	i      int
}

func (s *sliceStream) Recv() (llm.Event, error) {
	if s.i >= len(s.events) {
		return llm.Event{}, io.EOF
	}
	e := s.events[s.i]
	s.i++
	return e, nil
}

func (s *sliceStream) Close() error { return nil }

// stallStream blocks until the watchdog cancels the stream context.
type stallStream struct{ ctx context.Context }

func (s *stallStream) Recv() (llm.Event, error) {
	<-s.ctx.Done()
	return llm.Event{}, s.ctx.Err()
}

func (s *stallStream) Close() error { return nil }

// fakeProvider returns one scripted stream per call. A nil turn stalls.
type fakeProvider struct {
	turns    [][]llm.Event
	calls    int
	requests []llm.Request
}

func (p *fakeProvider) Name() string                   { return "fake" }
func (p *fakeProvider) Capabilities() llm.Capabilities { return llm.Capabilities{ToolCalls: true} }

func (p *fakeProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.requests = append(p.requests, req)
	if p.calls >= len(p.turns) {
		return nil, fmt.Errorf("unexpected turn %d", p.calls+1)
	}
	turn := p.turns[p.calls]
	p.calls++
	if turn == nil {
		return &stallStream{ctx: ctx}, nil
	}
	return &sliceStream{events: turn}, nil
}

// echoTool records its calls and echoes the text argument.
type echoTool struct {
	mu    sync.Mutex
	calls []string
	slow  string // a text value that sleeps before returning
}

func (t *echoTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "echo",
		Description: "echoes text",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"text"},
		},
	}
}

func (t *echoTool) Risk() permission.RiskLevel { return permission.RiskReadOnly }

func (t *echoTool) Preview(args json.RawMessage) string { return "" }

func (t *echoTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", err
	}
	if parsed.Text == t.slow {
		time.Sleep(30 * time.Millisecond)
	}
	t.mu.Lock()
	t.calls = append(t.calls, parsed.Text)
	t.mu.Unlock()
	return "echo: " + parsed.Text, nil
}

func (t *echoTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func newTestLoop(provider *fakeProvider, tool tools.Tool) (*Loop, *tools.Registry) {
	registry := tools.NewRegistry()
	registry.Register(tool)
	engine := permission.NewEngine(permission.Config{AutoApproveAll: true}, nil)
	dispatcher := tools.NewDispatcher(registry, engine)
	return &Loop{
		Provider:        provider,
		Registry:        registry,
		Dispatcher:      dispatcher,
		Model:           "test-model",
		NativeToolCalls: true,
		IdleTimeout:     time.Second,
	}, registry
}

func textEvent(text string) llm.Event {
	return llm.Event{Type: llm.EventTextDelta, Text: text}
}

func callEvent(id, name, args string) llm.Event {
	return llm.Event{Type: llm.EventToolCall, Tool: &llm.ToolCall{
		ID: id, Name: name, Arguments: json.RawMessage(args),
	}}
}

func TestToolCallThenFinalAnswer(t *testing.T) {
	provider := &fakeProvider{turns: [][]llm.Event{
		{textEvent("checking"), callEvent("t1", "echo", `{"text":"hi"}`)},
		{textEvent("the answer is hi")},
	}}
	tool := &echoTool{}
	loop, _ := newTestLoop(provider, tool)

	conv := convo.New()
	conv.AppendUser("say hi")

	res, err := loop.RunUntilQuiet(context.Background(), conv)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stopped != StopComplete {
		t.Errorf("expected StopComplete, got %v", res.Stopped)
	}
	if res.Text != "the answer is hi" {
		t.Errorf("unexpected final text %q", res.Text)
	}
	if res.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", res.Iterations)
	}
	if tool.callCount() != 1 {
		t.Errorf("expected 1 tool execution, got %d", tool.callCount())
	}

	// The conversation carries assistant(text+call), tool result, assistant.
	msgs := conv.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	calls := msgs[1].ToolCalls()
	if len(calls) != 1 || calls[0].ID != "t1" {
		t.Errorf("assistant message must carry the tool call, got %v", calls)
	}
	result := msgs[2].Parts[0].ToolResult
	if result == nil || result.ID != "t1" || result.Content != "echo: hi" {
		t.Errorf("tool result must be attributed by id, got %+v", result)
	}
}

func TestTextParsedFallback(t *testing.T) {
	markup := `<tool_call>{"name": "echo", "arguments": {"text": "parsed"}}</tool_call>`
	provider := &fakeProvider{turns: [][]llm.Event{
		{textEvent("Let me do that.\n"), textEvent(markup)},
		{textEvent("done")},
	}}
	tool := &echoTool{}
	loop, _ := newTestLoop(provider, tool)

	conv := convo.New()
	conv.AppendUser("go")

	res, err := loop.RunUntilQuiet(context.Background(), conv)
	if err != nil {
		t.Fatal(err)
	}
	if tool.callCount() != 1 {
		t.Fatalf("text-parsed call must dispatch, executions=%d", tool.callCount())
	}
	if strings.Contains(res.Text, "tool_call") {
		t.Errorf("markup must not leak into visible text: %q", res.Text)
	}

	// Visible assistant text in the conversation excludes the markup too.
	for _, m := range conv.Messages() {
		if m.Role == llm.RoleAssistant && strings.Contains(m.Text(), "<tool_call>") {
			t.Errorf("markup leaked into conversation: %q", m.Text())
		}
	}
}

func TestNativeWinsOverTextParsed(t *testing.T) {
	markup := `<tool_call>{"name": "echo", "arguments": {"text": "fromtext"}}</tool_call>`
	provider := &fakeProvider{turns: [][]llm.Event{
		{textEvent(markup), callEvent("n1", "echo", `{"text":"fromnative"}`)},
		{textEvent("ok")},
	}}
	tool := &echoTool{}
	loop, _ := newTestLoop(provider, tool)

	conv := convo.New()
	conv.AppendUser("go")

	if _, err := loop.RunUntilQuiet(context.Background(), conv); err != nil {
		t.Fatal(err)
	}
	tool.mu.Lock()
	defer tool.mu.Unlock()
	if len(tool.calls) != 1 || tool.calls[0] != "fromnative" {
		t.Errorf("native channel must win when both are present, calls=%v", tool.calls)
	}
}

func TestParallelResultsKeepCallOrder(t *testing.T) {
	provider := &fakeProvider{turns: [][]llm.Event{
		{
			callEvent("a", "echo", `{"text":"first"}`),
			callEvent("b", "echo", `{"text":"second"}`),
			callEvent("c", "echo", `{"text":"third"}`),
		},
		{textEvent("ok")},
	}}
	tool := &echoTool{slow: "first"} // first call finishes last
	loop, _ := newTestLoop(provider, tool)

	conv := convo.New()
	conv.AppendUser("go")

	if _, err := loop.RunUntilQuiet(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	var resultIDs []string
	for _, m := range conv.Messages() {
		if m.Role == llm.RoleTool {
			resultIDs = append(resultIDs, m.Parts[0].ToolResult.ID)
		}
	}
	if len(resultIDs) != 3 || resultIDs[0] != "a" || resultIDs[1] != "b" || resultIDs[2] != "c" {
		t.Errorf("tool results must land in call order, got %v", resultIDs)
	}
}

func TestNudgeFiresOnce(t *testing.T) {
	provider := &fakeProvider{turns: [][]llm.Event{
		{textEvent("I will read main.go now.")},
		{textEvent("Here is my actual answer.")},
	}}
	tool := &echoTool{}
	loop, _ := newTestLoop(provider, tool)

	conv := convo.New()
	conv.AppendUser("check main.go")

	res, err := loop.RunUntilQuiet(context.Background(), conv)
	if err != nil {
		t.Fatal(err)
	}
	if provider.calls != 2 {
		t.Fatalf("nudge should trigger exactly one extra turn, got %d calls", provider.calls)
	}
	if res.Text != "Here is my actual answer." {
		t.Errorf("unexpected final text %q", res.Text)
	}

	// The second request must contain the injected reminder.
	last := provider.requests[1].Messages
	found := false
	for _, m := range last {
		if m.Role == llm.RoleUser && strings.Contains(m.Text(), "Reminder") {
			found = true
		}
	}
	if !found {
		t.Error("second request must carry the nudge reminder message")
	}
}

func TestMaxIterations(t *testing.T) {
	// Every turn emits a tool call, so the loop can never settle.
	turn := []llm.Event{callEvent("x", "echo", `{"text":"again"}`)}
	provider := &fakeProvider{turns: [][]llm.Event{turn, turn, turn}}
	tool := &echoTool{}
	loop, _ := newTestLoop(provider, tool)
	loop.MaxIterations = 2

	conv := convo.New()
	conv.AppendUser("go")

	res, err := loop.RunUntilQuiet(context.Background(), conv)
	if err == nil {
		t.Fatal("expected an error at the iteration cap")
	}
	if res.Stopped != StopMaxIterations {
		t.Errorf("expected StopMaxIterations, got %v", res.Stopped)
	}
	if res.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", res.Iterations)
	}
}

func TestIdleTimeoutEscalatesAfterThreeStalls(t *testing.T) {
	provider := &fakeProvider{turns: [][]llm.Event{nil, nil, nil}}
	tool := &echoTool{}
	loop, _ := newTestLoop(provider, tool)
	loop.IdleTimeout = 10 * time.Millisecond

	conv := convo.New()
	conv.AppendUser("go")

	res, err := loop.RunUntilQuiet(context.Background(), conv)
	if err == nil {
		t.Fatal("expected an idle timeout error")
	}
	if res.Stopped != StopIdleTimeout {
		t.Errorf("expected StopIdleTimeout, got %v", res.Stopped)
	}
	if provider.calls != 3 {
		t.Errorf("expected exactly 3 stream attempts, got %d", provider.calls)
	}
}

func TestCancelledContextReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &fakeProvider{turns: [][]llm.Event{{textEvent("never sent")}}}
	tool := &echoTool{}
	loop, _ := newTestLoop(provider, tool)

	conv := convo.New()
	conv.AppendUser("go")

	res, err := loop.RunUntilQuiet(ctx, conv)
	if err == nil {
		t.Fatal("expected context error")
	}
	if res.Stopped != StopCancelled {
		t.Errorf("expected StopCancelled, got %v", res.Stopped)
	}
}

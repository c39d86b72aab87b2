package convo

import (
	"context"
	"strings"
	"testing"

	"github.com/strideai/stride/internal/llm"
)

func TestWireMessagesSystemFirst(t *testing.T) {
	c := New()
	c.AppendUser("hello")
	c.SetSystemPrompt("be helpful")
	c.AppendAssistant(llm.Part{Type: llm.PartText, Text: "hi"})

	wire := c.WireMessages()
	if len(wire) != 3 {
		t.Fatalf("expected 3 wire messages, got %d", len(wire))
	}
	if wire[0].Role != llm.RoleSystem || wire[0].Text() != "be helpful" {
		t.Errorf("system prompt must come first, got %v", wire[0])
	}
	if wire[1].Role != llm.RoleUser || wire[2].Role != llm.RoleAssistant {
		t.Error("ordered messages must follow the system prompt")
	}
	if c.Len() != 2 {
		t.Errorf("system prompt must not count as an ordered message, Len=%d", c.Len())
	}
}

func TestFromMessagesExtractsLeadingSystem(t *testing.T) {
	c := FromMessages([]llm.Message{
		llm.SystemText("prompt"),
		llm.UserText("hi"),
		llm.AssistantText("hello"),
	})
	if c.SystemPrompt() != "prompt" {
		t.Errorf("leading system message should become the system prompt, got %q", c.SystemPrompt())
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 ordered messages, got %d", c.Len())
	}
}

func TestRemoveLastTurns(t *testing.T) {
	// user, assistant+call, tool, assistant, user, assistant
	c := New()
	c.AppendUser("first")
	c.AppendAssistant(
		llm.Part{Type: llm.PartText, Text: "reading"},
		llm.Part{Type: llm.PartToolCall, ToolCall: &llm.ToolCall{ID: "c1", Name: "read_file"}},
	)
	c.AppendToolResult("c1", "read_file", "contents", false)
	c.AppendAssistant(llm.Part{Type: llm.PartText, Text: "done"})
	c.AppendUser("second")
	c.AppendAssistant(llm.Part{Type: llm.PartText, Text: "answer"})

	if c.Turns() != 2 {
		t.Fatalf("expected 2 turns, got %d", c.Turns())
	}

	removed := c.RemoveLastTurns(1)
	if removed != 2 {
		t.Errorf("expected 2 messages removed (user, assistant), got %d", removed)
	}
	if c.Len() != 4 {
		t.Errorf("expected 4 messages left, got %d", c.Len())
	}
	msgs := c.Messages()
	if msgs[len(msgs)-1].Text() != "done" {
		t.Errorf("first turn must survive intact, tail is %q", msgs[len(msgs)-1].Text())
	}
}

func TestRemoveLastTurnsBeyondHistory(t *testing.T) {
	c := New()
	c.AppendUser("only")
	c.AppendAssistant(llm.Part{Type: llm.PartText, Text: "reply"})

	if removed := c.RemoveLastTurns(5); removed != 2 {
		t.Errorf("removing more turns than exist should clear everything, removed=%d", removed)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty conversation, got %d messages", c.Len())
	}
	if removed := c.RemoveLastTurns(1); removed != 0 {
		t.Errorf("removing from empty conversation should be a no-op, removed=%d", removed)
	}
}

func TestEstimateTokensCountsToolParts(t *testing.T) {
	c := New()
	c.AppendUser(strings.Repeat("a", 35))
	if got := c.EstimateTokens(); got != 10 {
		t.Errorf("35 chars at 3.5 chars/token should estimate 10, got %d", got)
	}

	c.AppendToolResult("c1", "bash", strings.Repeat("b", 70), false)
	if got := c.EstimateTokens(); got != 30 {
		t.Errorf("tool result content must count toward the estimate, got %d", got)
	}
}

type stubSummarizer struct {
	summary string
	err     error
	calls   int
	lastReq llm.Request
}

func (s *stubSummarizer) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.calls++
	s.lastReq = req
	return s.summary, s.err
}

func addTurn(c *Conversation, user, assistant string) {
	c.AppendUser(user)
	c.AppendAssistant(llm.Part{Type: llm.PartText, Text: assistant})
}

func TestCompactPreservesRecentTurns(t *testing.T) {
	c := New()
	c.SetSystemPrompt("prompt")
	for i := 0; i < 6; i++ {
		addTurn(c, "question "+string(rune('a'+i)), "answer "+string(rune('a'+i)))
	}

	summ := &stubSummarizer{summary: "earlier stuff happened"}
	compactor := &Compactor{Summarizer: summ, Model: "m", ContextWindow: 1000, PreserveLastN: 4}

	compacted, err := compactor.Compact(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if !compacted {
		t.Fatal("expected compaction to occur")
	}
	if summ.calls != 1 {
		t.Errorf("expected one summarizer call, got %d", summ.calls)
	}
	if summ.lastReq.Temperature != 0 {
		t.Errorf("summary must run at temperature 0, got %v", summ.lastReq.Temperature)
	}

	msgs := c.Messages()
	// summary pair + 4 preserved turns of 2 messages each
	if len(msgs) != 10 {
		t.Fatalf("expected 10 messages after compaction, got %d", len(msgs))
	}
	if !strings.HasPrefix(msgs[0].Text(), "[Conversation summary] ") {
		t.Errorf("first message must carry the summary prefix, got %q", msgs[0].Text())
	}
	if msgs[1].Role != llm.RoleAssistant {
		t.Error("summary must be paired with a synthetic assistant acknowledgment")
	}
	if msgs[2].Text() != "question c" {
		t.Errorf("preserve window must start at the right turn, got %q", msgs[2].Text())
	}
	if c.SystemPrompt() != "prompt" {
		t.Error("system prompt must survive compaction")
	}
}

func TestCompactNoopWithinPreserveWindow(t *testing.T) {
	c := New()
	for i := 0; i < 3; i++ {
		addTurn(c, "q", "a")
	}
	summ := &stubSummarizer{summary: "s"}
	compactor := &Compactor{Summarizer: summ, Model: "m", ContextWindow: 1000, PreserveLastN: 4}

	compacted, err := compactor.Compact(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if compacted {
		t.Error("nothing older than the preserve window, compaction must be a no-op")
	}
	if summ.calls != 0 {
		t.Error("summarizer must not be called for a no-op compaction")
	}
}

func TestShouldCompactThreshold(t *testing.T) {
	c := New()
	c.AppendUser(strings.Repeat("x", 3500)) // ~1000 tokens

	compactor := &Compactor{ContextWindow: 1000}
	if !compactor.ShouldCompact(c) {
		t.Error("estimate at 100% of the window must trigger compaction")
	}

	compactor.ContextWindow = 10000
	if compactor.ShouldCompact(c) {
		t.Error("estimate at 10% of the window must not trigger compaction")
	}

	compactor.ContextWindow = 0
	if compactor.ShouldCompact(c) {
		t.Error("unknown context window disables compaction")
	}
}

package convo

import (
	"context"
	"fmt"
	"strings"

	"github.com/strideai/stride/internal/llm"
)

const (
	// DefaultCompactThreshold is the estimated-tokens / context-window ratio
	// at which compaction triggers.
	DefaultCompactThreshold = 0.8

	// DefaultPreserveLastN is how many recent turns compaction never touches.
	DefaultPreserveLastN = 4

	// summaryMaxTokens caps the summary completion.
	summaryMaxTokens = 512

	// summaryPrefix marks the synthetic summary message.
	summaryPrefix = "[Conversation summary] "

	// summaryAck is the synthetic assistant acknowledgment paired with the
	// summary.
	summaryAck = "Understood — continuing from the summary."
)

// Summarizer produces a non-streaming completion. The OpenAI-compatible
// provider satisfies this with its Complete method.
type Summarizer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Compactor replaces old message prefixes with a model-generated summary when
// the conversation approaches the context window.
type Compactor struct {
	Summarizer    Summarizer
	Model         string
	ContextWindow int     // in tokens
	Threshold     float64 // 0 means DefaultCompactThreshold
	PreserveLastN int     // 0 means DefaultPreserveLastN
}

func (c *Compactor) threshold() float64 {
	if c.Threshold > 0 {
		return c.Threshold
	}
	return DefaultCompactThreshold
}

func (c *Compactor) preserve() int {
	if c.PreserveLastN > 0 {
		return c.PreserveLastN
	}
	return DefaultPreserveLastN
}

// ShouldCompact reports whether the conversation has crossed the threshold.
func (c *Compactor) ShouldCompact(conv *Conversation) bool {
	if c.ContextWindow <= 0 {
		return false
	}
	ratio := float64(conv.EstimateTokens()) / float64(c.ContextWindow)
	return ratio >= c.threshold()
}

// Compact summarizes everything older than the preserve window and replaces
// it with a synthetic summary pair. The last PreserveLastN turns are never
// touched. Returns whether compaction occurred.
func (c *Compactor) Compact(ctx context.Context, conv *Conversation) (bool, error) {
	starts := conv.turnStarts()
	if len(starts) <= c.preserve() {
		return false, nil
	}

	// Boundary: the user message opening the first preserved turn.
	cut := starts[len(starts)-c.preserve()]
	if cut == 0 {
		return false, nil
	}
	prefix := conv.messages[:cut]

	summary, err := c.summarize(ctx, prefix)
	if err != nil {
		return false, fmt.Errorf("compaction summary: %w", err)
	}

	replaced := []llm.Message{
		llm.UserText(summaryPrefix + summary),
		llm.AssistantText(summaryAck),
	}
	conv.messages = append(replaced, conv.messages[cut:]...)
	return true, nil
}

// summarize asks the model for a single-paragraph summary of the prefix,
// at temperature 0 with a small max_tokens cap.
func (c *Compactor) summarize(ctx context.Context, prefix []llm.Message) (string, error) {
	if c.Summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}

	req := llm.Request{
		Model: c.Model,
		Messages: []llm.Message{
			llm.SystemText("You summarize conversations. Reply with a single paragraph capturing the key facts, decisions, file paths, and outcomes. No preamble."),
			llm.UserText("Summarize this conversation so far:\n\n" + renderTranscript(prefix)),
		},
		Temperature:     0,
		MaxOutputTokens: summaryMaxTokens,
	}
	summary, err := c.Summarizer.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// renderTranscript flattens messages to a plain-text transcript for the
// summary prompt. Tool calls and results are shown compactly.
func renderTranscript(messages []llm.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			switch {
			case p.Type == llm.PartText && p.Text != "":
				sb.WriteString(fmt.Sprintf("%s: %s\n", m.Role, p.Text))
			case p.ToolCall != nil:
				sb.WriteString(fmt.Sprintf("%s called %s(%s)\n", m.Role, p.ToolCall.Name, truncate(string(p.ToolCall.Arguments), 200)))
			case p.ToolResult != nil:
				sb.WriteString(fmt.Sprintf("tool %s returned: %s\n", p.ToolResult.Name, truncate(p.ToolResult.Content, 300)))
			}
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

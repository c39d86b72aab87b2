// Package convo holds the ordered message history for a session, its token
// estimate, and summary-based compaction.
package convo

import (
	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/stream"
)

// Conversation is an ordered sequence of messages plus an optional system
// prompt. The system prompt is never part of the ordered sequence; it is
// emitted first in wire format. Not thread-safe: callers must serialize
// appends.
type Conversation struct {
	systemPrompt string
	messages     []llm.Message
}

// New creates an empty conversation.
func New() *Conversation {
	return &Conversation{}
}

// FromMessages creates a conversation from stored messages, pulling a leading
// system message out into the system prompt slot.
func FromMessages(messages []llm.Message) *Conversation {
	c := &Conversation{}
	for _, m := range messages {
		if m.Role == llm.RoleSystem && c.systemPrompt == "" && len(c.messages) == 0 {
			c.systemPrompt = m.Text()
			continue
		}
		c.messages = append(c.messages, m)
	}
	return c
}

// SetSystemPrompt sets the system prompt.
func (c *Conversation) SetSystemPrompt(text string) {
	c.systemPrompt = text
}

// SystemPrompt returns the system prompt.
func (c *Conversation) SystemPrompt() string {
	return c.systemPrompt
}

// AppendUser appends a user text message.
func (c *Conversation) AppendUser(text string) {
	c.messages = append(c.messages, llm.UserText(text))
}

// AppendAssistant appends an assistant message with the given parts.
func (c *Conversation) AppendAssistant(parts ...llm.Part) {
	c.messages = append(c.messages, llm.Message{Role: llm.RoleAssistant, Parts: parts})
}

// AppendMessage appends an already-built message.
func (c *Conversation) AppendMessage(msg llm.Message) {
	c.messages = append(c.messages, msg)
}

// AppendToolResult appends a tool result attributed by call id.
func (c *Conversation) AppendToolResult(callID, name, text string, isError bool) {
	if isError {
		c.messages = append(c.messages, llm.ToolErrorMessage(callID, name, text))
		return
	}
	c.messages = append(c.messages, llm.ToolResultMessage(callID, name, text))
}

// Messages returns a copy of the ordered messages, system prompt excluded.
func (c *Conversation) Messages() []llm.Message {
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of ordered messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// WireMessages returns the messages in wire order: system prompt first, then
// the ordered sequence.
func (c *Conversation) WireMessages() []llm.Message {
	out := make([]llm.Message, 0, len(c.messages)+1)
	if c.systemPrompt != "" {
		out = append(out, llm.SystemText(c.systemPrompt))
	}
	return append(out, c.messages...)
}

// EstimateTokens returns the running token estimate: total characters across
// all parts divided by the chars-per-token ratio. Used only for compaction
// triggering.
func (c *Conversation) EstimateTokens() int {
	chars := len(c.systemPrompt)
	for _, m := range c.messages {
		chars += messageChars(m)
	}
	return stream.EstimateTokens(chars)
}

func messageChars(m llm.Message) int {
	chars := 0
	for _, p := range m.Parts {
		chars += len(p.Text)
		if p.ToolCall != nil {
			chars += len(p.ToolCall.Name) + len(p.ToolCall.Arguments)
		}
		if p.ToolResult != nil {
			chars += len(p.ToolResult.Content)
		}
	}
	return chars
}

// turnStarts returns the indices of the user messages that open each turn.
// A turn is one user message plus all subsequent assistant/tool messages up
// to the next user message.
func (c *Conversation) turnStarts() []int {
	var starts []int
	for i, m := range c.messages {
		if m.Role == llm.RoleUser {
			starts = append(starts, i)
		}
	}
	return starts
}

// Turns returns the number of complete turns.
func (c *Conversation) Turns() int {
	return len(c.turnStarts())
}

// RemoveLastTurns removes the last n complete turns, walking backwards from
// the tail. Returns the number of messages removed.
func (c *Conversation) RemoveLastTurns(n int) int {
	if n <= 0 {
		return 0
	}
	starts := c.turnStarts()
	if len(starts) == 0 {
		return 0
	}
	idx := len(starts) - n
	if idx < 0 {
		idx = 0
	}
	cut := starts[idx]
	removed := len(c.messages) - cut
	c.messages = c.messages[:cut]
	return removed
}

// Clear removes all messages but keeps the system prompt.
func (c *Conversation) Clear() {
	c.messages = nil
}

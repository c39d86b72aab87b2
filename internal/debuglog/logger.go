// Package debuglog captures LLM requests and stream events to JSONL files
// for debugging, one file per session under the data dir.
package debuglog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/strideai/stride/internal/llm"
)

// Logger writes requests and events as JSON lines. All methods are safe to
// call on a nil receiver, so callers never branch on whether debugging is on.
type Logger struct {
	sessionID string
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	closeOnce sync.Once
	closed    bool
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
}

type requestEntry struct {
	logEntry
	Iteration int         `json:"iteration,omitempty"`
	Model     string      `json:"model"`
	Request   requestData `json:"request"`
}

type requestData struct {
	Messages        []debugMessage `json:"messages"`
	Tools           []string       `json:"tools,omitempty"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	Temperature     float32        `json:"temperature,omitempty"`
}

type debugMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type debugPart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *debugToolCall  `json:"tool_call,omitempty"`
	ToolResult *llm.ToolResult `json:"tool_result,omitempty"`
}

type debugToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type eventEntry struct {
	logEntry
	EventType string `json:"event_type"`
	Data      any    `json:"data,omitempty"`
}

// DefaultDir returns the debug log directory under the data dir.
func DefaultDir(dataDir string) string {
	return filepath.Join(dataDir, "debug")
}

// New creates a Logger writing to <dir>/<sessionID>.jsonl. Log files older
// than seven days are removed on open.
func New(dir, sessionID string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	_ = cleanupOldLogs(dir, 7*24*time.Hour)

	filename := filepath.Join(dir, sessionID+".jsonl")
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	return &Logger{
		sessionID: sessionID,
		file:      file,
		writer:    bufio.NewWriter(file),
	}, nil
}

// LogRequest records one model request, tagged with the loop iteration.
func (l *Logger) LogRequest(iteration int, req llm.Request) {
	if l == nil {
		return
	}

	toolNames := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolNames = append(toolNames, t.Name)
	}

	entry := requestEntry{
		logEntry:  l.header("request"),
		Iteration: iteration,
		Model:     req.Model,
		Request: requestData{
			Messages:        convertMessages(req.Messages),
			Tools:           toolNames,
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
		},
	}
	l.writeEntry(entry)
	l.Flush()
}

// LogEvent records one stream event.
func (l *Logger) LogEvent(event llm.Event) {
	if l == nil {
		return
	}

	entry := eventEntry{
		logEntry:  l.header("event"),
		EventType: string(event.Type),
	}

	switch event.Type {
	case llm.EventTextDelta:
		entry.Data = map[string]string{"text": event.Text}
	case llm.EventToolCall:
		if event.Tool != nil {
			entry.Data = map[string]any{
				"id":        event.Tool.ID,
				"name":      event.Tool.Name,
				"arguments": event.Tool.Arguments,
			}
		}
	case llm.EventToolExecStart, llm.EventToolExecEnd:
		data := map[string]any{
			"tool_call_id": event.ToolCallID,
			"tool_name":    event.ToolName,
		}
		if event.Type == llm.EventToolExecEnd {
			data["success"] = event.ToolSuccess
		}
		entry.Data = data
	case llm.EventUsage:
		if event.Use != nil {
			entry.Data = map[string]int{
				"input_tokens":  event.Use.InputTokens,
				"output_tokens": event.Use.OutputTokens,
			}
		}
	case llm.EventError:
		if event.Err != nil {
			entry.Data = map[string]string{"error": event.Err.Error()}
		}
	}

	l.writeEntry(entry)
	if event.Type == llm.EventDone {
		l.Flush()
	}
}

// Close flushes and closes the log file. Idempotent.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.file == nil {
			return
		}
		if err := l.writer.Flush(); err != nil {
			closeErr = err
		}
		if err := l.file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		l.closed = true
	})
	return closeErr
}

// Flush flushes the buffered writer to disk.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.writer == nil {
		return
	}
	l.writer.Flush()
}

func (l *Logger) header(typ string) logEntry {
	return logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: l.sessionID,
		Type:      typ,
	}
}

func (l *Logger) writeEntry(entry any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.writer.Write(data)
	l.writer.WriteString("\n")
}

func convertMessages(messages []llm.Message) []debugMessage {
	result := make([]debugMessage, len(messages))
	for i, msg := range messages {
		result[i] = debugMessage{
			Role:    string(msg.Role),
			Content: convertParts(msg.Parts),
		}
	}
	return result
}

func convertParts(parts []llm.Part) any {
	if len(parts) == 1 && parts[0].Type == llm.PartText {
		return parts[0].Text
	}

	result := make([]debugPart, len(parts))
	for i, part := range parts {
		dp := debugPart{Type: string(part.Type)}
		switch part.Type {
		case llm.PartText:
			dp.Text = part.Text
		case llm.PartToolCall:
			if part.ToolCall != nil {
				dp.ToolCall = &debugToolCall{
					ID:        part.ToolCall.ID,
					Name:      part.ToolCall.Name,
					Arguments: part.ToolCall.Arguments,
				}
			}
		case llm.PartToolResult:
			dp.ToolResult = part.ToolResult
		}
		result[i] = dp
	}
	return result
}

// cleanupOldLogs removes JSONL log files older than maxAge.
func cleanupOldLogs(dir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

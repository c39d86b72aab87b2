// Package agent drives the model through a tool-using loop: stream output,
// collect tool calls from the native channel or from tagged text, dispatch
// them, reinject results, and repeat until the model stops calling tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/strideai/stride/internal/convo"
	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/parse"
	"github.com/strideai/stride/internal/stream"
	"github.com/strideai/stride/internal/tools"
)

const (
	// DefaultMaxIterations caps how many model turns one user message may
	// trigger.
	DefaultMaxIterations = 20

	// maxConsecutiveIdleTimeouts escalates repeated stream stalls to a hard
	// error instead of retrying forever.
	maxConsecutiveIdleTimeouts = 3
)

// StopReason explains why RunUntilQuiet returned.
type StopReason int

const (
	StopComplete StopReason = iota
	StopMaxIterations
	StopCancelled
	StopIdleTimeout
)

func (r StopReason) String() string {
	switch r {
	case StopComplete:
		return "complete"
	case StopMaxIterations:
		return "max-iterations"
	case StopCancelled:
		return "cancelled"
	case StopIdleTimeout:
		return "idle-timeout"
	default:
		return "unknown"
	}
}

// Result is the outcome of one RunUntilQuiet call.
type Result struct {
	Text       string // final (or partial) assistant text
	Iterations int
	Usage      llm.Usage
	Stopped    StopReason
}

// TurnMetrics summarizes one model turn for the turn callback.
type TurnMetrics struct {
	InputTokens  int
	OutputTokens int
	ToolCalls    int
}

// TurnFunc is invoked after each turn with the messages generated during it.
// Used for incremental session saving.
type TurnFunc func(ctx context.Context, turnIndex int, messages []llm.Message, metrics TurnMetrics)

// Loop iterates model turns to a fixed point.
type Loop struct {
	Provider   llm.Provider
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
	Compactor  *convo.Compactor // optional

	Model           string
	Temperature     float32
	MaxOutputTokens int
	MaxIterations   int
	IdleTimeout     time.Duration
	NativeToolCalls bool

	// UI callbacks, all optional.
	OnText      func(delta string)
	OnToolStart func(call llm.ToolCall, preview string)
	OnToolEnd   func(res tools.Result)
	OnTurn      TurnFunc
}

// RunUntilQuiet loops model turns until the model produces no tool calls, the
// iteration cap is reached, the context is cancelled, or the stream stalls
// three times in a row. Tool results land in the conversation in the same
// order as the tool calls in the assistant message.
func (l *Loop) RunUntilQuiet(ctx context.Context, conv *convo.Conversation) (Result, error) {
	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	var res Result
	idleStreak := 0
	nudged := false

	for iter := 1; iter <= maxIter; iter++ {
		res.Iterations = iter
		idleRetry := false

		if ctx.Err() != nil {
			res.Stopped = StopCancelled
			return res, ctx.Err()
		}

		if l.Compactor != nil && l.Compactor.ShouldCompact(conv) {
			if _, err := l.Compactor.Compact(ctx, conv); err != nil {
				slog.Warn("compaction failed, continuing uncompacted", "error", err)
			}
		}

		turn, err := l.runStream(ctx, conv)
		if err != nil {
			if turn.idle {
				idleStreak++
				if idleStreak >= maxConsecutiveIdleTimeouts {
					l.appendPartial(conv, turn.visible)
					res.Text = turn.visible
					res.Stopped = StopIdleTimeout
					return res, fmt.Errorf("stream idle timeout %d times in a row", idleStreak)
				}
				// The iteration ends with whatever was accumulated; completed
				// tool-call markup in the partial text still dispatches below,
				// and a contentless stall retries.
				idleRetry = true
			} else if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				l.appendPartial(conv, turn.visible)
				res.Text = turn.visible
				res.Stopped = StopCancelled
				return res, context.Canceled
			} else {
				return res, err
			}
		} else {
			idleStreak = 0
		}

		res.Usage.InputTokens += turn.usage.InputTokens
		res.Usage.OutputTokens += turn.usage.OutputTokens

		// Native wins: text-parsed calls are considered only when the
		// structured channel stayed silent for the whole turn.
		calls := turn.native
		if len(calls) == 0 {
			calls = parse.ExtractToolCalls(turn.raw)
		}

		if len(calls) == 0 {
			if idleRetry {
				l.appendPartial(conv, turn.visible)
				continue
			}
			if !nudged && parse.ShouldNudge(turn.raw, 0) {
				nudged = true
				l.appendPartial(conv, turn.visible)
				conv.AppendUser(parse.NudgeText)
				continue
			}
			l.appendPartial(conv, turn.visible)
			res.Text = turn.visible
			res.Stopped = StopComplete
			l.fireTurn(ctx, iter-1, conv, 0, turn)
			return res, nil
		}

		calls = ensureCallIDs(calls, iter)
		assistantMsg := buildAssistantMessage(turn.visible, calls)
		conv.AppendMessage(assistantMsg)

		for _, call := range calls {
			if l.OnToolStart != nil {
				l.OnToolStart(call, l.preview(call))
			}
		}

		results := l.Dispatcher.ExecuteAll(ctx, calls)
		turnMessages := []llm.Message{assistantMsg}
		for _, r := range results {
			if l.OnToolEnd != nil {
				l.OnToolEnd(r)
			}
			conv.AppendToolResult(r.CallID, r.Name, r.Content, r.IsError)
			if r.IsError {
				turnMessages = append(turnMessages, llm.ToolErrorMessage(r.CallID, r.Name, r.Content))
			} else {
				turnMessages = append(turnMessages, llm.ToolResultMessage(r.CallID, r.Name, r.Content))
			}
		}

		res.Text = turn.visible
		if l.OnTurn != nil {
			l.OnTurn(ctx, iter-1, turnMessages, TurnMetrics{
				InputTokens:  turn.usage.InputTokens,
				OutputTokens: turn.usage.OutputTokens,
				ToolCalls:    len(calls),
			})
		}
	}

	res.Stopped = StopMaxIterations
	return res, fmt.Errorf("agent loop exceeded max iterations (%d)", maxIter)
}

// turnState collects everything one streamed model turn produced.
type turnState struct {
	visible string
	raw     string
	native  []llm.ToolCall
	usage   llm.Usage
	idle    bool
}

// runStream opens one streaming request and consumes it through the tag
// filter under an idle watchdog.
func (l *Loop) runStream(ctx context.Context, conv *convo.Conversation) (turnState, error) {
	var turn turnState

	req := llm.Request{
		Model:             l.Model,
		Messages:          conv.WireMessages(),
		Temperature:       l.Temperature,
		MaxOutputTokens:   l.MaxOutputTokens,
		ParallelToolCalls: true,
	}
	if l.NativeToolCalls {
		req.Tools = l.Registry.Specs(l.Dispatcher.Mode)
		req.ToolChoice = llm.ToolChoice{Mode: llm.ToolChoiceAuto}
	}

	wd, wctx := stream.NewWatchdog(ctx, l.IdleTimeout)
	defer wd.Stop()

	s, err := l.Provider.Stream(wctx, req)
	if err != nil {
		return turn, err
	}
	defer s.Close()

	filter := stream.NewTagFilter()
	var visible strings.Builder
	var streamErr error

	emit := func(out string) {
		if out == "" {
			return
		}
		visible.WriteString(out)
		if l.OnText != nil {
			l.OnText(out)
		}
	}

recv:
	for {
		event, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		wd.Reset()

		switch event.Type {
		case llm.EventTextDelta:
			emit(filter.Feed(event.Text))
		case llm.EventToolCall:
			if event.Tool != nil {
				turn.native = append(turn.native, *event.Tool)
			}
		case llm.EventUsage:
			if event.Use != nil {
				turn.usage.InputTokens += event.Use.InputTokens
				turn.usage.OutputTokens += event.Use.OutputTokens
			}
		case llm.EventError:
			if event.Err != nil {
				streamErr = event.Err
				break recv
			}
		}
	}

	emit(filter.Flush())
	turn.visible = strings.TrimSpace(visible.String())
	turn.raw = filter.Raw()
	turn.idle = wd.Expired()

	if turn.idle {
		return turn, fmt.Errorf("stream idle timeout")
	}
	return turn, streamErr
}

// appendPartial records accumulated assistant text, if any.
func (l *Loop) appendPartial(conv *convo.Conversation, text string) {
	if text == "" {
		return
	}
	conv.AppendAssistant(llm.Part{Type: llm.PartText, Text: text})
}

// fireTurn invokes the turn callback for a text-only final turn.
func (l *Loop) fireTurn(ctx context.Context, turnIndex int, conv *convo.Conversation, toolCalls int, turn turnState) {
	if l.OnTurn == nil || turn.visible == "" {
		return
	}
	msg := llm.Message{Role: llm.RoleAssistant, Parts: []llm.Part{{Type: llm.PartText, Text: turn.visible}}}
	l.OnTurn(ctx, turnIndex, []llm.Message{msg}, TurnMetrics{
		InputTokens:  turn.usage.InputTokens,
		OutputTokens: turn.usage.OutputTokens,
		ToolCalls:    toolCalls,
	})
}

func (l *Loop) preview(call llm.ToolCall) string {
	tool, ok := l.Registry.Resolve(call.Name)
	if !ok {
		return ""
	}
	return tool.Preview(call.Arguments)
}

// buildAssistantMessage creates an assistant message with text and tool call
// parts, in emission order.
func buildAssistantMessage(text string, calls []llm.ToolCall) llm.Message {
	var parts []llm.Part
	if text != "" {
		parts = append(parts, llm.Part{Type: llm.PartText, Text: text})
	}
	for i := range calls {
		call := calls[i]
		parts = append(parts, llm.Part{Type: llm.PartToolCall, ToolCall: &call})
	}
	return llm.Message{Role: llm.RoleAssistant, Parts: parts}
}

// ensureCallIDs fills in missing or duplicate call ids so every tool result
// can be attributed unambiguously.
func ensureCallIDs(calls []llm.ToolCall, iteration int) []llm.ToolCall {
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		id := calls[i].ID
		if id == "" || seen[id] {
			id = fmt.Sprintf("call_%d_%d", iteration, i)
		}
		for seen[id] {
			id += "x"
		}
		seen[id] = true
		calls[i].ID = id
	}
	return calls
}

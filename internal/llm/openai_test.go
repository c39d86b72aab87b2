package llm

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRenderWireMessagesRoundTrip(t *testing.T) {
	msgs := []Message{
		SystemText("be terse"),
		UserText("read main.go"),
		{
			Role: RoleAssistant,
			Parts: []Part{
				{Type: PartText, Text: "reading it now"},
				{Type: PartToolCall, ToolCall: &ToolCall{
					ID:        "call_1",
					Name:      "read_file",
					Arguments: json.RawMessage(`{"path":"main.go"}`),
				}},
			},
		},
		ToolResultMessage("call_1", "read_file", "package main"),
		AssistantText("done"),
	}

	wire := renderWireMessages(msgs)
	back := parseWireMessages(wire)

	if !reflect.DeepEqual(msgs, back) {
		t.Errorf("round trip mismatch:\nin:  %+v\nout: %+v", msgs, back)
	}
}

func TestRenderWireMessagesSystemFirst(t *testing.T) {
	msgs := []Message{
		SystemText("sys"),
		UserText("hi"),
	}
	wire := renderWireMessages(msgs)
	if len(wire) != 2 {
		t.Fatalf("expected 2 wire messages, got %d", len(wire))
	}
	if wire[0].Role != "system" {
		t.Errorf("expected system first, got %s", wire[0].Role)
	}
}

func TestRenderWireMessagesToolResultID(t *testing.T) {
	msgs := []Message{ToolResultMessage("call_9", "grep", "no matches")}
	wire := renderWireMessages(msgs)
	if len(wire) != 1 {
		t.Fatalf("expected 1 wire message, got %d", len(wire))
	}
	if wire[0].Role != "tool" || wire[0].ToolCallID != "call_9" {
		t.Errorf("tool result not attributed by call id: %+v", wire[0])
	}
}

func TestWireToolStateAssemblesDeltas(t *testing.T) {
	state := newWireToolState()

	// Deltas arrive interleaved across two calls, keyed by index.
	state.Add([]oaiToolCall{{Index: 0, ID: "call_a", Function: oaiFunctionCall{Name: "read_file"}}})
	state.Add([]oaiToolCall{{Index: 1, ID: "call_b", Function: oaiFunctionCall{Name: "grep"}}})
	state.Add([]oaiToolCall{{Index: 0, Function: oaiFunctionCall{Arguments: `{"path":`}}})
	state.Add([]oaiToolCall{{Index: 1, Function: oaiFunctionCall{Arguments: `{"pattern":"x"}`}}})
	state.Add([]oaiToolCall{{Index: 0, Function: oaiFunctionCall{Arguments: `"a.go"}`}}})

	calls := state.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "call_a" || string(calls[0].Arguments) != `{"path":"a.go"}` {
		t.Errorf("call 0 misassembled: %+v", calls[0])
	}
	if calls[1].Name != "grep" || string(calls[1].Arguments) != `{"pattern":"x"}` {
		t.Errorf("call 1 misassembled: %+v", calls[1])
	}
}

func TestParseMaxTokensLimit(t *testing.T) {
	cases := []struct {
		body string
		want int
	}{
		{`{"error":{"message":"max_tokens must be less than or equal to 4096"}}`, 4096},
		{"`max_tokens` must be less than or equal to `8192`", 8192},
		{`{"error":{"message":"invalid request"}}`, 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := ParseMaxTokensLimit(tc.body); got != tc.want {
			t.Errorf("ParseMaxTokensLimit(%q) = %d, want %d", tc.body, got, tc.want)
		}
	}
}

func TestBuildWireToolChoice(t *testing.T) {
	if got := buildWireToolChoice(ToolChoice{Mode: ToolChoiceNone}); got != "none" {
		t.Errorf("expected none, got %v", got)
	}
	if got := buildWireToolChoice(ToolChoice{Mode: ToolChoiceAuto}); got != "auto" {
		t.Errorf("expected auto, got %v", got)
	}
	named, ok := buildWireToolChoice(ToolChoice{Mode: ToolChoiceName, Name: "read_file"}).(map[string]interface{})
	if !ok || named["type"] != "function" {
		t.Errorf("expected function object, got %v", named)
	}
}

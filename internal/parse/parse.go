// Package parse extracts structured tool calls from assistant text for
// models that emit tagged or bare JSON instead of native function calls.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/strideai/stride/internal/llm"
)

// recognizer dialects, tried in order. The first one that yields matches
// stops the search.
var (
	reToolCallTag = regexp.MustCompile(`(?is)<tool_call>\s*(.*?)\s*</tool_call>`)
	rePipeTag     = regexp.MustCompile(`(?is)<\|tool_call\|>\s*(.*?)\s*<\|/tool_call\|>`)
	reBracketTag  = regexp.MustCompile(`(?is)\[TOOL_CALL\]\s*(.*?)\s*\[/TOOL_CALL\]`)
	reFuncTag     = regexp.MustCompile(`(?is)<function_call>\s*(.*?)\s*</function_call>`)
	reFenced      = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)```")
	reUnclosed    = regexp.MustCompile(`(?is)<tool_call>\s*(.*)$`)

	reThinkBlock     = regexp.MustCompile(`(?is)<think>.*?</think>`)
	reThinkUnclosed  = regexp.MustCompile(`(?is)<think>.*$`)
	reAssistantBlock = regexp.MustCompile(`(?is)<assistant>.*?</assistant>`)
)

// ExtractToolCalls parses tool calls out of assistant text. Reasoning and
// assistant blocks are stripped first so markers inside them are not
// mistaken for real calls; if that pass finds nothing, a second pass that
// keeps unclosed think content recovers calls stranded when the model never
// closed its reasoning block. Closed think blocks stay stripped in both
// passes.
func ExtractToolCalls(text string) []llm.ToolCall {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	calls := extract(stripReasoning(text, true))
	if len(calls) == 0 {
		calls = extract(stripReasoning(text, false))
	}
	return assignIDs(calls)
}

func stripReasoning(text string, includeUnclosed bool) string {
	text = reThinkBlock.ReplaceAllString(text, "")
	if includeUnclosed {
		text = reThinkUnclosed.ReplaceAllString(text, "")
	}
	text = reAssistantBlock.ReplaceAllString(text, "")
	return text
}

func extract(text string) []llm.ToolCall {
	for _, re := range []*regexp.Regexp{reToolCallTag, rePipeTag, reBracketTag, reFuncTag} {
		if calls := extractTagged(re, text); len(calls) > 0 {
			return calls
		}
	}
	if calls := extractFenced(text); len(calls) > 0 {
		return calls
	}
	if calls := extractUnclosed(text); len(calls) > 0 {
		return calls
	}
	return extractBare(text)
}

func extractTagged(re *regexp.Regexp, text string) []llm.ToolCall {
	var calls []llm.ToolCall
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if call, ok := decodeCall(m[1], false); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

func extractFenced(text string) []llm.ToolCall {
	var calls []llm.ToolCall
	for _, m := range reFenced.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if !strings.HasPrefix(body, "{") {
			continue
		}
		if call, ok := decodeCall(body, true); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

func extractUnclosed(text string) []llm.ToolCall {
	m := reUnclosed.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	payload := strings.TrimSpace(m[1])
	// The payload may be cut off mid-JSON; take the first balanced object.
	obj, ok := firstJSONObject(payload)
	if !ok {
		return nil
	}
	if call, ok := decodeCall(obj, false); ok {
		return []llm.ToolCall{call}
	}
	return nil
}

func extractBare(text string) []llm.ToolCall {
	var calls []llm.ToolCall
	rest := text
	for {
		obj, ok := firstJSONObject(rest)
		if !ok {
			break
		}
		idx := strings.Index(rest, obj)
		rest = rest[idx+len(obj):]
		if call, ok := decodeCall(obj, true); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// decodeCall parses one candidate JSON object into a tool call.
// Accepted shapes: {name, arguments|parameters}, {"function": {...}},
// {"tool_call": {...}}. When requireArgs is set (fenced and bare JSON),
// objects without an argument map are rejected, and for bare objects the
// name key must appear before the arguments key.
func decodeCall(body string, requireArgs bool) (llm.ToolCall, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return llm.ToolCall{}, false
	}

	// Unwrap {"tool_call": {...}} and {"function": {...}}.
	for _, wrapper := range []string{"tool_call", "function"} {
		if inner, ok := raw[wrapper]; ok && len(raw) <= 2 {
			var innerMap map[string]json.RawMessage
			if err := json.Unmarshal(inner, &innerMap); err == nil {
				if _, hasName := innerMap["name"]; hasName {
					raw = innerMap
					body = string(inner)
				}
			}
		}
	}

	var name string
	if err := json.Unmarshal(raw["name"], &name); err != nil || name == "" {
		return llm.ToolCall{}, false
	}

	args, argsKey := raw["arguments"], "arguments"
	if args == nil {
		args, argsKey = raw["parameters"], "parameters"
	}
	if args == nil {
		if requireArgs {
			return llm.ToolCall{}, false
		}
		args = json.RawMessage(`{}`)
	} else if requireArgs && !nameBeforeKey(body, argsKey) {
		return llm.ToolCall{}, false
	}

	return llm.ToolCall{Name: name, Arguments: args}, true
}

// nameBeforeKey reports whether the "name" key appears before the argument
// key in the object's text. Bare JSON where arguments precede name is more
// likely data than a call.
func nameBeforeKey(body, argsKey string) bool {
	ni := strings.Index(body, `"name"`)
	ai := strings.Index(body, `"`+argsKey+`"`)
	return ni >= 0 && (ai < 0 || ni < ai)
}

// firstJSONObject returns the first balanced top-level JSON object in text.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func assignIDs(calls []llm.ToolCall) []llm.ToolCall {
	for i := range calls {
		calls[i].ID = "parsed_" + uuid.NewString()
	}
	return calls
}

package parse

import (
	"regexp"
	"strings"
)

// NudgeText is injected as a single-turn user message when the model talks
// about performing an action instead of emitting a real tool call.
const NudgeText = "Reminder: to perform actions you must emit tool calls, " +
	"either via native function calling or a <tool_call>{\"name\": ..., \"arguments\": ...}</tool_call> block. " +
	"Describing the action in prose or a code block does nothing."

var (
	reActionVerb = regexp.MustCompile(`(?i)\b(read|open|edit|write|create|delete|run|execute|search|list)\b`)
	rePathLike   = regexp.MustCompile(`(?:^|[\s"'` + "`" + `])(?:\.{0,2}/)?[\w.-]+/[\w./-]+|\b[\w-]+\.(?:go|py|js|ts|md|txt|json|yaml|yml|toml|sh|c|h|rs)\b`)
	reCallShaped = regexp.MustCompile(`(?s)"name"\s*:.*"(?:arguments|parameters)"\s*:`)
)

// markerOpeners are the tool-call markers the extractor recognizes. Their
// presence suppresses the nudge even when the payload failed to decode.
var markerOpeners = []string{
	"<tool_call>",
	"<|tool_call|>",
	"[tool_call]",
	"<function_call>",
	"<|function_call|>",
}

func containsMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range markerOpeners {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ShouldNudge reports whether a reminder is warranted: no tool call was
// extracted, but the text either carries a fenced block shaped like a call
// or pairs an action verb with a filesystem path. Never fires once any
// marker was recognized.
func ShouldNudge(text string, extracted int) bool {
	if extracted > 0 {
		return false
	}
	if strings.TrimSpace(text) == "" {
		return false
	}
	if containsMarker(text) {
		return false
	}
	for _, m := range reFenced.FindAllStringSubmatch(text, -1) {
		if reCallShaped.MatchString(m[1]) {
			return true
		}
	}
	return reActionVerb.MatchString(text) && rePathLike.MatchString(text)
}

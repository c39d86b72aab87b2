package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// paramAliases maps common model mistakes onto canonical parameter names.
// Applied only when the alias is absent from the schema and the canonical
// name is present and unset.
var paramAliases = map[string]string{
	"file_path":    "path",
	"filepath":     "path",
	"filename":     "path",
	"directory":    "path",
	"cmd":          "command",
	"find":         "old_string",
	"replacement":  "new_string",
	"instructions": "task",
}

// NormalizeArgs parses the argument blob and applies alias resolution and
// missing-required inference against the tool's schema. An unparseable blob
// becomes an empty object so validation can report what is missing.
func NormalizeArgs(args json.RawMessage, schema map[string]interface{}) json.RawMessage {
	var m map[string]json.RawMessage
	if len(args) == 0 || json.Unmarshal(args, &m) != nil || m == nil {
		return json.RawMessage(`{}`)
	}

	props := schemaProperties(schema)

	for key, value := range m {
		if _, known := props[key]; known {
			continue
		}
		canonical, ok := paramAliases[key]
		if !ok {
			continue
		}
		if _, inSchema := props[canonical]; !inSchema {
			continue
		}
		if _, alreadySet := m[canonical]; alreadySet {
			continue
		}
		m[canonical] = value
		delete(m, key)
	}

	inferMissingRequired(m, schema, props)

	out, err := json.Marshal(m)
	if err != nil {
		return args
	}
	return out
}

// inferMissingRequired handles the unambiguous case: the schema requires
// exactly one string property, it is missing, and the input carries exactly
// one unrecognized string value. That value is promoted.
func inferMissingRequired(m map[string]json.RawMessage, schema map[string]interface{}, props map[string]interface{}) {
	required := requiredSet(schema)
	if len(required) != 1 {
		return
	}
	var want string
	for k := range required {
		want = k
	}
	if _, present := m[want]; present {
		return
	}
	pm, ok := props[want].(map[string]interface{})
	if !ok || pm["type"] != "string" {
		return
	}

	var candidate string
	var candidateVal json.RawMessage
	for k, v := range m {
		if _, known := props[k]; known {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) != nil {
			continue
		}
		if candidate != "" {
			return // ambiguous
		}
		candidate, candidateVal = k, v
	}
	if candidate == "" {
		return
	}
	m[want] = candidateVal
	delete(m, candidate)
}

// ValidateRequired checks required schema properties. The error body quotes
// both the schema and the provided args so the model can self-correct.
func ValidateRequired(toolName string, schema map[string]interface{}, args json.RawMessage) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(args, &m); err != nil {
		m = nil
	}

	var missing []string
	for name := range requiredSet(schema) {
		if _, ok := m[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)

	schemaJSON, _ := json.Marshal(schema)
	return NewToolErrorf(ErrInvalidParams,
		"missing required arguments for %s: %s\nschema: %s\nprovided: %s",
		toolName, strings.Join(missing, ", "), schemaJSON, args)
}

// WarnUnknownParams returns a warning line per argument key not in the
// schema, or "" when all keys are known. Prepended to tool output.
func WarnUnknownParams(args json.RawMessage, schema map[string]interface{}) string {
	var m map[string]interface{}
	if err := json.Unmarshal(args, &m); err != nil {
		return ""
	}
	props := schemaProperties(schema)
	var unknown []string
	for k := range m {
		if _, ok := props[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return ""
	}
	sort.Strings(unknown)
	var sb strings.Builder
	for _, k := range unknown {
		sb.WriteString(fmt.Sprintf("Unknown parameter '%s' was ignored\n", k))
	}
	return sb.String()
}

func schemaProperties(schema map[string]interface{}) map[string]interface{} {
	props, _ := schema["properties"].(map[string]interface{})
	if props == nil {
		props = map[string]interface{}{}
	}
	return props
}

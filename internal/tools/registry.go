package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strideai/stride/internal/llm"
)

// Registry stores tools by case-insensitive name. Registration happens at
// startup; after that the registry is read-only, so no locking is needed.
type Registry struct {
	tools map[string]Tool // keyed by lowercase name
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register indexes a tool by its spec name. Duplicates replace existing
// entries.
func (r *Registry) Register(tool Tool) {
	r.tools[strings.ToLower(tool.Spec().Name)] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	delete(r.tools, strings.ToLower(name))
}

// Resolve is the single lookup.
func (r *Registry) Resolve(name string) (Tool, bool) {
	tool, ok := r.tools[strings.ToLower(name)]
	return tool, ok
}

// Names returns registered names sorted for deterministic catalogs.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the specs for tools allowed in the given mode, ordered by
// name.
func (r *Registry) Specs(mode Mode) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, name := range r.Names() {
		tool := r.tools[name]
		if !mode.Allows(tool.Risk()) {
			continue
		}
		specs = append(specs, tool.Spec())
	}
	return specs
}

// FindClosestMatch returns the nearest registered name within edit distance
// 2, or empty string.
func (r *Registry) FindClosestMatch(name string) string {
	name = strings.ToLower(name)
	best := ""
	bestDist := 3
	for _, candidate := range r.Names() {
		if d := levenshtein(name, candidate); d < bestDist {
			best = candidate
			bestDist = d
		}
	}
	return best
}

// TextCatalog produces the textual tool listing embedded in the system
// prompt for models without native function calling. Deterministic order.
func (r *Registry) TextCatalog(mode Mode) string {
	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, spec := range r.Specs(mode) {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", spec.Name, spec.Description))
		if props, ok := spec.Schema["properties"].(map[string]interface{}); ok {
			required := requiredSet(spec.Schema)
			names := make([]string, 0, len(props))
			for p := range props {
				names = append(names, p)
			}
			sort.Strings(names)
			for _, p := range names {
				desc := ""
				typ := ""
				if pm, ok := props[p].(map[string]interface{}); ok {
					desc, _ = pm["description"].(string)
					typ, _ = pm["type"].(string)
				}
				marker := ""
				if required[p] {
					marker = " (required)"
				}
				sb.WriteString(fmt.Sprintf("    %s <%s>%s: %s\n", p, typ, marker, desc))
			}
		}
	}
	sb.WriteString("\nTo call a tool, emit exactly:\n<tool_call>{\"name\": \"tool_name\", \"arguments\": {...}}</tool_call>\n")
	return sb.String()
}

func requiredSet(schema map[string]interface{}) map[string]bool {
	set := make(map[string]bool)
	switch req := schema["required"].(type) {
	case []string:
		for _, k := range req {
			set[k] = true
		}
	case []interface{}:
		for _, k := range req {
			if s, ok := k.(string); ok {
				set[s] = true
			}
		}
	}
	return set
}

// levenshtein computes edit distance between two strings.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

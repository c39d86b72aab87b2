package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/strideai/stride/internal/llm"
	"github.com/strideai/stride/internal/permission"
	"github.com/strideai/stride/internal/tools"
)

// ProxiedTool describes one MCP server tool under its registry name.
type ProxiedTool struct {
	Server       string
	OriginalName string
	Spec         ToolSpec
}

// Tool adapts a proxied MCP tool to the tools.Tool interface. Calls are
// routed to the owning server with the original (unprefixed) tool name.
type Tool struct {
	manager *Manager
	proxied ProxiedTool
}

// NewTool creates a registry tool for a proxied MCP tool.
func NewTool(manager *Manager, proxied ProxiedTool) *Tool {
	return &Tool{manager: manager, proxied: proxied}
}

func (t *Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.proxied.Spec.Name,
		Description: t.proxied.Spec.Description,
		Schema:      t.proxied.Spec.Schema,
	}
}

// Risk classifies every MCP tool as moderate: the server's behavior is
// outside our control, so read-only auto-approval never applies.
func (t *Tool) Risk() permission.RiskLevel {
	return permission.RiskModerate
}

func (t *Tool) Preview(args json.RawMessage) string {
	return fmt.Sprintf("%s via %s", t.proxied.OriginalName, t.proxied.Server)
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	client := t.manager.client(t.proxied.Server)
	if client == nil {
		return "", fmt.Errorf("MCP server %s is not running", t.proxied.Server)
	}
	return client.CallTool(ctx, t.proxied.OriginalName, args)
}

// RegisterTools registers all ready servers' tools into the registry,
// removing entries for servers that are no longer ready first.
func RegisterTools(manager *Manager, registry *tools.Registry) {
	for _, name := range registry.Names() {
		if len(name) > 4 && name[:4] == "mcp_" {
			registry.Unregister(name)
		}
	}
	for _, proxied := range manager.AllTools() {
		registry.Register(NewTool(manager, proxied))
	}
}

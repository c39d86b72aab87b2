package mcp

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	cfg, err := LoadConfigFromPath(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Servers) != 0 {
		t.Errorf("missing config must load as empty, got %v", cfg.Servers)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "mcp.json")
	cfg := &Config{Servers: map[string]ServerConfig{
		"files": {
			Command: "mcp-files",
			Args:    []string{"--root", "/tmp"},
			Env:     map[string]string{"DEBUG": "1"},
		},
	}}
	if err := cfg.SaveToPath(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadConfigFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	server, ok := loaded.Servers["files"]
	if !ok {
		t.Fatal("saved server missing after reload")
	}
	if server.Command != "mcp-files" || len(server.Args) != 2 || server.Env["DEBUG"] != "1" {
		t.Errorf("round trip lost fields: %+v", server)
	}
}

func TestServerNamesSorted(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{
		"zeta":  {Command: "z"},
		"alpha": {Command: "a"},
		"mid":   {Command: "m"},
	}}
	names := cfg.ServerNames()
	if len(names) != 3 || names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("expected sorted names, got %v", names)
	}
}

func TestValidateRequiresCommand(t *testing.T) {
	cfg := ServerConfig{}
	if err := cfg.Validate(); err == nil {
		t.Error("empty command must fail validation")
	}
}

func TestProxiedName(t *testing.T) {
	if got := ProxiedName("files", "list"); got != "mcp_files_list" {
		t.Errorf("expected mcp_files_list, got %q", got)
	}
}

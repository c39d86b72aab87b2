package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ServerStatus represents the current state of an MCP server.
// Lifecycle: stopped -> starting -> ready -> closing -> closed, with any
// protocol error moving the server to failed.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
	StatusClosing  ServerStatus = "closing"
	StatusClosed   ServerStatus = "closed"
)

// ServerState holds the state of a managed MCP server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
	Client *Client
}

// Manager handles MCP server lifecycle and exposes their tools.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	clients  map[string]*Client
	statuses map[string]*ServerState
}

// NewManager creates a new MCP manager.
func NewManager() *Manager {
	return &Manager{
		clients:  make(map[string]*Client),
		statuses: make(map[string]*ServerState),
	}
}

// LoadConfig loads the MCP configuration from the default path.
func (m *Manager) LoadConfig() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	m.SetConfig(cfg)
	return nil
}

// SetConfig replaces the configuration.
func (m *Manager) SetConfig(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Config returns the current configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// AvailableServers returns the names of all configured servers.
func (m *Manager) AvailableServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil
	}
	return m.config.ServerNames()
}

// ServerStatus returns the current status of a server.
func (m *Manager) ServerStatus(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.statuses[name]
	if !ok {
		return StatusStopped, nil
	}
	return state.Status, state.Error
}

// Enable starts an MCP server synchronously. On success its tools become
// available through AllTools.
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.config == nil {
		m.mu.Unlock()
		return fmt.Errorf("no MCP configuration loaded")
	}
	serverCfg, ok := m.config.Servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown MCP server: %s", name)
	}
	if state, ok := m.statuses[name]; ok {
		if state.Status == StatusStarting || state.Status == StatusReady {
			m.mu.Unlock()
			return nil
		}
	}
	if err := serverCfg.Validate(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("MCP server %s: %w", name, err)
	}

	client := NewClient(name, serverCfg)
	m.clients[name] = client
	m.statuses[name] = &ServerState{Name: name, Status: StatusStarting, Client: client}
	m.mu.Unlock()

	err := client.Start(ctx)

	m.mu.Lock()
	state := m.statuses[name]
	if err != nil {
		state.Status = StatusFailed
		state.Error = err
	} else {
		state.Status = StatusReady
		state.Error = nil
	}
	m.mu.Unlock()

	return err
}

// Disable stops an MCP server.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.clients, name)
	if state, ok := m.statuses[name]; ok {
		state.Status = StatusClosing
		state.Error = nil
		state.Client = nil
	}
	m.mu.Unlock()

	err := client.Stop()

	m.mu.Lock()
	if state, ok := m.statuses[name]; ok {
		state.Status = StatusClosed
	}
	m.mu.Unlock()
	return err
}

// StopAll stops all running MCP servers.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.statuses = make(map[string]*ServerState)
	m.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}

// AllTools returns the tools of all ready servers, with each name prefixed
// mcp_<server>_ to avoid registry collisions. Deterministic order.
func (m *Manager) AllTools() []ProxiedTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	var all []ProxiedTool
	for _, name := range names {
		state := m.statuses[name]
		if state.Status != StatusReady || state.Client == nil {
			continue
		}
		for _, tool := range state.Client.Tools() {
			all = append(all, ProxiedTool{
				Server:       name,
				OriginalName: tool.Name,
				Spec: ToolSpec{
					Name:        ProxiedName(name, tool.Name),
					Description: fmt.Sprintf("[%s] %s", name, tool.Description),
					Schema:      tool.Schema,
				},
			})
		}
	}
	return all
}

// client returns the running client for a server, if any.
func (m *Manager) client(server string) *Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.statuses[server]
	if !ok || state.Status != StatusReady || state.Client == nil {
		return nil
	}
	return state.Client
}

// GetAllStates returns the current state of all servers for display.
func (m *Manager) GetAllStates() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.statuses))
	for _, state := range m.statuses {
		states = append(states, ServerState{
			Name:   state.Name,
			Status: state.Status,
			Error:  state.Error,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// ProxiedName builds the registry name for an MCP tool.
func ProxiedName(server, tool string) string {
	return "mcp_" + server + "_" + tool
}

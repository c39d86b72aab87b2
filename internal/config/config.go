// Package config loads stride's configuration from the XDG config dir
// using viper, with environment expansion for the API key.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`

	Agent       AgentConfig       `mapstructure:"agent"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`

	// RestrictRoot, when set, confines file tools to this directory tree.
	RestrictRoot string `mapstructure:"restrict_root"`

	// HooksPath overrides the default hooks.yaml location.
	HooksPath string `mapstructure:"hooks_path"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	MaxIterations            int     `mapstructure:"max_iterations"`
	MaxParallelTools         int     `mapstructure:"max_parallel_tools"`
	ToolTimeoutSeconds       int     `mapstructure:"tool_timeout_seconds"`
	StreamIdleTimeoutSeconds int     `mapstructure:"stream_idle_timeout_seconds"`
	ContextWindow            int     `mapstructure:"context_window"`
	AutoCompactThreshold     float64 `mapstructure:"auto_compact_threshold"`
	CompactPreserveLastN     int     `mapstructure:"compact_preserve_last_n"`
	NativeToolCalls          bool    `mapstructure:"native_tool_calls"`
	MaxTokens                int     `mapstructure:"max_tokens"` // 0 = negotiate
	Temperature              float64 `mapstructure:"temperature"`
}

// PermissionsConfig mirrors the permission engine's static configuration.
// Allow and Deny hold ToolName(glob) patterns.
type PermissionsConfig struct {
	Allow               []string `mapstructure:"allow"`
	Deny                []string `mapstructure:"deny"`
	Disabled            []string `mapstructure:"disabled"`
	AlwaysApprove       []string `mapstructure:"always_approve"`
	AutoApproveAll      bool     `mapstructure:"auto_approve_all"`
	AutoApproveReadOnly bool     `mapstructure:"auto_approve_read_only"`
	AutoApproveModerate bool     `mapstructure:"auto_approve_moderate"`
}

// SessionsConfig controls session persistence.
type SessionsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveCredentials(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "http://localhost:8080/v1")
	v.SetDefault("agent.max_iterations", 40)
	v.SetDefault("agent.max_parallel_tools", 8)
	v.SetDefault("agent.tool_timeout_seconds", 120)
	v.SetDefault("agent.stream_idle_timeout_seconds", 120)
	v.SetDefault("agent.context_window", 32768)
	v.SetDefault("agent.auto_compact_threshold", 0.8)
	v.SetDefault("agent.compact_preserve_last_n", 4)
	v.SetDefault("agent.native_tool_calls", true)
	v.SetDefault("agent.temperature", 0.7)
	v.SetDefault("permissions.auto_approve_read_only", true)
	v.SetDefault("sessions.enabled", true)
}

// ApplyOverrides applies command-line overrides to the config.
func (c *Config) ApplyOverrides(baseURL, model string) {
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	if model != "" {
		c.Model = model
	}
}

func resolveCredentials(cfg *Config) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("STRIDE_API_KEY")
	}
	cfg.BaseURL = expandEnv(cfg.BaseURL)
}

// expandEnv expands ${VAR} or $VAR in a string.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for stride.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "stride"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "stride"), nil
}

// GetConfigPath returns the path where the config file should be located.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for stride.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "stride"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "stride"), nil
}

// HooksConfigPath returns the hooks.yaml path, honoring the override.
func (c *Config) HooksConfigPath() (string, error) {
	if c.HooksPath != "" {
		return c.HooksPath, nil
	}
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "hooks.yaml"), nil
}

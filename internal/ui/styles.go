// Package ui provides terminal rendering helpers and the interactive
// permission prompt.
package ui

import "github.com/charmbracelet/lipgloss"

// Theme defines the color palette for the UI.
type Theme struct {
	Primary   lipgloss.Color // main accent (prompt, highlights)
	Secondary lipgloss.Color // secondary accent (headers, tool names)
	Success   lipgloss.Color // success states
	Error     lipgloss.Color // error states
	Warning   lipgloss.Color // warnings, approval prompts
	Muted     lipgloss.Color // dimmed text
	Text      lipgloss.Color // primary text
}

// DefaultTheme returns the default color theme (gruvbox).
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#b8bb26"),
		Secondary: lipgloss.Color("#83a598"),
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"),
		Warning:   lipgloss.Color("#fabd2f"),
		Muted:     lipgloss.Color("#928374"),
		Text:      lipgloss.Color("#ebdbb2"),
	}
}

// currentTheme is the active theme instance.
var currentTheme = DefaultTheme()

// GetTheme returns the current active theme.
func GetTheme() *Theme {
	return currentTheme
}

// Styled text helpers used across cmd/.

func Muted(s string) string {
	return lipgloss.NewStyle().Foreground(currentTheme.Muted).Render(s)
}

func ErrorText(s string) string {
	return lipgloss.NewStyle().Foreground(currentTheme.Error).Render(s)
}

func Warn(s string) string {
	return lipgloss.NewStyle().Foreground(currentTheme.Warning).Render(s)
}

func Accent(s string) string {
	return lipgloss.NewStyle().Foreground(currentTheme.Primary).Render(s)
}

func ToolName(s string) string {
	return lipgloss.NewStyle().Foreground(currentTheme.Secondary).Bold(true).Render(s)
}

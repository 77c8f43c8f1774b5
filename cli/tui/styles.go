// Package tui provides the Bubble Tea chat view for the chatlink CLI.
//
// The view renders the feed in first-observed order and sends what is
// typed through the addMessage mutation. Nothing is shown optimistically:
// a sent message appears when the server pushes it back.
package tui

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

// Color palette.
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

// userColors are assigned to users by name hash.
var userColors = []lipgloss.Color{
	"#3B82F6", "#10B981", "#F59E0B", "#EC4899", "#8B5CF6", "#14B8A6",
}

// Styles for TUI components.
var (
	// TitleStyle for the header line.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// TimeStyle for message timestamps.
	TimeStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// TextStyle for message bodies.
	TextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// StatusStyle for neutral status lines.
	StatusStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// OKStyle for the connected indicator.
	OKStyle = lipgloss.NewStyle().
		Foreground(successColor)

	// ErrorStyle for failures.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// InputStyle frames the compose box.
	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// UserStyle returns a stable bold color for user.
func UserStyle(user string) lipgloss.Style {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(userColors[h.Sum32()%uint32(len(userColors))])
}

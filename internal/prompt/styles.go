package prompt

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("86")  // Cyan
	colorSuccess = lipgloss.Color("42")  // Green
	colorWarning = lipgloss.Color("214") // Orange
	colorMuted   = lipgloss.Color("240") // Gray
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			Padding(0, 1)

	cursorStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	acceptedStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	rejectedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	scoreStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true).
			MarginTop(1)
)

const (
	iconRename   = "🔀"
	iconAccepted = "✓"
	iconRejected = "✗"
	iconArrow    = "►"
)

func renderHeader(text string) string {
	return headerStyle.Render(iconRename + " " + text)
}

func renderStatusBar(text string) string {
	return statusBarStyle.Render(text)
}

// Package tui renders the live relay feed shown by `dispipe run --tui`.
//
// The feed is read-only: it shows the most recent events of every pipe and
// quitting it stops the relay.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/dispipe/runtime"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for the feed header.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// PipeStyle for pipe section headers.
	PipeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor)

	// MutedStyle for timestamps and placeholders.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// ValueStyle for frame text.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// StatBoxStyle for the totals boxes.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)

	// StatLabelStyle for stat labels.
	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	// StatValueStyle for stat values.
	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Align(lipgloss.Center)
)

// KindStyle returns the style for an event kind.
func KindStyle(kind runtime.EventKind) lipgloss.Style {
	switch kind {
	case runtime.EventDelivered:
		return SuccessStyle
	case runtime.EventSendFailed:
		return ErrorStyle
	case runtime.EventReadFailed:
		return WarningStyle
	default:
		return ValueStyle
	}
}

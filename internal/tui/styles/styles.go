// Package styles provides shared lipgloss styles for terminal output.
package styles

import "github.com/charmbracelet/lipgloss"

// Color palette using ANSI colors for broad terminal compatibility.
var (
	Primary   = lipgloss.Color("4")   // Blue
	Secondary = lipgloss.Color("245") // Light gray (visible on dark backgrounds)
	Success   = lipgloss.Color("2")   // Green
	Warning   = lipgloss.Color("3")   // Yellow
	Error     = lipgloss.Color("1")   // Red
	Highlight = lipgloss.Color("12")  // Bright blue
)

// Text styles.
var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Subtitle = lipgloss.NewStyle().
			Foreground(Secondary).
			Italic(true)

	ErrorText = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningText = lipgloss.NewStyle().
			Foreground(Warning)

	SuccessText = lipgloss.NewStyle().
			Foreground(Success)

	MutedText = lipgloss.NewStyle().
			Foreground(Secondary)

	HelpText = lipgloss.NewStyle().
			Foreground(Secondary).
			Italic(true)
)

// Table styles.
var (
	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(Secondary)

	TableSelected = lipgloss.NewStyle().
			Foreground(Highlight).
			Bold(true)

	Container = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingLeft(2).
			PaddingRight(2)
)

// Status picks the text style for a pool, daemon, health or job state.
func Status(state string) lipgloss.Style {
	switch state {
	case "running", "ok", "healthy", "completed", "resolved", "success":
		return SuccessText
	case "degraded", "starting", "stopping", "retry_pending", "acknowledged", "processing", "partial":
		return WarningText
	case "failed", "unhealthy", "open", "stopped":
		return ErrorText
	default:
		return MutedText
	}
}

// Severity picks the text style for an alert severity.
func Severity(sev string) lipgloss.Style {
	switch sev {
	case "critical", "high":
		return ErrorText
	case "medium":
		return WarningText
	default:
		return MutedText
	}
}

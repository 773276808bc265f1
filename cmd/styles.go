// ABOUTME: Shared lipgloss styles for command output
// ABOUTME: Status colors and labels used by check and login

package cmd

import "github.com/charmbracelet/lipgloss"

var (
	colorOK      = lipgloss.Color("#10B981") // Green
	colorDanger  = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#6B7280") // Gray
	colorPrimary = lipgloss.Color("#7C3AED") // Purple

	statusOK = lipgloss.NewStyle().
			Foreground(colorOK).
			Bold(true)

	statusCritical = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)

	label = lipgloss.NewStyle().
		Foreground(colorMuted).
		Width(10)

	title = lipgloss.NewStyle().
		Bold(true).
		Foreground(colorPrimary)
)

// statusText renders ok in green and anything else in red
func statusText(s string) string {
	if s == "ok" {
		return statusOK.Render(s)
	}
	return statusCritical.Render(s)
}

// row renders one "label value" line
func row(name, value string) string {
	return label.Render(name) + " " + value
}

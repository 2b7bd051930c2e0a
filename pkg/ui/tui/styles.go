package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	neonCyan    = lipgloss.Color("#00FFFF")
	neonMagenta = lipgloss.Color("#FF00FF")
	neonGreen   = lipgloss.Color("#39FF14")
	neonYellow  = lipgloss.Color("#FFFF00")
	neonOrange  = lipgloss.Color("#FF6700")
	darkBg      = lipgloss.Color("#0A0E27")
	dimWhite    = lipgloss.Color("#B0B0B0")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(neonMagenta).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Background(neonMagenta).
			Foreground(darkBg).
			Bold(true).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(neonCyan).
			Bold(true)

	cellStyle = lipgloss.NewStyle().
			Foreground(dimWhite)

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(neonCyan).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(neonYellow)

	warningStyle = lipgloss.NewStyle().
			Foreground(neonOrange).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(1, 0, 0, 1)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(neonMagenta)
)

// StateStyle returns the colour for a worker state
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "collecting", "advancing":
		return lipgloss.NewStyle().Foreground(neonGreen)
	case "checkpointing", "awaiting_initial_content":
		return lipgloss.NewStyle().Foreground(neonYellow)
	case "stopped":
		return lipgloss.NewStyle().Foreground(dimWhite).Faint(true)
	default:
		return cellStyle
	}
}

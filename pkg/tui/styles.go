package tui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the TUI.
var (
	colorRed     = lipgloss.Color("#FF5F5F")
	colorGreen   = lipgloss.Color("#5FD787")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorCyan    = lipgloss.Color("#5FD7FF")
	colorGray    = lipgloss.Color("#808080")
	colorDimGray = lipgloss.Color("#444444")
	colorWhite   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	liveDotStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	warnDotStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	idleDotStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	selfLabelStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	counterpartLabelStyle = lipgloss.NewStyle().
				Foreground(colorYellow)

	objectionStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	suggestionStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true)

	footerDescStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	dividerStyle = lipgloss.NewStyle().
			Foreground(colorDimGray)

	levelOnStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	levelOffStyle = lipgloss.NewStyle().
			Foreground(colorDimGray)
)

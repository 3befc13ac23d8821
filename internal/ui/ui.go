package ui

import "charm.land/lipgloss/v2"

// Basic ANSI color codes used by the logging package.
// Rendering code should use lipgloss styles from styles.go instead.
const (
	Reset = "\033[0m"
	// LegacyBold is the raw ANSI code for bold text
	LegacyBold = "\033[1m"
	FgCyan     = "\033[36m"
	FgGreen    = "\033[32m"
	FgMagenta  = "\033[35m"
	FgYellow   = "\033[33m"
	FgRed      = "\033[31m"
	FgBlue     = "\033[34m"
)

var colorEnabled = true

// Init configures terminal output. With noColor set, Color returns its input
// unchanged and lipgloss styles drop their foreground colors.
func Init(noColor bool) {
	colorEnabled = !noColor
	if noColor {
		Success = styleWrapper{lipgloss.NewStyle()}
		Warning = styleWrapper{lipgloss.NewStyle()}
		Error = styleWrapper{lipgloss.NewStyle()}
		Dim = styleWrapper{lipgloss.NewStyle()}
		Muted = styleWrapper{lipgloss.NewStyle()}
		Secondary = styleWrapper{lipgloss.NewStyle()}
		Highlight = styleWrapper{lipgloss.NewStyle()}
	}
}

// ColorEnabled reports whether ANSI colors are written.
func ColorEnabled() bool { return colorEnabled }

// Color wraps a string with the given ANSI code.
func Color(s string, code string) string {
	if !colorEnabled || code == "" {
		return s
	}
	return code + s + Reset
}

package ui

import (
	"fmt"
	"image/color"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/fang"
)

// Palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorSecondary = lipgloss.Color("#06B6D4")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorError     = lipgloss.Color("#EF4444")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorHighlight = lipgloss.Color("#f048ff")

	ColorText    = lipgloss.Color("#F9FAFB")
	ColorTextDim = lipgloss.Color("#9CA3AF")
)

// styleWrapper lets Init swap a style for a plain one when color is off.
type styleWrapper struct {
	style lipgloss.Style
}

func (s styleWrapper) Render(str string) string {
	return s.style.Render(str)
}

// Bold returns a copy with bold set to v.
func (s styleWrapper) Bold(v bool) styleWrapper {
	return styleWrapper{s.style.Bold(v)}
}

var (
	Bold      = styleWrapper{lipgloss.NewStyle().Bold(true)}
	Dim       = styleWrapper{lipgloss.NewStyle().Foreground(ColorTextDim)}
	Muted     = styleWrapper{lipgloss.NewStyle().Foreground(ColorMuted)}
	Success   = styleWrapper{lipgloss.NewStyle().Foreground(ColorSuccess)}
	Warning   = styleWrapper{lipgloss.NewStyle().Foreground(ColorWarning)}
	Error     = styleWrapper{lipgloss.NewStyle().Foreground(ColorError)}
	Primary   = styleWrapper{lipgloss.NewStyle().Foreground(ColorPrimary)}
	Secondary = styleWrapper{lipgloss.NewStyle().Foreground(ColorSecondary)}
	Highlight = styleWrapper{lipgloss.NewStyle().Foreground(ColorHighlight).Bold(true)}

	Title         = styleWrapper{lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)}
	SectionHeader = styleWrapper{lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)}
)

func GetCheckMark() string { return Success.Render("✓") }
func GetCrossMark() string { return Error.Render("✗") }
func GetWarnMark() string  { return Warning.Render("⚠") }
func GetInfoMark() string  { return Secondary.Render("ℹ") }
func GetBullet() string    { return Muted.Render("•") }

type boxWrapper struct {
	style lipgloss.Style
}

func (b boxWrapper) Render(str string) string {
	return b.style.Render(str)
}

func roundedBox(c color.Color) boxWrapper {
	return boxWrapper{lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(c).
		Padding(0, 1)}
}

var (
	Box        = roundedBox(ColorMuted)
	SuccessBox = roundedBox(ColorSuccess)
	WarningBox = roundedBox(ColorWarning)
	ErrorBox   = roundedBox(ColorError)
)

// StepStatus is the state of one step in a progress display.
type StepStatus int

const (
	StatusPending StepStatus = iota
	StatusRunning
	StatusComplete
	StatusFailed
	StatusSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "pending"
}

// stepLook returns the icon and name style for a step. running is the
// icon used while the step is in progress (a spinner frame).
func stepLook(s StepStatus, running string) (string, styleWrapper) {
	switch s {
	case StatusRunning:
		return running, Secondary
	case StatusComplete:
		return GetCheckMark(), Success
	case StatusFailed:
		return GetCrossMark(), Error
	case StatusSkipped:
		return Warning.Render("⊘"), Warning
	}
	return Muted.Render("○"), Muted
}

// FormatKeyValue renders "key: value" with a dimmed key.
func FormatKeyValue(key, value string) string {
	return Dim.Render(key+": ") + value
}

// FangColorScheme maps the palette onto fang's help and error output.
func FangColorScheme(c lipgloss.LightDarkFunc) fang.ColorScheme {
	return fang.ColorScheme{
		Base:           ColorText,
		Title:          ColorPrimary,
		Description:    ColorTextDim,
		Codeblock:      c(lipgloss.Color("#1F2937"), lipgloss.Color("#2F2E36")),
		Program:        ColorSecondary,
		DimmedArgument: ColorMuted,
		Comment:        ColorMuted,
		Flag:           ColorSuccess,
		FlagDefault:    ColorTextDim,
		Command:        ColorHighlight,
		QuotedString:   ColorSecondary,
		Argument:       ColorText,
		Help:           ColorTextDim,
		Dash:           ColorMuted,
		ErrorHeader:    [2]color.Color{ColorText, ColorError},
		ErrorDetails:   ColorError,
	}
}

// BannerASCII is printed on stderr before every command unless --no-banner is set.
const BannerASCII = `
 __     __ _       _
 \ \   / /(_) ___ (_) ___   _ __   _ __   _ __  ___  _ __
  \ \ / / | |/ __|| |/ _ \ | '_ \ | '_ \ | '__|/ _ \| '_ \
   \ V /  | |\__ \| | (_) || | | || |_) || |  |  __/| |_) |
    \_/   |_||___/|_|\___/ |_| |_|| .__/ |_|   \___|| .__/
                                  |_|               |_|
`

// RenderBanner renders the banner in the secondary color.
func RenderBanner() string {
	return Secondary.Render(BannerASCII)
}

// FormatCount renders n with thousands separators.
func FormatCount(n int) string {
	str := fmt.Sprintf("%d", n)
	digits := strings.TrimPrefix(str, "-")
	if len(digits) <= 3 {
		return str
	}
	var out []rune
	if len(digits) != len(str) {
		out = append(out, '-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, r)
	}
	return string(out)
}

// Package styles holds the lipgloss palette shared by command output and the
// terminal UI.
package styles

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

const (
	Primary     = "#7D56F4"
	PrimaryText = "#FAFAFA"

	Success = "#04B575"
	Warning = "#FFA500"
	Error   = "#FF6B6B"
	Info    = "#00CED1"

	Text      = "#FAFAFA"
	TextMuted = "#626262"
	TextBold  = "#90EE90"
	Accent    = "#CCCCCC"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(PrimaryText)).
			Background(lipgloss.Color(Primary)).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(Success)).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(Error)).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(Warning)).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(Info)).
			Bold(true)

	BoldStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(TextBold)).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(TextMuted)).
			Italic(true)

	// Used by `config show` and `nvram list`.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(Primary)).
			Padding(0, 1).
			Margin(0, 0, 1, 0)

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(TextBold)).
			Margin(1, 0, 0, 0)

	KeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(Info)).
			Bold(true)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(Text))

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(Accent)).
			Bold(true)
)

// StateStyle picks the style for an instance or machine state name.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return SuccessStyle
	case "starting", "acquiring-credentials", "stopping", "paused":
		return WarningStyle
	case "stopped", "error":
		return ErrorStyle
	default:
		return MutedStyle
	}
}

// PrintStyledln prints text with a lipgloss style and adds a newline
func PrintStyledln(w io.Writer, style lipgloss.Style, text string) {
	fmt.Fprintln(w, style.Render(text))
}

// CreateBgStyle creates a background style with the given RGB color
func CreateBgStyle(r, g, b uint8) lipgloss.Style {
	return lipgloss.NewStyle().Background(lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r, g, b)))
}

package ui

import "github.com/charmbracelet/lipgloss"

var (
	Primary   = lipgloss.Color("#FF6B35")
	Secondary = lipgloss.Color("#1E88E5")
	Success   = lipgloss.Color("#4CAF50")
	Warning   = lipgloss.Color("#FFB74D")
	Error     = lipgloss.Color("#F44336")

	Text       = lipgloss.Color("#E0E0E0")
	TextBright = lipgloss.Color("#FFFFFF")
	Muted      = lipgloss.Color("#90A4AE")
	HeaderBg   = lipgloss.Color("#1C2128")
	BorderDark = lipgloss.Color("#30363D")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Background(HeaderBg).
			Padding(0, 2).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDark).
			Foreground(Text).
			Padding(0, 1)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	InfoStyle    = lipgloss.NewStyle().Foreground(Secondary).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)

	// BeatStyle renders dump lines; sof beats are highlighted.
	BeatStyle    = lipgloss.NewStyle().Foreground(Text)
	BeatSOFStyle = lipgloss.NewStyle().Foreground(Secondary)
)

// StateStyle colours a streamer state name.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "STREAMING":
		return SuccessStyle
	case "DRAINING":
		return WarningStyle
	case "REQUESTING":
		return InfoStyle
	default:
		return MutedStyle
	}
}

// VerdictIcon renders the pass/fail indicator.
func VerdictIcon(pass bool) string {
	if pass {
		return SuccessStyle.Render("PASS")
	}
	return ErrorStyle.Render("FAIL")
}

// SignalIcon renders a req or ack line.
func SignalIcon(name string, high bool) string {
	if high {
		return InfoStyle.Render(name + "▲")
	}
	return MutedStyle.Render(name + "▽")
}

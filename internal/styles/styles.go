package styles

import "github.com/charmbracelet/lipgloss"

// ContentWidth is the inner width of modal rows. The UI adjusts it on resize.
var ContentWidth = 54

var (
	TitleStyle           lipgloss.Style
	UserLabelStyle       lipgloss.Style
	UserMsgStyle         lipgloss.Style
	AiLabelStyle         lipgloss.Style
	AiMsgStyle           lipgloss.Style
	PendingStyle         lipgloss.Style
	ErrorStyle           lipgloss.Style
	ErrorMsgStyle        lipgloss.Style
	DiagnosticStyle      lipgloss.Style
	WarningStyle         lipgloss.Style
	HintStyle            lipgloss.Style
	InputBoxStyle        lipgloss.Style
	WelcomeArtStyle      lipgloss.Style
	WelcomeSubtitleStyle lipgloss.Style
	ModalStyle           lipgloss.Style
	ModalTitleStyle      lipgloss.Style
	ModalItemStyle       lipgloss.Style
	ModalHeaderStyle     lipgloss.Style
	ModalSelectedStyle   lipgloss.Style
	KeyStyle             lipgloss.Style
	ChipStyle            lipgloss.Style
	InputTokenStyle      lipgloss.Style
	OutputTokenStyle     lipgloss.Style
)

func init() {
	build(CurrentTheme)
}

func build(t Theme) {
	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(t.Primary).
		Padding(0, 1)

	UserLabelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(t.Secondary).
		Bold(true).
		Padding(0, 1).
		MarginRight(1)

	UserMsgStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		PaddingLeft(2).
		BorderLeft(true).
		BorderStyle(lipgloss.ThickBorder()).
		BorderForeground(t.Secondary)

	AiLabelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(t.Primary).
		Bold(true).
		Padding(0, 1).
		MarginRight(1)

	AiMsgStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderLeft(true).
		BorderStyle(lipgloss.ThickBorder()).
		BorderForeground(t.Primary)

	PendingStyle = lipgloss.NewStyle().
		Foreground(t.TextMuted).
		Italic(true).
		PaddingLeft(2)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Error).
		Bold(true)

	ErrorMsgStyle = lipgloss.NewStyle().
		Foreground(t.Error).
		PaddingLeft(2).
		BorderLeft(true).
		BorderStyle(lipgloss.ThickBorder()).
		BorderForeground(t.Error)

	DiagnosticStyle = lipgloss.NewStyle().
		Foreground(t.Warning).
		Border(lipgloss.NormalBorder()).
		BorderForeground(t.Warning).
		Padding(0, 1)

	WarningStyle = lipgloss.NewStyle().Foreground(t.Warning)

	HintStyle = lipgloss.NewStyle().Foreground(t.Hint)

	InputBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Primary).
		Padding(0, 1)

	WelcomeArtStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
		Bold(true)

	WelcomeSubtitleStyle = lipgloss.NewStyle().
		Foreground(t.Hint).
		Italic(true)

	ModalStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Primary).
		Padding(1, 2)

	ModalTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(t.Primary).
		MarginBottom(1)

	ModalItemStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		Padding(0, 1)

	ModalHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		PaddingLeft(1)

	ModalSelectedStyle = lipgloss.NewStyle().
		Padding(0, 1).
		Background(t.Elevated).
		Foreground(lipgloss.Color("#FFFFFF"))

	KeyStyle = lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true).
		Width(12)

	ChipStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(t.ModeAgent).
		Padding(0, 1).
		MarginRight(1)

	InputTokenStyle = lipgloss.NewStyle().Foreground(t.Secondary)
	OutputTokenStyle = lipgloss.NewStyle().Foreground(t.Primary)
}

// Row renders a modal row at the current content width.
func Row(style lipgloss.Style, s string) string {
	return style.Width(ContentWidth).Render(s)
}

package styles

import (
	"github.com/charmbracelet/lipgloss"

	"parley/internal/models"
)

// Theme is one color scheme.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color

	Surface  lipgloss.Color
	Elevated lipgloss.Color

	Text      lipgloss.Color
	TextMuted lipgloss.Color
	Hint      lipgloss.Color

	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color

	Border lipgloss.Color

	ModeChat  lipgloss.Color
	ModeAgent lipgloss.Color
}

var DarkTheme = Theme{
	Primary:   lipgloss.Color("#B39DDB"),
	Secondary: lipgloss.Color("#90CAF9"),
	Accent:    lipgloss.Color("#FFCC80"),

	Surface:  lipgloss.Color("#1E1E2E"),
	Elevated: lipgloss.Color("#5C5C7A"),

	Text:      lipgloss.Color("#E0E0E0"),
	TextMuted: lipgloss.Color("#888888"),
	Hint:      lipgloss.Color("#545454"),

	Success: lipgloss.Color("#A5D6A7"),
	Warning: lipgloss.Color("#FFF59D"),
	Error:   lipgloss.Color("#EF9A9A"),

	Border: lipgloss.Color("#333333"),

	ModeChat:  lipgloss.Color("#81D4FA"),
	ModeAgent: lipgloss.Color("#CE93D8"),
}

var LightTheme = Theme{
	Primary:   lipgloss.Color("#5E35B1"),
	Secondary: lipgloss.Color("#1E88E5"),
	Accent:    lipgloss.Color("#EF6C00"),

	Surface:  lipgloss.Color("#F4F4F5"),
	Elevated: lipgloss.Color("#D1C4E9"),

	Text:      lipgloss.Color("#333333"),
	TextMuted: lipgloss.Color("#666666"),
	Hint:      lipgloss.Color("#9E9E9E"),

	Success: lipgloss.Color("#2E7D32"),
	Warning: lipgloss.Color("#F57F17"),
	Error:   lipgloss.Color("#C62828"),

	Border: lipgloss.Color("#E4E4E7"),

	ModeChat:  lipgloss.Color("#0288D1"),
	ModeAgent: lipgloss.Color("#7B1FA2"),
}

// CurrentTheme is picked by InitTheme from the terminal background.
var CurrentTheme = DarkTheme

var providerColors = map[string]lipgloss.Color{
	models.ProviderAuto:      lipgloss.Color("#B39DDB"),
	models.ProviderOpenAI:    lipgloss.Color("#A5D6A7"),
	models.ProviderAnthropic: lipgloss.Color("#FFCC80"),
	models.ProviderGemini:    lipgloss.Color("#81D4FA"),
}

// ProviderColor returns the badge color for a provider bucket. Unknown
// providers get the theme's muted text color.
func ProviderColor(bucket string) lipgloss.Color {
	if c, ok := providerColors[bucket]; ok {
		return c
	}
	return CurrentTheme.TextMuted
}

func HealthColor(h models.Health) lipgloss.Color {
	switch h {
	case models.HealthNominal:
		return CurrentTheme.Success
	case models.HealthDegraded:
		return CurrentTheme.Warning
	default:
		return CurrentTheme.Hint
	}
}

// InitTheme selects the theme and rebuilds the package styles.
func InitTheme() {
	if lipgloss.HasDarkBackground() {
		CurrentTheme = DarkTheme
	} else {
		CurrentTheme = LightTheme
	}
	build(CurrentTheme)
}

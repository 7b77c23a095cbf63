// Package ui provides the visual styling for the researchdesk terminal UI.
// Colors follow a light/dark palette pair; widgets in widgets.go build on Styles.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// EnvDarkMode forces the dark palette when set to "1".
const EnvDarkMode = "RESEARCHDESK_DARK_MODE"

var (
	// Light Mode Colors (Default)
	LightBackground = lipgloss.Color("#f7f8fa")
	LightForeground = lipgloss.Color("#1f2937") // Slate
	LightPrimary    = lipgloss.Color("#2563eb") // Blue
	LightAccent     = lipgloss.Color("#7c3aed") // Violet
	LightSecondary  = lipgloss.Color("#e5e7eb")
	LightMuted      = lipgloss.Color("#6b7280")
	LightBorder     = lipgloss.Color("#d1d5db")
	LightCard       = lipgloss.Color("#ffffff")

	// Dark Mode Colors
	DarkBackground = lipgloss.Color("#111827")
	DarkForeground = lipgloss.Color("#f3f4f6")
	DarkPrimary    = lipgloss.Color("#60a5fa")
	DarkAccent     = lipgloss.Color("#a78bfa")
	DarkSecondary  = lipgloss.Color("#1f2937")
	DarkMuted      = lipgloss.Color("#9ca3af")
	DarkBorder     = lipgloss.Color("#374151")
	DarkCard       = lipgloss.Color("#1a2230")

	// Semantic Colors (same in both modes)
	Destructive = lipgloss.Color("#dc2626") // Red
	Success     = lipgloss.Color("#16a34a") // Green
	Warning     = lipgloss.Color("#d97706") // Amber
	Info        = lipgloss.Color("#0891b2") // Cyan
)

// Theme holds the current color scheme
type Theme struct {
	Background lipgloss.Color
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Secondary  lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	Card       lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme
func LightTheme() Theme {
	return Theme{
		Background: LightBackground,
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Secondary:  LightSecondary,
		Muted:      LightMuted,
		Border:     LightBorder,
		Card:       LightCard,
		IsDark:     false,
	}
}

// DarkTheme returns the dark mode theme
func DarkTheme() Theme {
	return Theme{
		Background: DarkBackground,
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Secondary:  DarkSecondary,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		Card:       DarkCard,
		IsDark:     true,
	}
}

// DetectTheme picks a palette from the terminal environment, defaulting to light.
func DetectTheme() Theme {
	// COLORFGBG is "foreground;background"; background indexes 0-6 and 8 are dark.
	if colorTerm := os.Getenv("COLORFGBG"); colorTerm != "" {
		parts := strings.Split(colorTerm, ";")
		if bgIdx, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			if (bgIdx >= 0 && bgIdx <= 6) || bgIdx == 8 {
				return DarkTheme()
			}
		}
	}

	if os.Getenv(EnvDarkMode) == "1" {
		return DarkTheme()
	}

	return LightTheme()
}

// ThemeFor resolves the ui.theme config value: "dark", "light", or anything
// else for auto-detection.
func ThemeFor(name string) Theme {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dark":
		return DarkTheme()
	case "light":
		return LightTheme()
	default:
		return DetectTheme()
	}
}

// Styles holds all the styled components
type Styles struct {
	Theme Theme

	// Layout
	Header  lipgloss.Style
	Footer  lipgloss.Style
	Content lipgloss.Style

	// Text
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Body     lipgloss.Style
	Muted    lipgloss.Style
	Bold     lipgloss.Style
	Question lipgloss.Style

	// Interactive
	Prompt    lipgloss.Style
	UserInput lipgloss.Style
	InputBox  lipgloss.Style

	// Status
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style

	// Components
	Spinner   lipgloss.Style
	Divider   lipgloss.Style
	Badge     lipgloss.Style
	Tag       lipgloss.Style
	Card      lipgloss.Style
	CardTitle lipgloss.Style
	Banner    lipgloss.Style
	MeterFill lipgloss.Style
	MeterRest lipgloss.Style
}

// NewStyles creates a new Styles instance with the given theme
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Background(theme.Primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 2),

		Content: lipgloss.NewStyle().
			Padding(0, 2),

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),

		Subtitle: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Question: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true).
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(theme.Accent),

		Prompt: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		UserInput: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		InputBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Accent).
			Padding(0, 1),

		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(Info),

		Spinner: lipgloss.NewStyle().
			Foreground(theme.Accent),

		Divider: lipgloss.NewStyle().
			Foreground(theme.Border),

		Badge: lipgloss.NewStyle().
			Background(theme.Accent).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),

		Tag: lipgloss.NewStyle().
			Background(theme.Secondary).
			Foreground(theme.Primary).
			Padding(0, 1),

		Card: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),

		CardTitle: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),

		Banner: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Destructive).
			Padding(0, 1),

		MeterFill: lipgloss.NewStyle().
			Foreground(theme.Accent),

		MeterRest: lipgloss.NewStyle().
			Foreground(theme.Border),
	}
}

// DefaultStyles returns styles for the auto-detected theme
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// RenderDivider returns a horizontal divider
func (s Styles) RenderDivider(width int) string {
	if width < 1 {
		width = 1
	}
	return s.Divider.Render(strings.Repeat("─", width))
}

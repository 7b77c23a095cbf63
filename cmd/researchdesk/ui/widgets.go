package ui

import (
	"fmt"
	"strings"

	"researchdesk/internal/citation"
	"researchdesk/internal/research"

	"github.com/charmbracelet/lipgloss"
)

// UI copy shared by the TUI and the CLI.
const (
	AppTitle          = "Research Assistant"
	Tagline           = "AI-powered research with web search and citations"
	InputPlaceholder  = "Ask any research question..."
	IdleText          = "Enter a question to start researching"
	BusyText          = "Researching..."
	InsufficientText  = "Limited information available for this topic"
	QueriesLabel      = "Search queries used:"
	SourcesLabel      = "Sources"
	UnavailableSource = "Source unavailable"
)

// Stage markers
const (
	markDone    = "✓"
	markPending = "○"
)

// StageList renders the progress narrative. Stages before current are done,
// current shows the spinner frame, and current >= len(stages) marks every
// stage complete.
func StageList(s Styles, stages []string, current int, spin string) string {
	if len(stages) == 0 {
		return s.Muted.Render(BusyText)
	}

	lines := make([]string, 0, len(stages))
	for i, label := range stages {
		switch {
		case i < current:
			lines = append(lines, s.Success.Render(markDone)+" "+s.Body.Render(label))
		case i == current:
			lines = append(lines, s.Spinner.Render(spin)+" "+s.Bold.Render(label))
		default:
			lines = append(lines, s.Muted.Render(markPending+" "+label))
		}
	}
	return strings.Join(lines, "\n")
}

// ConfidenceMeter renders "Confidence 87% (high)" followed by a bar of
// barWidth cells. The level picks the color.
func ConfidenceMeter(s Styles, confidence float64, barWidth int) string {
	pct := research.Percent(confidence)
	level := research.LevelFor(confidence)

	var levelStyle lipgloss.Style
	switch level {
	case research.LevelHigh:
		levelStyle = s.Success
	case research.LevelMedium:
		levelStyle = s.Warning
	default:
		levelStyle = s.Error
	}

	label := s.Bold.Render("Confidence ") + levelStyle.Render(fmt.Sprintf("%d%% (%s)", pct, level))
	if barWidth <= 0 {
		return label
	}

	filled := pct * barWidth / 100
	bar := levelStyle.UnsetBold().Render(strings.Repeat("█", filled)) +
		s.MeterRest.Render(strings.Repeat("░", barWidth-filled))
	return label + "\n" + bar
}

// InsufficientWarning is shown when the service flags the answer as thin.
func InsufficientWarning(s Styles) string {
	return s.Warning.Render("⚠ " + InsufficientText)
}

// QueryTags lists the backend's search queries as tags wrapped to width.
// It returns "" when there are none.
func QueryTags(s Styles, queries []string, width int) string {
	if len(queries) == 0 {
		return ""
	}

	var (
		lines   []string
		current []string
		used    int
	)
	for _, q := range queries {
		tag := s.Tag.Render(q)
		w := lipgloss.Width(tag)
		if width > 0 && used > 0 && used+1+w > width {
			lines = append(lines, strings.Join(current, " "))
			current, used = nil, 0
		}
		if used > 0 {
			used++
		}
		current = append(current, tag)
		used += w
	}
	lines = append(lines, strings.Join(current, " "))

	return s.Muted.Render(QueriesLabel) + "\n" + strings.Join(lines, "\n")
}

// SourceCards renders one card per registered source in envelope order.
func SourceCards(s Styles, entries []citation.Entry, withSnippets bool, width int) string {
	if len(entries) == 0 {
		return ""
	}

	card := s.Card
	if width > 4 {
		card = card.Width(width - 2)
	}

	cards := make([]string, 0, len(entries))
	for _, e := range entries {
		cards = append(cards, card.Render(sourceCardBody(s, e, withSnippets)))
	}
	return s.Bold.Render(SourcesLabel) + "\n" + strings.Join(cards, "\n")
}

func sourceCardBody(s Styles, e citation.Entry, withSnippets bool) string {
	id := s.Badge.Render(e.Identity)
	if e.Source.Placeholder {
		return id + " " + s.Muted.Render(UnavailableSource)
	}

	lines := []string{id + " " + s.CardTitle.Render(e.DisplayTitle)}
	if e.Domain != "" {
		lines = append(lines, s.Muted.Render(e.Domain))
	}
	if withSnippets && e.DisplaySnippet != "" {
		lines = append(lines, s.Body.Render(e.DisplaySnippet))
	}
	if e.Source.URL != "" {
		lines = append(lines, s.Info.Render(e.Source.URL))
	}
	return strings.Join(lines, "\n")
}

// ErrorBanner renders a settled failure. Connectivity problems get their own
// heading so they read differently from service errors.
func ErrorBanner(s Styles, kind research.Kind, message string, width int) string {
	var heading string
	switch kind {
	case research.KindConnectivity:
		heading = "Connection problem"
	case research.KindValidation:
		heading = "Invalid question"
	default:
		heading = "Research failed"
	}

	banner := s.Banner
	if width > 4 {
		banner = banner.Width(width - 2)
	}
	return banner.Render(s.Error.Render("✗ "+heading) + "\n" + s.Body.Render(message))
}

package chat

import (
	"fmt"
	"strings"

	"researchdesk/cmd/researchdesk/ui"
	"researchdesk/internal/logging"
	"researchdesk/internal/session"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// View renders the header, the session body, the input box and the footer.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		m.styles.Content.Render(m.viewport.View()),
		m.styles.InputBox.Render(m.textinput.View()),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	title := m.styles.Header.Render(ui.AppTitle)

	var status string
	if m.snapshot.Busy() {
		status = m.styles.Warning.Render("● " + ui.BusyText)
	} else {
		status = m.styles.Success.Render("● Ready")
	}

	headerLine := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status)
	return lipgloss.JoinVertical(
		lipgloss.Left,
		headerLine,
		m.styles.Subtitle.Render(ui.Tagline),
		m.styles.RenderDivider(m.width),
	)
}

func (m Model) renderFooter() string {
	hints := "enter ask · ctrl+x cancel · ctrl+l clear · ctrl+p health · esc quit"
	parts := []string{hints}
	if m.healthLine != "" {
		parts = append(parts, m.healthLine)
	}
	if m.notice != "" {
		parts = append(parts, m.notice)
	}
	return m.styles.Footer.Render(strings.Join(parts, "  │  "))
}

// renderBody composes the viewport content for the current snapshot.
func (m Model) renderBody() string {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}

	switch st := m.snapshot.State.(type) {
	case session.InFlight:
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.styles.Question.Render(m.snapshot.Question),
			"",
			ui.StageList(m.styles, m.snapshot.Stages, st.Stage, m.spinner.View()),
			"",
			m.styles.Muted.Render(elapsedLabel(m.snapshot.Elapsed())),
		)

	case session.Succeeded:
		return m.renderAnswer(width)

	case session.Failed:
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.styles.Question.Render(m.snapshot.Question),
			"",
			ui.ErrorBanner(m.styles, st.Kind, st.Message, width),
		)

	default:
		return m.styles.Muted.Render(ui.IdleText)
	}
}

func (m Model) renderAnswer(width int) string {
	if m.doc == nil {
		return ""
	}
	doc := m.doc

	sections := []string{m.styles.Question.Render(m.snapshot.Question)}
	if doc.HasConfidence() {
		sections = append(sections, ui.ConfidenceMeter(m.styles, *doc.Confidence, min(30, width)))
	}
	if !doc.Sufficient {
		sections = append(sections, ui.InsufficientWarning(m.styles))
	}
	sections = append(sections, strings.TrimRight(m.renderedMD, "\n"))
	if tags := ui.QueryTags(m.styles, doc.QueriesUsed, width); tags != "" {
		sections = append(sections, tags)
	}
	if cards := ui.SourceCards(m.styles, doc.Sources.Entries(), m.cfg.UI.ShowSnippets, width); cards != "" {
		sections = append(sections, cards)
	}
	sections = append(sections, m.styles.Muted.Render(fmt.Sprintf("Answered in %s", elapsedLabel(m.snapshot.Elapsed()))))

	return strings.Join(sections, "\n\n")
}

// safeRenderMarkdown renders md with r, falling back to the raw markdown when
// the renderer is missing, fails, or panics.
func safeRenderMarkdown(r *glamour.TermRenderer, md string) (out string) {
	if r == nil {
		return md
	}
	defer func() {
		if rec := recover(); rec != nil {
			logging.UI("markdown render panicked: %v", rec)
			out = md
		}
	}()

	rendered, err := r.Render(md)
	if err != nil {
		logging.UI("markdown render failed: %v", err)
		return md
	}
	return rendered
}

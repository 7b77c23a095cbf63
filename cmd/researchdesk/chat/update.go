package chat

import (
	"errors"
	"fmt"

	"researchdesk/cmd/researchdesk/ui"
	"researchdesk/internal/citation"
	"researchdesk/internal/logging"
	"researchdesk/internal/research"
	"researchdesk/internal/session"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	headerHeight = 3
	inputHeight  = 3
	footerHeight = 1
)

// Update routes messages. Session state is only read from controller snapshots.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Shutdown()
			return m, tea.Quit

		case tea.KeyEnter:
			return m.handleSubmit()

		case tea.KeyCtrlX:
			if m.controller != nil && m.controller.Cancel() {
				m.notice = "Research cancelled"
			}
			return m, nil

		case tea.KeyCtrlL:
			if m.controller != nil && m.controller.Clear() {
				m.notice = ""
			}
			return m, nil

		case tea.KeyCtrlP:
			if m.health == nil {
				return m, nil
			}
			m.healthLine = "Checking service health..."
			return m, m.checkHealth()
		}

		if !m.snapshot.Busy() {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m = m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		if !m.snapshot.Busy() {
			return m, nil
		}
		var spCmd tea.Cmd
		m.spinner, spCmd = m.spinner.Update(msg)
		m.viewport.SetContent(m.renderBody())
		return m, spCmd

	case sessionChangedMsg:
		wasBusy := m.snapshot.Busy()
		m = m.refresh()
		cmds := []tea.Cmd{m.waitForChange()}
		if m.snapshot.Busy() && !wasBusy {
			cmds = append(cmds, m.spinner.Tick)
		}
		return m, tea.Batch(cmds...)

	case healthMsg:
		m.healthLine = healthLine(msg)
		return m, nil

	case configReloadedMsg:
		m = m.applyConfig(msg)
		return m, m.waitForReload()
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

// handleSubmit starts a session for the current input. Blank input and
// submissions while busy leave everything unchanged.
func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	if m.controller == nil || m.snapshot.Busy() {
		return m, nil
	}

	_, err := m.controller.Start(m.textinput.Value())
	switch {
	case errors.Is(err, research.ErrBlankQuestion), errors.Is(err, session.ErrInFlight):
		return m, nil
	case err != nil:
		m.notice = err.Error()
		return m, nil
	}

	m.textinput.Reset()
	m.textinput.Placeholder = ui.BusyText
	m.notice = ""
	m = m.refresh()
	return m, m.spinner.Tick
}

// refresh pulls a fresh snapshot and rebuilds the viewport content.
func (m Model) refresh() Model {
	if m.controller == nil {
		return m
	}
	m.snapshot = m.controller.Snapshot()

	switch st := m.snapshot.State.(type) {
	case session.Succeeded:
		if m.renderedToken != m.snapshot.Token || m.doc == nil {
			doc := citation.Compose(st.Envelope)
			m.doc = &doc
			m.renderedToken = m.snapshot.Token
			m.renderedMD = safeRenderMarkdown(m.renderer, doc.Markdown)
			logging.UIDebug("rendered answer for %s: %d sources, %d markers",
				m.snapshot.Token, doc.Sources.Len(), len(doc.Prepared.Refs))
		}
	default:
		m.doc = nil
		m.renderedToken = ""
		m.renderedMD = ""
	}

	if !m.snapshot.Busy() {
		m.textinput.Placeholder = ui.InputPlaceholder
	}

	m.viewport.SetContent(m.renderBody())
	if _, ok := m.snapshot.State.(session.Succeeded); ok {
		m.viewport.GotoTop()
	}
	return m
}

func (m Model) resize(width, height int) Model {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	m.width = width
	m.height = height

	vpWidth := max(width-4, 1)
	vpHeight := max(height-headerHeight-inputHeight-footerHeight, 1)
	if !m.ready {
		m.viewport = viewport.New(vpWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = vpWidth
		m.viewport.Height = vpHeight
	}
	m.textinput.Width = max(width-8, 1)

	m.renderer = newRenderer(m.styles.Theme.IsDark, wrapWidth(m.cfg, width))
	if m.doc != nil {
		m.renderedMD = safeRenderMarkdown(m.renderer, m.doc.Markdown)
	}
	m.viewport.SetContent(m.renderBody())
	return m
}

// applyConfig reconfigures the controller for the next query and restyles
// the view. Rejected reloads keep the running config.
func (m Model) applyConfig(msg configReloadedMsg) Model {
	if m.watcher != nil {
		st := m.watcher.Stats()
		logging.UIDebug("config reload %d (%d file events, %d watcher errors)", st.Reloads, st.Events, st.Errors)
	}
	if msg.err != nil || msg.cfg == nil {
		m.notice = fmt.Sprintf("Config reload rejected: %v", msg.err)
		return m
	}

	prev := m.cfg
	m.cfg = msg.cfg
	if m.controller != nil {
		m.controller.Reconfigure(SessionOptions(m.cfg))
	}

	m.styles = ui.NewStyles(ui.ThemeFor(m.cfg.UI.Theme))
	m.textinput.PromptStyle = m.styles.Prompt
	m.textinput.TextStyle = m.styles.UserInput
	m.spinner.Style = m.styles.Spinner
	m.renderer = newRenderer(m.styles.Theme.IsDark, wrapWidth(m.cfg, m.termWidth()))
	if m.doc != nil {
		m.renderedMD = safeRenderMarkdown(m.renderer, m.doc.Markdown)
	}

	m.notice = "Config reloaded"
	if prev != nil && prev.Service.BaseURL != m.cfg.Service.BaseURL {
		m.notice = "Config reloaded (base_url takes effect after restart)"
	}
	m.viewport.SetContent(m.renderBody())
	return m
}

func (m Model) termWidth() int {
	if m.width > 0 {
		return m.width
	}
	return 80
}

func healthLine(msg healthMsg) string {
	if msg.err != nil {
		return "✗ " + research.MessageOf(msg.err)
	}
	if msg.status.OK {
		return fmt.Sprintf("● Service healthy (%d, %s)", msg.status.StatusCode, elapsedLabel(msg.status.Latency))
	}
	return fmt.Sprintf("● Service unhealthy (%d)", msg.status.StatusCode)
}

// Package chat implements the interactive research TUI using bubbletea.
// The Model never owns session state: it renders snapshots of the
// session.Controller and forwards key presses to it.
package chat

import (
	"context"
	"sync"
	"time"

	"researchdesk/cmd/researchdesk/ui"
	"researchdesk/internal/citation"
	"researchdesk/internal/config"
	"researchdesk/internal/logging"
	"researchdesk/internal/session"
	"researchdesk/internal/transport"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

// HealthChecker probes the research service. *transport.Client satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) (*transport.HealthStatus, error)
}

// Options wires a Model to its collaborators.
type Options struct {
	Controller *session.Controller
	Health     HealthChecker
	Config     *config.Config
	// ConfigPath enables hot reload when non-empty.
	ConfigPath string
}

// Model is the bubbletea model for the research TUI
type Model struct {
	// UI Components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    ui.Styles
	renderer  *glamour.TermRenderer

	// Layout
	width  int
	height int
	ready  bool

	// Session view
	controller    *session.Controller
	snapshot      session.Snapshot
	doc           *citation.Document
	renderedToken string
	renderedMD    string

	// Diagnostics
	health     HealthChecker
	healthLine string
	notice     string

	// Config
	cfg        *config.Config
	configPath string
	watcher    *config.Watcher
	reloadCh   chan configReloadedMsg

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	shutdownOnce   *sync.Once // pointer so Model copies share it
}

// Messages for tea updates
type (
	sessionChangedMsg struct{}

	healthMsg struct {
		status *transport.HealthStatus
		err    error
	}

	configReloadedMsg struct {
		cfg *config.Config
		err error
	}
)

// SessionOptions maps config timing onto controller options.
func SessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		Stages:         cfg.GetStages(),
		StageInterval:  cfg.GetStageInterval(),
		GracePeriod:    cfg.GetGracePeriod(),
		RequestTimeout: cfg.GetRequestTimeout(),
	}
}

// New builds the model. When opts.ConfigPath is set, a config watcher is
// started and stopped again by Shutdown.
func New(opts Options) Model {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	styles := ui.NewStyles(ui.ThemeFor(cfg.UI.Theme))

	ti := textinput.New()
	ti.Placeholder = ui.InputPlaceholder
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.UserInput

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	ctx, cancel := context.WithCancel(context.Background())

	m := Model{
		textinput:      ti,
		viewport:       viewport.New(80, 20),
		spinner:        sp,
		styles:         styles,
		renderer:       newRenderer(styles.Theme.IsDark, wrapWidth(cfg, 80)),
		controller:     opts.Controller,
		health:         opts.Health,
		cfg:            cfg,
		configPath:     opts.ConfigPath,
		reloadCh:       make(chan configReloadedMsg, 1),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
		shutdownOnce:   &sync.Once{},
	}
	if m.controller != nil {
		m.snapshot = m.controller.Snapshot()
	}
	m.startWatcher()
	m.viewport.SetContent(m.renderBody())
	return m
}

func (m *Model) startWatcher() {
	if m.configPath == "" {
		return
	}
	reloadCh := m.reloadCh
	w, err := config.NewWatcher(m.configPath, func(cfg *config.Config, err error) {
		msg := configReloadedMsg{cfg: cfg, err: err}
		select {
		case reloadCh <- msg:
		default:
			// Drop the stale pending reload in favor of this one.
			select {
			case <-reloadCh:
			default:
			}
			select {
			case reloadCh <- msg:
			default:
			}
		}
	})
	if err != nil {
		logging.UI("config hot reload unavailable: %v", err)
		return
	}
	if err := w.Start(m.shutdownCtx); err != nil {
		logging.UI("config hot reload unavailable: %v", err)
		w.Stop()
		return
	}
	m.watcher = w
}

// Init starts the cursor blink and the session and config listeners.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.waitForChange(),
		m.waitForReload(),
	)
}

// Shutdown cancels any in-flight query and stops background goroutines.
// Safe to call multiple times - only executes once.
func (m *Model) Shutdown() {
	m.shutdownOnce.Do(func() {
		if m.shutdownCancel != nil {
			m.shutdownCancel()
		}
		if m.watcher != nil {
			m.watcher.Stop()
		}
		if m.controller != nil {
			m.controller.Close()
		}
		logging.UI("chat shut down")
	})
}

// waitForChange blocks until the controller reports a transition.
func (m Model) waitForChange() tea.Cmd {
	if m.controller == nil {
		return nil
	}
	changes := m.controller.Changes()
	done := m.shutdownCtx.Done()
	return func() tea.Msg {
		select {
		case <-changes:
			return sessionChangedMsg{}
		case <-done:
			return nil
		}
	}
}

// waitForReload blocks until the config watcher delivers a reload.
func (m Model) waitForReload() tea.Cmd {
	if m.watcher == nil {
		return nil
	}
	reloadCh := m.reloadCh
	done := m.shutdownCtx.Done()
	return func() tea.Msg {
		select {
		case msg := <-reloadCh:
			return msg
		case <-done:
			return nil
		}
	}
}

// checkHealth probes the service off the UI goroutine.
func (m Model) checkHealth() tea.Cmd {
	if m.health == nil {
		return nil
	}
	health := m.health
	parent := m.shutdownCtx
	timeout := m.cfg.GetHealthTimeout()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		status, err := health.Health(ctx)
		return healthMsg{status: status, err: err}
	}
}

func wrapWidth(cfg *config.Config, termWidth int) int {
	w := termWidth - 8
	if cfg != nil && cfg.UI.WordWrap > 0 && cfg.UI.WordWrap < w {
		w = cfg.UI.WordWrap
	}
	if w < 20 {
		w = 20
	}
	return w
}

func newRenderer(dark bool, width int) *glamour.TermRenderer {
	style := "light"
	if dark {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		logging.UI("markdown renderer unavailable: %v", err)
		return nil
	}
	return r
}

// elapsedLabel formats a session duration for the footer.
func elapsedLabel(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

package chat

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"researchdesk/cmd/researchdesk/ui"
	"researchdesk/internal/config"
	"researchdesk/internal/research"
	"researchdesk/internal/session"
	"researchdesk/internal/transport"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type askFunc func(ctx context.Context, question string) (*research.Envelope, error)

func (f askFunc) Ask(ctx context.Context, question string) (*research.Envelope, error) {
	return f(ctx, question)
}

// gatedAsker blocks until released or until the request context ends.
type gatedAsker struct {
	release chan struct{}
	once    sync.Once
	env     *research.Envelope
}

func newGatedAsker(env *research.Envelope) *gatedAsker {
	return &gatedAsker{release: make(chan struct{}), env: env}
}

func (g *gatedAsker) Ask(ctx context.Context, question string) (*research.Envelope, error) {
	select {
	case <-g.release:
		return g.env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedAsker) open() {
	g.once.Do(func() { close(g.release) })
}

type healthFunc func(ctx context.Context) (*transport.HealthStatus, error)

func (f healthFunc) Health(ctx context.Context) (*transport.HealthStatus, error) {
	return f(ctx)
}

func parisEnvelope() *research.Envelope {
	confidence := 0.87
	return &research.Envelope{
		Answer:      "Paris is the capital of France [1].",
		Confidence:  &confidence,
		QueriesUsed: []string{"capital of france"},
		Sources: []research.Source{
			{URL: "https://www.example.com/paris", Title: "Paris overview", Snippet: "The capital city."},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.UI.Theme = "light"
	cfg.Progress.StageInterval = "2ms"
	cfg.Progress.GracePeriod = "0s"
	return cfg
}

func newTestModel(t *testing.T, asker session.Asker) Model {
	t.Helper()
	cfg := testConfig()
	ctrl := session.New(asker, SessionOptions(cfg))
	m := New(Options{Controller: ctrl, Config: cfg})
	t.Cleanup(m.Shutdown)

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 60})
	return updated.(Model)
}

func waitSettled(t *testing.T, ctrl *session.Controller) {
	t.Helper()
	require.Eventually(t, func() bool {
		return session.IsSettled(ctrl.Snapshot().State)
	}, 2*time.Second, 5*time.Millisecond)
}

func submit(t *testing.T, m Model, question string) Model {
	t.Helper()
	m.textinput.SetValue(question)
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Model)
}

func changed(m Model) Model {
	updated, _ := m.Update(sessionChangedMsg{})
	return updated.(Model)
}

func plainBody(m Model) string {
	return ansi.Strip(m.renderBody())
}

// =============================================================================
// LAYOUT
// =============================================================================

func TestUpdate_WindowSize(t *testing.T) {
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		return parisEnvelope(), nil
	}))

	if m.width != 120 || m.height != 60 {
		t.Errorf("expected 120x60, got %dx%d", m.width, m.height)
	}
	if !m.ready {
		t.Error("expected model to be ready after first resize")
	}
	assert.Equal(t, 60-headerHeight-inputHeight-footerHeight, m.viewport.Height)
}

func TestUpdate_WindowSize_Degenerate(t *testing.T) {
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		return parisEnvelope(), nil
	}))

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("panic on degenerate window size: %v", r)
		}
	}()
	for _, size := range []tea.WindowSizeMsg{{Width: 0, Height: 0}, {Width: -1, Height: -5}} {
		updated, _ := m.Update(size)
		_ = updated.(Model).View()
	}
}

func TestView_BeforeSize(t *testing.T) {
	m := New(Options{Config: testConfig()})
	t.Cleanup(m.Shutdown)
	assert.Equal(t, "Initializing...", m.View())
}

func TestView_IdleCopy(t *testing.T) {
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		return parisEnvelope(), nil
	}))

	view := ansi.Strip(m.View())
	assert.Contains(t, view, ui.AppTitle)
	assert.Contains(t, view, ui.Tagline)
	assert.Contains(t, view, ui.IdleText)
	assert.Contains(t, view, ui.InputPlaceholder)
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmit_BlankInputIsIgnored(t *testing.T) {
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		t.Error("asker must not be called for blank input")
		return nil, nil
	}))

	m.textinput.SetValue("   ")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	result := updated.(Model)

	assert.Nil(t, cmd)
	assert.IsType(t, session.Idle{}, result.controller.Snapshot().State)
	assert.Equal(t, "   ", result.textinput.Value())
}

func TestSubmit_RendersAnswer(t *testing.T) {
	m := newTestModel(t, askFunc(func(_ context.Context, q string) (*research.Envelope, error) {
		env := parisEnvelope()
		env.OriginalQuestion = q
		return env, nil
	}))

	m = submit(t, m, "What is the capital of France?")
	assert.Empty(t, m.textinput.Value(), "input is reset after submit")

	waitSettled(t, m.controller)
	m = changed(m)

	require.IsType(t, session.Succeeded{}, m.snapshot.State)
	require.NotNil(t, m.doc)
	assert.Equal(t, m.snapshot.Token, m.renderedToken)

	body := plainBody(m)
	assert.Contains(t, body, "What is the capital of France?")
	assert.Contains(t, body, "Paris is the capital of France")
	assert.Contains(t, body, "Confidence 87% (high)")
	assert.Contains(t, body, ui.QueriesLabel)
	assert.Contains(t, body, "capital of france")
	assert.Contains(t, body, "Paris overview")
	assert.Contains(t, body, "example.com")
	assert.NotContains(t, body, ui.InsufficientText)
	assert.Equal(t, ui.InputPlaceholder, m.textinput.Placeholder)
}

func TestSubmit_InsufficientAndNoConfidence(t *testing.T) {
	insufficient := false
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		return &research.Envelope{Answer: "Not much is known.", IsSufficient: &insufficient}, nil
	}))

	m = submit(t, m, "obscure topic")
	waitSettled(t, m.controller)
	m = changed(m)

	body := plainBody(m)
	assert.Contains(t, body, ui.InsufficientText)
	assert.NotContains(t, body, "Confidence")
	assert.NotContains(t, body, ui.QueriesLabel)
	assert.NotContains(t, body, ui.SourcesLabel)
}

func TestSubmit_WhileBusyIsIgnored(t *testing.T) {
	asker := newGatedAsker(parisEnvelope())
	m := newTestModel(t, asker)
	defer asker.open()

	m = submit(t, m, "first question")
	require.True(t, m.snapshot.Busy())
	token := m.snapshot.Token

	m = submit(t, m, "second question")
	assert.Equal(t, token, m.controller.Snapshot().Token)
	assert.Equal(t, "first question", m.controller.Snapshot().Question)

	busyView := ansi.Strip(m.View())
	assert.Contains(t, busyView, ui.BusyText)
	assert.Contains(t, busyView, "Searching the web")
}

func TestFailure_ShowsBanner(t *testing.T) {
	msg := transport.UnreachableMessage("http://localhost:8000")
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		return nil, research.ConnectivityError(msg, errors.New("dial tcp: refused"))
	}))

	m = submit(t, m, "anything")
	waitSettled(t, m.controller)
	m = changed(m)

	body := plainBody(m)
	assert.Contains(t, body, "Connection problem")
	assert.Contains(t, body, "Could not reach the research service")
	assert.Nil(t, m.doc)
}

// =============================================================================
// KEYS
// =============================================================================

func TestCtrlX_CancelsInFlight(t *testing.T) {
	asker := newGatedAsker(parisEnvelope())
	m := newTestModel(t, asker)
	defer asker.open()

	m = submit(t, m, "slow question")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	m = changed(updated.(Model))

	assert.IsType(t, session.Idle{}, m.snapshot.State)
	assert.Equal(t, "Research cancelled", m.notice)
	assert.Contains(t, plainBody(m), ui.IdleText)
}

func TestCtrlL_ClearsSettledResult(t *testing.T) {
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		return parisEnvelope(), nil
	}))

	m = submit(t, m, "capital of France")
	waitSettled(t, m.controller)
	m = changed(m)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	m = changed(updated.(Model))

	assert.IsType(t, session.Idle{}, m.snapshot.State)
	assert.Nil(t, m.doc)
	assert.Contains(t, plainBody(m), ui.IdleText)
}

func TestCtrlP_Health(t *testing.T) {
	t.Run("without checker", func(t *testing.T) {
		m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
			return nil, nil
		}))
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlP})
		assert.Nil(t, cmd)
	})

	t.Run("with checker", func(t *testing.T) {
		cfg := testConfig()
		ctrl := session.New(askFunc(func(context.Context, string) (*research.Envelope, error) {
			return nil, nil
		}), SessionOptions(cfg))
		m := New(Options{
			Controller: ctrl,
			Config:     cfg,
			Health: healthFunc(func(context.Context) (*transport.HealthStatus, error) {
				return &transport.HealthStatus{OK: true, StatusCode: http.StatusOK, Latency: 12 * time.Millisecond}, nil
			}),
		})
		t.Cleanup(m.Shutdown)

		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlP})
		require.NotNil(t, cmd)
		assert.Equal(t, "Checking service health...", updated.(Model).healthLine)

		msg := cmd()
		updated, _ = updated.(Model).Update(msg)
		assert.Equal(t, "● Service healthy (200, 12ms)", updated.(Model).healthLine)
	})
}

func TestHealthLine(t *testing.T) {
	assert.Equal(t, "● Service unhealthy (503)",
		healthLine(healthMsg{status: &transport.HealthStatus{StatusCode: http.StatusServiceUnavailable}}))
	assert.Equal(t, "✗ down",
		healthLine(healthMsg{err: research.ConnectivityError("down", nil)}))
}

func TestQuit_ShutsDownController(t *testing.T) {
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		return parisEnvelope(), nil
	}))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	_, err := m.controller.Start("after quit")
	assert.ErrorIs(t, err, session.ErrClosed)

	// Shutdown is idempotent.
	m.Shutdown()
}

// =============================================================================
// CONFIG RELOAD
// =============================================================================

func TestConfigReload_ReconfiguresController(t *testing.T) {
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		return parisEnvelope(), nil
	}))

	next := testConfig()
	next.Progress.Stages = []string{"Reading", "Writing"}
	updated, _ := m.Update(configReloadedMsg{cfg: next})
	m = updated.(Model)

	assert.Equal(t, "Config reloaded", m.notice)
	assert.Equal(t, []string{"Reading", "Writing"}, m.controller.Snapshot().Stages)

	moved := testConfig()
	moved.Progress.Stages = next.Progress.Stages
	moved.Service.BaseURL = "http://elsewhere:9000"
	updated, _ = m.Update(configReloadedMsg{cfg: moved})
	assert.Contains(t, updated.(Model).notice, "after restart")
}

func TestConfigReload_RejectedKeepsConfig(t *testing.T) {
	m := newTestModel(t, askFunc(func(context.Context, string) (*research.Envelope, error) {
		return parisEnvelope(), nil
	}))
	before := m.cfg

	updated, _ := m.Update(configReloadedMsg{err: errors.New("invalid progress.stage_interval")})
	result := updated.(Model)

	assert.Same(t, before, result.cfg)
	assert.True(t, strings.HasPrefix(result.notice, "Config reload rejected"))
}

func TestNew_StartsAndStopsWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	require.NoError(t, testConfig().Save(path))

	m := New(Options{Config: testConfig(), ConfigPath: path})
	require.NotNil(t, m.watcher)
	assert.NotNil(t, m.waitForReload())

	m.Shutdown()
	m.Shutdown()
}

// =============================================================================
// HELPERS
// =============================================================================

func TestSafeRenderMarkdown_NilRenderer(t *testing.T) {
	assert.Equal(t, "**raw**", safeRenderMarkdown(nil, "**raw**"))
}

func TestSafeRenderMarkdown_HidesFragmentLinks(t *testing.T) {
	r := newRenderer(false, 80)
	require.NotNil(t, r)

	out := ansi.Strip(safeRenderMarkdown(r, `Paris [\[1\]](#source-1).`))
	assert.Contains(t, out, "[1]")
	assert.NotContains(t, out, "#source-1")
}

func TestWrapWidth(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 72, wrapWidth(cfg, 80))
	assert.Equal(t, 20, wrapWidth(cfg, 10))

	cfg.UI.WordWrap = 60
	assert.Equal(t, 60, wrapWidth(cfg, 120))
	assert.Equal(t, 52, wrapWidth(cfg, 60))
}

func TestSessionOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Service.RequestTimeout = "30s"
	opts := SessionOptions(cfg)

	assert.Nil(t, opts.Stages)
	assert.Equal(t, 2*time.Millisecond, opts.StageInterval)
	assert.Equal(t, time.Duration(0), opts.GracePeriod)
	assert.Equal(t, 30*time.Second, opts.RequestTimeout)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"researchdesk/cmd/researchdesk/chat"
	"researchdesk/cmd/researchdesk/ui"
	"researchdesk/internal/citation"
	"researchdesk/internal/logging"
	"researchdesk/internal/progress"
	"researchdesk/internal/research"
	"researchdesk/internal/session"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	askRaw  bool
	askJSON bool
)

// errCancelled is returned when the user interrupts a running question.
var errCancelled = errors.New("research cancelled")

// askCmd runs one question without the TUI
var askCmd = &cobra.Command{
	Use:   "ask [question...]",
	Short: "Ask one research question and print the cited answer",
	Long: `Submits the question to the research service, reports progress on stderr
and prints the answer with its sources on stdout.

Examples:
  researchdesk ask "What is the capital of France?"
  researchdesk ask --raw why is the sky blue
  researchdesk ask --json "history of the printing press"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func newController(asker session.Asker, observer func(session.Transition)) *session.Controller {
	opts := chat.SessionOptions(cfg)
	opts.Observer = observer
	return session.New(asker, opts)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stages := cfg.GetStages()
	if stages == nil {
		stages = progress.DefaultStages()
	}
	printer := newStagePrinter(cmd.ErrOrStderr(), stages)

	ctrl := newController(newClient(), printer.observe)
	defer ctrl.Close()

	timer := logging.StartTimer(logging.CategorySession, "ask")
	defer timer.Stop()

	if _, err := ctrl.Start(question); err != nil {
		return err
	}

	snap, err := awaitSettled(ctx, ctrl)
	if err != nil {
		return err
	}

	switch st := snap.State.(type) {
	case session.Failed:
		return &research.Error{Kind: st.Kind, Message: st.Message}
	case session.Succeeded:
		return printAnswer(cmd.OutOrStdout(), st.Envelope, snap)
	default:
		return fmt.Errorf("unexpected session state %s", snap.State.Name())
	}
}

// awaitSettled waits for the controller to settle. Interrupting ctx cancels
// the question.
func awaitSettled(ctx context.Context, ctrl *session.Controller) (session.Snapshot, error) {
	for {
		snap := ctrl.Snapshot()
		if session.IsSettled(snap.State) {
			return snap, nil
		}
		if _, idle := snap.State.(session.Idle); idle {
			return snap, errCancelled
		}

		select {
		case <-ctrl.Changes():
		case <-ctx.Done():
			ctrl.Cancel()
			return ctrl.Snapshot(), errCancelled
		}
	}
}

func printAnswer(w io.Writer, env *research.Envelope, snap session.Snapshot) error {
	if askJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	doc := citation.Compose(env)
	md := documentMarkdown(doc, cfg.UI.ShowSnippets)
	if askRaw {
		_, err := fmt.Fprintln(w, md)
		return err
	}

	wrap := cfg.UI.WordWrap
	if wrap <= 0 {
		wrap = 100
	}
	style := "light"
	if ui.ThemeFor(cfg.UI.Theme).IsDark {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("failed to render answer: %w", err)
	}
	if _, err := fmt.Fprint(w, out); err != nil {
		return err
	}
	logging.Session("answered in %v", snap.Elapsed())
	return nil
}

// documentMarkdown lays out a composed answer as one markdown document:
// meter line, sufficiency warning, answer, query list, sources.
func documentMarkdown(doc citation.Document, withSnippets bool) string {
	var sb strings.Builder

	if doc.HasConfidence() {
		c := *doc.Confidence
		sb.WriteString(fmt.Sprintf("**Confidence:** %d%% (%s)\n\n", research.Percent(c), research.LevelFor(c)))
	}
	if !doc.Sufficient {
		sb.WriteString("> ⚠ " + ui.InsufficientText + "\n\n")
	}

	sb.WriteString(strings.TrimSpace(doc.Markdown))
	sb.WriteString("\n")

	if len(doc.QueriesUsed) > 0 {
		quoted := make([]string, len(doc.QueriesUsed))
		for i, q := range doc.QueriesUsed {
			quoted[i] = "`" + strings.ReplaceAll(q, "`", "'") + "`"
		}
		sb.WriteString("\n**" + ui.QueriesLabel + "** " + strings.Join(quoted, " · ") + "\n")
	}

	if sources := doc.SourcesMarkdown(withSnippets); sources != "" {
		sb.WriteString("\n" + sources)
	}
	return sb.String()
}

// stagePrinter writes narrator progress to stderr as the controller
// transitions. It runs under the controller lock and only writes. Failures
// are reported by main.
type stagePrinter struct {
	w       io.Writer
	stages  []string
	printed int

	current *color.Color
	done    *color.Color
}

func newStagePrinter(w io.Writer, stages []string) *stagePrinter {
	return &stagePrinter{
		w:       w,
		stages:  stages,
		current: color.New(color.FgCyan),
		done:    color.New(color.FgGreen),
	}
}

func (p *stagePrinter) observe(tr session.Transition) {
	switch st := tr.To.(type) {
	case session.InFlight:
		for p.printed <= st.Stage && p.printed < len(p.stages) {
			p.current.Fprintf(p.w, "[%d/%d] %s...\n", p.printed+1, len(p.stages), p.stages[p.printed])
			p.printed++
		}
	case session.Succeeded:
		p.done.Fprintln(p.w, "✓ Research complete")
	}
}

// Package session owns the single research session: it submits the question,
// runs the progress narrator alongside the request and settles exactly one
// outcome per submission.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"researchdesk/internal/logging"
	"researchdesk/internal/progress"
	"researchdesk/internal/research"

	"github.com/google/uuid"
)

// DefaultGracePeriod is how long the completed stage list stays visible
// before a successful answer replaces it.
const DefaultGracePeriod = 500 * time.Millisecond

var (
	// ErrInFlight rejects Start while a previous question is unresolved.
	ErrInFlight = errors.New("a research question is already in flight")
	// ErrClosed rejects Start after Close.
	ErrClosed = errors.New("session controller is closed")
)

// Asker performs the remote query. *transport.Client satisfies it.
type Asker interface {
	Ask(ctx context.Context, question string) (*research.Envelope, error)
}

// Options configures a Controller.
type Options struct {
	// Stages defaults to progress.DefaultStages() when nil.
	Stages        []string
	StageInterval time.Duration
	GracePeriod   time.Duration
	// RequestTimeout bounds each Ask call; zero means no deadline.
	RequestTimeout time.Duration

	// Observer receives every transition in order. It runs with the controller
	// locked and must not call back into the controller.
	Observer func(Transition)
}

// DefaultOptions returns the standard cadence and grace period.
func DefaultOptions() Options {
	return Options{
		Stages:        progress.DefaultStages(),
		StageInterval: progress.DefaultInterval,
		GracePeriod:   DefaultGracePeriod,
	}
}

// Controller is the single writer of the current session. Callbacks from the
// request and narrator goroutines only change state when their token still
// matches the current session.
type Controller struct {
	asker Asker

	mu        sync.Mutex
	opts      Options
	state     State
	token     string
	question  string
	stages    []string
	startedAt time.Time
	settledAt time.Time
	cancel    context.CancelFunc
	narrator  *progress.Narrator
	closed    bool

	changes chan struct{}
	wg      sync.WaitGroup
}

// New creates an idle controller.
func New(asker Asker, opts Options) *Controller {
	opts = normalizeOptions(opts)
	return &Controller{
		asker:   asker,
		opts:    opts,
		state:   Idle{},
		stages:  opts.Stages,
		changes: make(chan struct{}, 1),
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Stages == nil {
		opts.Stages = progress.DefaultStages()
	} else {
		opts.Stages = append([]string(nil), opts.Stages...)
	}
	if opts.StageInterval <= 0 {
		opts.StageInterval = progress.DefaultInterval
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.RequestTimeout < 0 {
		opts.RequestTimeout = 0
	}
	return opts
}

// Start submits question. A settled previous result is discarded first.
// It returns the new session token.
func (c *Controller) Start(question string) (string, error) {
	q, err := research.NormalizeQuestion(question)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if _, busy := c.state.(InFlight); busy {
		current := c.token
		c.mu.Unlock()
		logging.SessionDebug("rejected start: session %s still in flight", current)
		return "", ErrInFlight
	}
	if IsSettled(c.state) {
		c.transitionLocked(Idle{}, c.token)
	}

	opts := c.opts
	token := uuid.NewString()

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if opts.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), opts.RequestTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	narrator := progress.New(opts.Stages, opts.StageInterval)

	c.token = token
	c.question = q
	c.stages = narrator.Stages()
	c.startedAt = time.Now()
	c.settledAt = time.Time{}
	c.cancel = cancel
	c.narrator = narrator
	c.transitionLocked(InFlight{Stage: 0}, token)

	c.wg.Add(1)
	c.mu.Unlock()

	logging.WithRequestID(logging.CategorySession, token).Info("submitted question (%d chars)", len(q))
	go c.run(ctx, cancel, token, q, narrator, opts.GracePeriod)
	return token, nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, token, question string, narrator *progress.Narrator, grace time.Duration) {
	defer c.wg.Done()
	defer cancel()

	reqLog := logging.WithRequestID(logging.CategorySession, token).WithField("stages", len(narrator.Stages()))

	narrator.Begin(ctx, func(stage int) {
		c.advance(token, stage)
	})

	env, err := c.asker.Ask(ctx, question)
	if err != nil {
		narrator.Stop(false)
		failed := failureFrom(err)
		if !c.settle(token, failed) {
			return
		}
		if research.KindOf(err) == "" {
			reqLog.Error("unclassified query failure: %v", err)
		} else {
			reqLog.Warn("query failed (%s): %s", failed.Kind, failed.Message)
		}
		return
	}

	c.advance(token, narrator.Stop(true))
	reqLog.Debug("answer received, holding stages for %v", grace)

	if grace > 0 {
		timer := time.NewTimer(grace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	if c.settle(token, Succeeded{Envelope: env}) {
		reqLog.Info("query succeeded with %d sources", len(env.Sources))
	}
}

func failureFrom(err error) Failed {
	kind := research.KindOf(err)
	msg := research.MessageOf(err)
	if kind == "" {
		kind = research.KindService
		if errors.Is(err, context.DeadlineExceeded) {
			kind = research.KindConnectivity
			msg = "The research service did not answer before the request timeout."
		}
	}
	return Failed{Kind: kind, Message: msg}
}

// advance moves the stage forward for the session identified by token.
func (c *Controller) advance(token string, stage int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.token {
		return
	}
	cur, ok := c.state.(InFlight)
	if !ok || stage <= cur.Stage {
		return
	}
	c.transitionLocked(InFlight{Stage: stage}, token)
}

// settle records the outcome for token. It reports false when the session was
// cancelled or superseded.
func (c *Controller) settle(token string, outcome State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.token {
		logging.SessionDebug("dropped stale %s for session %s", outcome.Name(), token)
		return false
	}
	if _, ok := c.state.(InFlight); !ok {
		return false
	}
	c.settledAt = time.Now()
	c.cancel = nil
	c.narrator = nil
	c.transitionLocked(outcome, token)
	return true
}

func (c *Controller) transitionLocked(to State, token string) {
	from := c.state
	c.state = to
	logging.SessionDebug("session %s: %s -> %s", token, from.Name(), to.Name())
	auditTransition(from, to, token, c.startedAt, len(c.stages))

	if c.opts.Observer != nil {
		c.opts.Observer(Transition{From: from, To: to, Token: token})
	}
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Cancel aborts the in-flight query and returns to Idle. Late results of the
// aborted query are ignored. It reports whether anything was cancelled.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if _, busy := c.state.(InFlight); !busy {
		c.mu.Unlock()
		return false
	}
	cancel, narrator, token := c.cancel, c.narrator, c.token
	c.token = ""
	c.cancel = nil
	c.narrator = nil
	c.settledAt = time.Now()
	c.transitionLocked(Idle{}, token)
	c.mu.Unlock()

	logging.WithRequestID(logging.CategorySession, token).Info("cancelled by user")
	if cancel != nil {
		cancel()
	}
	if narrator != nil {
		narrator.Stop(false)
	}
	return true
}

// Clear discards a settled result. It reports whether anything was cleared.
func (c *Controller) Clear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !IsSettled(c.state) {
		return false
	}
	token := c.token
	c.token = ""
	c.question = ""
	c.startedAt = time.Time{}
	c.settledAt = time.Time{}
	c.transitionLocked(Idle{}, token)
	return true
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Token:     c.token,
		Question:  c.question,
		State:     c.state,
		Stages:    append([]string(nil), c.stages...),
		StartedAt: c.startedAt,
		SettledAt: c.settledAt,
	}
}

// Changes signals after state transitions. Signals coalesce; read Snapshot
// after each one.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// Reconfigure replaces the timing options for subsequent sessions. A nil
// Observer keeps the current one.
func (c *Controller) Reconfigure(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.Observer == nil {
		opts.Observer = c.opts.Observer
	}
	c.opts = normalizeOptions(opts)
	if _, busy := c.state.(InFlight); !busy {
		c.stages = append([]string(nil), c.opts.Stages...)
	}
	logging.Session("reconfigured: %d stages, interval %v, grace %v, timeout %v",
		len(c.opts.Stages), c.opts.StageInterval, c.opts.GracePeriod, c.opts.RequestTimeout)
}

// Close cancels any in-flight query and waits for its goroutines to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Cancel()
	c.wg.Wait()
	logging.SessionDebug("controller closed")
}

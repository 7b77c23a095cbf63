// Package progress drives the cosmetic stage narrative shown while a research
// query is in flight. It has no knowledge of the real request: stages advance
// on a fixed cadence and the owner finalizes them when the answer arrives.
package progress

import (
	"context"
	"sync"
	"time"

	"researchdesk/internal/logging"
)

// DefaultInterval is the cadence between stage advances.
const DefaultInterval = 800 * time.Millisecond

var defaultStages = []string{
	"Understanding the question",
	"Searching the web",
	"Reading sources",
	"Writing the answer",
}

// DefaultStages returns a copy of the built-in stage labels.
func DefaultStages() []string {
	out := make([]string, len(defaultStages))
	copy(out, defaultStages)
	return out
}

type narratorState int

const (
	stateIdle narratorState = iota
	stateRunning
	stateStopped
)

// Narrator advances a stage index from 0 toward the last stage on a fixed tick.
// A Narrator is single-use: Begin after Stop does nothing.
//
// Index semantics: i < len(stages) means stage i is active and earlier stages are
// done; i == len(stages) means every stage is complete.
type Narrator struct {
	mu       sync.Mutex
	stages   []string
	interval time.Duration
	index    int
	state    narratorState
	begun    bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a narrator over stages. A non-positive interval uses DefaultInterval.
func New(stages []string, interval time.Duration) *Narrator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := make([]string, len(stages))
	copy(s, stages)
	return &Narrator{
		stages:   s,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Stages returns a copy of the narrated labels.
func (n *Narrator) Stages() []string {
	out := make([]string, len(n.stages))
	copy(out, n.stages)
	return out
}

// Index returns the current stage index.
func (n *Narrator) Index() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index
}

// Complete reports whether every stage has been marked done.
func (n *Narrator) Complete() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index >= len(n.stages)
}

// Begin starts ticking. onAdvance is called from the ticker goroutine with each
// new index; it must not call Stop. With zero stages the narrator is already
// complete and Begin starts nothing.
func (n *Narrator) Begin(ctx context.Context, onAdvance func(int)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateIdle {
		return
	}
	n.state = stateRunning
	n.begun = true
	n.index = 0

	if len(n.stages) <= 1 {
		// Nothing to advance to; the ticker would only ever hold.
		close(n.doneCh)
		return
	}

	go n.run(ctx, onAdvance)
}

// Stop halts ticking and waits for the ticker goroutine to exit. With finalize
// the index jumps to len(stages). Stop is idempotent and valid before Begin.
// It returns the final index.
func (n *Narrator) Stop(finalize bool) int {
	n.mu.Lock()
	prev := n.state
	n.state = stateStopped
	begun := n.begun
	n.mu.Unlock()

	if prev != stateStopped {
		close(n.stopCh)
	}
	// Every caller waits for the goroutine, not just the first.
	if begun {
		<-n.doneCh
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if finalize {
		n.index = len(n.stages)
	}
	return n.index
}

func (n *Narrator) run(ctx context.Context, onAdvance func(int)) {
	defer close(n.doneCh)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	last := len(n.stages) - 1
	for {
		select {
		case <-ctx.Done():
			logging.ProgressDebug("narrator: context done at stage %d", n.Index())
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			// Stop wins over a tick that raced it.
			select {
			case <-n.stopCh:
				return
			default:
			}

			n.mu.Lock()
			n.index++
			idx := n.index
			n.mu.Unlock()

			logging.ProgressDebug("narrator: advanced to stage %d (%s)", idx, n.stages[idx])
			if onAdvance != nil {
				onAdvance(idx)
			}
			if idx >= last {
				return
			}
		}
	}
}

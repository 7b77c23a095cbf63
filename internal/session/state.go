package session

import (
	"fmt"
	"time"

	"researchdesk/internal/research"
)

// State is the current phase of the session. Exactly one variant is active:
// Idle, InFlight, Succeeded or Failed.
type State interface {
	isState()
	// Name is a short label used in logs.
	Name() string
}

// Idle means no question is pending and no result is shown.
type Idle struct{}

// InFlight means a question has been submitted and not yet resolved.
// Stage is the narrator index; Stage == len(stages) means every stage is done.
type InFlight struct {
	Stage int
}

// Succeeded holds the envelope of the settled query.
type Succeeded struct {
	Envelope *research.Envelope
}

// Failed holds the classified failure of the settled query.
type Failed struct {
	Kind    research.Kind
	Message string
}

func (Idle) isState()      {}
func (InFlight) isState()  {}
func (Succeeded) isState() {}
func (Failed) isState()    {}

func (Idle) Name() string       { return "idle" }
func (s InFlight) Name() string { return fmt.Sprintf("in_flight(%d)", s.Stage) }
func (Succeeded) Name() string  { return "succeeded" }
func (s Failed) Name() string   { return fmt.Sprintf("failed(%s)", s.Kind) }

// IsSettled reports whether s is a terminal variant.
func IsSettled(s State) bool {
	switch s.(type) {
	case Succeeded, Failed:
		return true
	}
	return false
}

// Transition is one state change, delivered to Options.Observer in order.
type Transition struct {
	From  State
	To    State
	Token string
}

// Snapshot is an immutable copy of the controller's current session.
type Snapshot struct {
	Token     string
	Question  string
	State     State
	Stages    []string
	StartedAt time.Time
	SettledAt time.Time
}

// Busy reports whether a query is in flight.
func (s Snapshot) Busy() bool {
	_, ok := s.State.(InFlight)
	return ok
}

// Elapsed is the time from submission to settlement, or to now while in flight.
func (s Snapshot) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.SettledAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.SettledAt.Sub(s.StartedAt)
}

// Package session coordinates one editing session: a pure state machine
// over an explicit Session value, and a Controller that runs its effects.
package session

import (
	"time"

	"github.com/joss/buildlab/internal/compose"
	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/history"
	"github.com/joss/buildlab/internal/merge"
	"github.com/joss/buildlab/internal/parse"
)

// State is the controller state.
type State int

const (
	// Idle accepts input; no call is in flight.
	Idle State = iota
	// Submitting has input locked while the model call runs.
	Submitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// Request is an in-flight model call. ID ties the eventual completion
// back to the submit that started it.
type Request struct {
	ID        string
	StartedAt time.Time
	compose.Request
}

// Session is the full state of one session. It is a value: transitions
// return a new Session rather than modifying the old one. History is the
// session's append-only log, which only the Controller appends to.
type Session struct {
	ID           string
	Mode         domain.Mode
	State        State
	PendingQuery string
	Tree         domain.ProjectTree
	History      *history.Store
	InFlight     *Request
}

// InputLocked reports whether new submissions are currently refused.
func (s Session) InputLocked() bool {
	return s.State == Submitting
}

// Event drives a transition.
type Event interface{ isEvent() }

// Submit asks to send Query. RequestID and At are supplied by the caller
// so transitions stay deterministic.
type Submit struct {
	Query     string
	RequestID string
	At        time.Time
}

// Edit replaces the text in the input field.
type Edit struct {
	Query string
}

// Completed carries the raw text returned for RequestID.
type Completed struct {
	RequestID string
	Raw       string
	At        time.Time
}

// Failed reports that the call for RequestID failed.
type Failed struct {
	RequestID string
	Err       error
	At        time.Time
}

func (Submit) isEvent()    {}
func (Edit) isEvent()      {}
func (Completed) isEvent() {}
func (Failed) isEvent()    {}

// Effect is a side effect requested by a transition.
type Effect interface{ isEffect() }

// Dispatch starts the model call for Request.
type Dispatch struct {
	Request Request
}

// AppendTurn appends Turn to the session history.
type AppendTurn struct {
	Turn domain.Turn
}

// Notify surfaces Notification to the user.
type Notify struct {
	Notification Notification
}

func (Dispatch) isEffect()   {}
func (AppendTurn) isEffect() {}
func (Notify) isEffect()     {}

// Machine holds the fixed inputs of the transition function: the prompt
// composer and the immutable baseline scaffold.
type Machine struct {
	composer *compose.Composer
	baseline domain.ProjectTree
}

// NewMachine creates a machine. baseline is copied.
func NewMachine(composer *compose.Composer, baseline domain.ProjectTree) *Machine {
	return &Machine{
		composer: composer,
		baseline: baseline.Clone(),
	}
}

// Mode returns the generation mode of sessions run by this machine.
func (m *Machine) Mode() domain.Mode {
	return m.composer.Mode()
}

// Baseline returns a copy of the baseline tree.
func (m *Machine) Baseline() domain.ProjectTree {
	return m.baseline.Clone()
}

// Start returns a fresh Idle session. A nil hist starts an empty history;
// a nil tree starts from the baseline.
func (m *Machine) Start(id string, hist *history.Store, tree domain.ProjectTree) Session {
	if hist == nil {
		hist = history.New()
	}
	if tree == nil {
		tree = m.baseline
	}
	return Session{
		ID:      id,
		Mode:    m.Mode(),
		State:   Idle,
		Tree:    tree.Clone(),
		History: hist,
	}
}

// Transition applies ev to s. It performs no I/O: everything that must
// happen outside the session is returned as effects.
func (m *Machine) Transition(s Session, ev Event) (Session, []Effect) {
	switch e := ev.(type) {
	case Submit:
		return m.submit(s, e)
	case Edit:
		if s.InputLocked() {
			return s, nil
		}
		s.PendingQuery = e.Query
		return s, nil
	case Completed:
		if !m.current(s, e.RequestID) {
			return s, nil
		}
		return m.complete(s, e)
	case Failed:
		if !m.current(s, e.RequestID) {
			return s, nil
		}
		return m.fail(s, domain.NewGenerationError(s.InFlight.Config.Model, e.Err), e.At)
	default:
		return s, nil
	}
}

func (m *Machine) current(s Session, requestID string) bool {
	return s.State == Submitting && s.InFlight != nil && s.InFlight.ID == requestID
}

func (m *Machine) submit(s Session, e Submit) (Session, []Effect) {
	if s.InputLocked() {
		return s, []Effect{Notify{Notification: newNotification(domain.ErrConcurrentSubmission, e.Query, e.At)}}
	}

	req, err := m.composer.Compose(e.Query, s.History.All())
	if err != nil {
		return s, []Effect{Notify{Notification: newNotification(err, e.Query, e.At)}}
	}

	inflight := &Request{ID: e.RequestID, StartedAt: e.At, Request: req}
	s.State = Submitting
	s.PendingQuery = req.Query
	s.InFlight = inflight
	return s, []Effect{Dispatch{Request: *inflight}}
}

func (m *Machine) complete(s Session, e Completed) (Session, []Effect) {
	res, err := parse.Parse(e.Raw, s.InFlight.Mode)
	if err != nil {
		return m.fail(s, err, e.At)
	}

	turn := domain.NewTurn(s.InFlight.Query, res, e.At.Sub(s.InFlight.StartedAt), e.At)
	if s.InFlight.Mode == domain.ModeProject {
		s.Tree = merge.ApplyResult(m.baseline, res)
	}
	s.State = Idle
	s.InFlight = nil
	s.PendingQuery = ""

	return s, []Effect{
		AppendTurn{Turn: turn},
		Notify{Notification: turnNotification(turn)},
	}
}

// fail returns to Idle keeping the query for retry. Tree and history are
// left as they were.
func (m *Machine) fail(s Session, err error, at time.Time) (Session, []Effect) {
	query := s.InFlight.Query
	s.State = Idle
	s.InFlight = nil
	s.PendingQuery = query
	return s, []Effect{Notify{Notification: newNotification(err, query, at)}}
}

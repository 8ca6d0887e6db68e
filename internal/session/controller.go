package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/history"
	"github.com/joss/buildlab/internal/logging"
	"github.com/joss/buildlab/internal/merge"
	"github.com/joss/buildlab/pkg/llm"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("session closed")

const defaultNotifyBuffer = 16

// Controller runs a Machine against a real model. Events are applied one
// at a time under a mutex; the model call runs on its own goroutine and
// reports back as a Completed or Failed event.
type Controller struct {
	machine  *Machine
	provider llm.Provider
	log      *logging.Logger
	id       string
	mode     domain.Mode

	mu     sync.Mutex
	sess   Session
	closed bool

	notes  chan Notification
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// Option configures a Controller.
type Option func(*controllerOptions)

type controllerOptions struct {
	id     string
	hist   *history.Store
	tree   domain.ProjectTree
	buffer int
	now    func() time.Time
	newID  func() string
}

// WithID sets the session ID. A random one is used otherwise.
func WithID(id string) Option {
	return func(o *controllerOptions) { o.id = id }
}

// WithHistory resumes a session from a saved turn log.
func WithHistory(h *history.Store) Option {
	return func(o *controllerOptions) { o.hist = h }
}

// WithTree resumes a session from a saved project tree.
func WithTree(tree domain.ProjectTree) Option {
	return func(o *controllerOptions) { o.tree = tree }
}

// WithNotifyBuffer sets the notification channel capacity.
func WithNotifyBuffer(n int) Option {
	return func(o *controllerOptions) { o.buffer = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *controllerOptions) { o.now = now }
}

// WithRequestIDs replaces the request ID generator.
func WithRequestIDs(newID func() string) Option {
	return func(o *controllerOptions) { o.newID = newID }
}

// NewController starts an Idle session driven by machine and provider.
func NewController(machine *Machine, provider llm.Provider, opts ...Option) *Controller {
	o := controllerOptions{
		buffer: defaultNotifyBuffer,
		now:    time.Now,
		newID:  logging.NewRequestID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = o.newID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		machine:  machine,
		provider: provider,
		log:      logging.New("session").WithSession(o.id),
		id:       o.id,
		mode:     machine.Mode(),
		sess:     machine.Start(o.id, o.hist, o.tree),
		notes:    make(chan Notification, o.buffer),
		ctx:      ctx,
		cancel:   cancel,
		now:      o.now,
		newID:    o.newID,
	}
}

// ID returns the session ID.
func (c *Controller) ID() string {
	return c.id
}

// Mode returns the session's generation mode.
func (c *Controller) Mode() domain.Mode {
	return c.mode
}

// Notifications delivers user-facing notifications. Sends never block; if
// the buffer is full the notification is dropped and logged. The channel
// is closed by Close.
func (c *Controller) Notifications() <-chan Notification {
	return c.notes
}

// Submit sends query to the model. It returns domain.ErrEmptyQuery or
// domain.ErrConcurrentSubmission synchronously; generation outcomes
// arrive later as notifications.
func (c *Controller) Submit(query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.apply(Submit{Query: query, RequestID: c.newID(), At: c.now()})
}

// Edit replaces the pending query. It is ignored while a call is in flight.
func (c *Controller) Edit(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.apply(Edit{Query: query})
}

// Wait blocks until no model call is in flight.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels any in-flight call and waits for it to return. A result
// that arrives after Close is discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	close(c.notes)
}

// apply runs one transition and its effects. c.mu must be held. It
// returns the error of the first failure notification, if any.
func (c *Controller) apply(ev Event) error {
	next, effects := c.machine.Transition(c.sess, ev)
	c.sess = next

	var first error
	for _, eff := range effects {
		switch e := eff.(type) {
		case Dispatch:
			c.dispatch(e.Request)
		case AppendTurn:
			c.sess.History.Append(e.Turn)
			c.log.Info("turn_appended", map[string]interface{}{
				"mode":       string(e.Turn.Mode()),
				"latency_ms": e.Turn.LatencyMs,
				"turns":      c.sess.History.Len(),
			})
		case Notify:
			n := e.Notification
			if n.Failed() {
				if first == nil {
					first = n.Err
				}
				c.log.Warn("submit_failed", map[string]interface{}{
					"kind": string(n.Kind),
				}, n.Err)
			}
			c.publish(n)
		}
	}
	return first
}

func (c *Controller) dispatch(req Request) {
	if req.DroppedTurns > 0 {
		c.log.Warn("history_truncated", map[string]interface{}{
			"request_id": req.ID,
			"included":   req.IncludedTurns,
			"dropped":    req.DroppedTurns,
		}, nil)
	}

	c.wg.Add(1)
	logging.SafeGo("session", func() {
		defer c.wg.Done()

		ctx := logging.WithRequestID(c.ctx, req.ID)
		raw, err := c.provider.Generate(ctx, req.Prompt, req.Config)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		at := c.now()
		if err != nil {
			c.apply(Failed{RequestID: req.ID, Err: err, At: at})
			return
		}
		c.apply(Completed{RequestID: req.ID, Raw: raw, At: at})
	})
}

func (c *Controller) publish(n Notification) {
	select {
	case c.notes <- n:
	default:
		c.log.Warn("notification_dropped", map[string]interface{}{
			"kind": string(n.Kind),
		}, nil)
	}
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ID           string
	Mode         domain.Mode
	State        State
	PendingQuery string
	Tree         domain.ProjectTree
	Turns        []domain.Turn
	Fingerprint  uint64
}

// InputLocked reports whether the snapshot was taken mid-call.
func (s Snapshot) InputLocked() bool {
	return s.State == Submitting
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:           c.sess.ID,
		Mode:         c.sess.Mode,
		State:        c.sess.State,
		PendingQuery: c.sess.PendingQuery,
		Tree:         c.sess.Tree.Clone(),
		Turns:        c.sess.History.All(),
		Fingerprint:  merge.Fingerprint(c.sess.Tree),
	}
}

package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/stepflow/pkg/condition"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/ports"
)

// Controller sequences the steps of one flow traversal.
// All methods are safe for concurrent use; outbound calls run without holding the lock
// and are guarded by the Busy flag instead.
type Controller struct {
	mu     sync.Mutex
	def    *flow.Definition
	caller ports.Caller
	state  *domain.State
	skips  []condition.Predicate

	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	instanceID  string
	context     map[string]any
	busyTimeout time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Controller) {
		c.hooks = c.hooks.Merge(hooks)
	}
}

// WithInstanceID sets the identifier of a new traversal. Ignored by Restore.
func WithInstanceID(id string) Option {
	return func(c *Controller) {
		c.instanceID = id
	}
}

// WithContext supplies host parameters read by request builders. Ignored by Restore.
func WithContext(values map[string]any) Option {
	return func(c *Controller) {
		c.context = values
	}
}

// WithBusyTimeout makes Restore release a busy flag older than d. The call that set it
// is treated as abandoned and its result, if it ever arrives, is discarded.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.busyTimeout = d
	}
}

// New creates a controller for a fresh traversal of def, in the NotStarted state.
func New(def *flow.Definition, caller ports.Caller, opts ...Option) (*Controller, error) {
	c, err := build(def, caller, opts)
	if err != nil {
		return nil, err
	}
	c.state = domain.NewState(def.Name, c.instanceID, def.StepIDs())
	for k, v := range c.context {
		c.state.Context[k] = v
	}
	return c, nil
}

// Restore rebuilds a controller around a previously saved snapshot.
func Restore(def *flow.Definition, state *domain.State, caller ports.Caller, opts ...Option) (*Controller, error) {
	if state == nil {
		return nil, fmt.Errorf("cannot restore a nil state")
	}
	c, err := build(def, caller, opts)
	if err != nil {
		return nil, err
	}
	if state.FlowID != def.Name {
		return nil, fmt.Errorf("state belongs to flow %q, not %q", state.FlowID, def.Name)
	}
	ids := def.StepIDs()
	if len(ids) != len(state.Steps) {
		return nil, fmt.Errorf("state steps do not match flow %s", def.Name)
	}
	for i := range ids {
		if ids[i] != state.Steps[i] {
			return nil, fmt.Errorf("state steps do not match flow %s", def.Name)
		}
	}
	if state.CurrentIndex < 0 || state.CurrentIndex >= len(ids) {
		return nil, fmt.Errorf("state index %d out of range", state.CurrentIndex)
	}
	if err := checkHistory(state, len(ids)); err != nil {
		return nil, err
	}
	c.state = state.Clone()
	c.logger = c.logger.With("instance", state.InstanceID)

	if c.state.Busy && c.busyTimeout > 0 && time.Since(c.state.BusySince) > c.busyTimeout {
		c.logger.Warn("releasing abandoned call", "busy_since", c.state.BusySince, "step", c.state.CurrentStep())
		c.state.Busy = false
		c.state.BusySince = time.Time{}
	}
	return c, nil
}

// checkHistory rejects snapshots whose history log cannot be navigated.
func checkHistory(s *domain.State, steps int) error {
	if s.Status == domain.StatusNotStarted && len(s.History) == 0 {
		return nil
	}
	if s.Head < 0 || s.Head >= len(s.History) {
		return fmt.Errorf("state head %d out of range", s.Head)
	}
	for i, v := range s.History {
		if v.Index < 0 || v.Index >= steps || v.From < -1 || v.From >= i {
			return fmt.Errorf("state history entry %d is invalid", i)
		}
	}
	if s.History[s.Head].Index != s.CurrentIndex {
		return fmt.Errorf("state head points at step %d, not %d", s.History[s.Head].Index, s.CurrentIndex)
	}
	return nil
}

func build(def *flow.Definition, caller ports.Caller, opts []Option) (*Controller, error) {
	if def == nil {
		return nil, fmt.Errorf("flow definition is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if caller == nil {
		return nil, fmt.Errorf("flow %s: caller is required", def.Name)
	}

	c := &Controller{def: def, caller: caller}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("flow", def.Name)
	if c.instanceID != "" {
		c.logger = c.logger.With("instance", c.instanceID)
	}

	c.skips = make([]condition.Predicate, len(def.Steps))
	for i, s := range def.Steps {
		switch {
		case s.Skip != nil:
			c.skips[i] = condition.Predicate(s.Skip)
		case s.SkipWhen != "":
			p, err := condition.Compile(s.SkipWhen)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", s.ID, err)
			}
			c.skips[i] = p
		}
	}
	return c, nil
}

// Definition returns the flow being traversed.
func (c *Controller) Definition() *flow.Definition {
	return c.def
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() *domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// CurrentStep returns the current step definition.
func (c *Controller) CurrentStep() domain.Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def.Steps[c.state.CurrentIndex]
}

// Busy reports whether an outbound call is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Busy
}

// IsComplete is true once the current step is the last eligible one and it has been
// marked done (explicitly or by a successful completion).
func (c *Controller) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.Status == domain.StatusNotStarted {
		return false
	}
	return c.isLast(s, s.CurrentIndex) && s.Done[s.CurrentStep()]
}

// Path returns the identifiers of the steps not skipped under the current answers.
func (c *Controller) Path() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for i, id := range c.state.Steps {
		if !c.skipped(c.state, i) {
			out = append(out, id)
		}
	}
	return out
}

// event is a hook invocation collected under the lock and fired after it is released.
type event struct {
	typ   domain.EventType
	step  string
	index int
	op    string
	err   error
	call  *domain.CallEvent
}

func (c *Controller) emit(ctx context.Context, events []event) {
	for _, e := range events {
		base := domain.EventBase{
			Timestamp:  time.Now(),
			Type:       e.typ,
			FlowID:     c.def.Name,
			InstanceID: c.instanceIDSafe(),
		}
		switch e.typ {
		case domain.EventStepEnter:
			if c.hooks.OnStepEnter != nil {
				c.hooks.OnStepEnter(ctx, &domain.StepEvent{EventBase: base, StepID: e.step, Index: e.index})
			}
		case domain.EventStepLeave:
			if c.hooks.OnStepLeave != nil {
				c.hooks.OnStepLeave(ctx, &domain.StepEvent{EventBase: base, StepID: e.step, Index: e.index})
			}
		case domain.EventSubmitted:
			if c.hooks.OnSubmitted != nil {
				c.hooks.OnSubmitted(ctx, &domain.StepEvent{EventBase: base, StepID: e.step, Index: e.index})
			}
		case domain.EventRejected:
			if c.hooks.OnRejected != nil {
				c.hooks.OnRejected(ctx, &domain.RejectEvent{EventBase: base, Op: e.op, StepID: e.step, Err: e.err})
			}
		case domain.EventCallStart:
			if c.hooks.OnCallStart != nil {
				ev := *e.call
				ev.EventBase = base
				c.hooks.OnCallStart(ctx, &ev)
			}
		case domain.EventCallReturn:
			if c.hooks.OnCallReturn != nil {
				ev := *e.call
				ev.EventBase = base
				c.hooks.OnCallReturn(ctx, &ev)
			}
		}
	}
}

func (c *Controller) instanceIDSafe() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.InstanceID
}

func moved(from, to *domain.State) []event {
	var events []event
	if from.Head >= 0 {
		events = append(events, event{typ: domain.EventStepLeave, step: from.CurrentStep(), index: from.CurrentIndex})
	}
	return append(events, event{typ: domain.EventStepEnter, step: to.CurrentStep(), index: to.CurrentIndex})
}

func rejected(op string, s *domain.State, err error) []event {
	return []event{{typ: domain.EventRejected, op: op, step: s.CurrentStep(), err: err}}
}

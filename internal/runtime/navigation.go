package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/stepflow/pkg/domain"
)

// Start enters the first eligible step. Calling it on an active traversal is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	events, err := c.start()
	c.mu.Unlock()
	c.emit(ctx, events)
	return err
}

func (c *Controller) start() ([]event, error) {
	s := c.state
	switch s.Status {
	case domain.StatusSubmitted:
		return nil, &domain.InvalidStateError{Op: "start", StepID: s.CurrentStep(), Err: domain.ErrSubmitted}
	case domain.StatusActive:
		return nil, nil
	}

	next := s.Clone()
	idx := c.nextEligible(next, -1)
	if idx < 0 {
		idx = 0
	}
	next.Status = domain.StatusActive
	next.CurrentIndex = idx
	next.History = append(next.History, domain.Visit{Index: idx, From: -1})
	next.Head = len(next.History) - 1
	c.state = next

	c.logger.Debug("flow started", "step", next.CurrentStep())
	return moved(s, next), nil
}

// Advance moves to the next step not skipped under the current answers.
// At the last eligible step it is a no-op: finishing is done by MarkDone or Complete.
// When the current step's requirements are unmet it returns a *domain.ValidationError
// and the state is untouched.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	events, err := c.advance()
	c.mu.Unlock()
	c.emit(ctx, events)
	return err
}

func (c *Controller) advance() ([]event, error) {
	s := c.state
	if err := c.guard("advance", s); err != nil {
		return rejected("advance", s, err), err
	}

	target := c.nextEligible(s, s.CurrentIndex)
	if target < 0 {
		return nil, nil
	}
	if err := c.validateStep(s, s.CurrentIndex); err != nil {
		c.logger.Debug("advance rejected", "step", s.CurrentStep(), "error", err)
		return rejected("advance", s, err), err
	}

	next := c.visit(s, target)
	c.logger.Debug("advanced", "from", s.CurrentStep(), "to", next.CurrentStep())
	return moved(s, next), nil
}

// Retreat moves back to the step the current one was reached from.
// Answers are kept. At the first visited step it is a no-op.
func (c *Controller) Retreat(ctx context.Context) error {
	c.mu.Lock()
	events, err := c.retreat()
	c.mu.Unlock()
	c.emit(ctx, events)
	return err
}

func (c *Controller) retreat() ([]event, error) {
	s := c.state
	if err := c.guard("retreat", s); err != nil {
		return rejected("retreat", s, err), err
	}

	head := s.History[s.Head].From
	// A step visited earlier may have become skipped since.
	for head >= 0 && c.skipped(s, s.History[head].Index) {
		head = s.History[head].From
	}
	if head < 0 {
		return nil, nil
	}

	next := s.Clone()
	next.Head = head
	next.CurrentIndex = next.History[head].Index
	c.state = next
	c.logger.Debug("retreated", "from", s.CurrentStep(), "to", next.CurrentStep())
	return moved(s, next), nil
}

// Forward re-enters the step most recently left by Retreat, without appending to the
// history log. With nothing to redo it behaves like Advance.
func (c *Controller) Forward(ctx context.Context) error {
	c.mu.Lock()
	events, err := c.forward()
	c.mu.Unlock()
	c.emit(ctx, events)
	return err
}

func (c *Controller) forward() ([]event, error) {
	s := c.state
	if err := c.guard("forward", s); err != nil {
		return rejected("forward", s, err), err
	}

	redo := -1
	for i := len(s.History) - 1; i > s.Head; i-- {
		if s.History[i].From == s.Head {
			redo = i
			break
		}
	}
	if redo < 0 || c.skipped(s, s.History[redo].Index) {
		return c.advance()
	}
	if err := c.validateStep(s, s.CurrentIndex); err != nil {
		return rejected("forward", s, err), err
	}

	next := s.Clone()
	next.Head = redo
	next.CurrentIndex = next.History[redo].Index
	c.state = next
	c.logger.Debug("forwarded", "from", s.CurrentStep(), "to", next.CurrentStep())
	return moved(s, next), nil
}

// JumpTo moves directly to a named step. A skipped target resolves to the next eligible
// step after it. The current step is not validated: jumps follow shortcuts chosen by
// the answer itself.
func (c *Controller) JumpTo(ctx context.Context, stepID string) error {
	c.mu.Lock()
	events, err := c.jumpTo(stepID)
	c.mu.Unlock()
	c.emit(ctx, events)
	return err
}

func (c *Controller) jumpTo(stepID string) ([]event, error) {
	s := c.state
	if err := c.guard("jump", s); err != nil {
		return rejected("jump", s, err), err
	}

	target := s.IndexOf(stepID)
	if target < 0 {
		err := &domain.TransitionError{Op: "jump", StepID: s.CurrentStep(), Err: fmt.Errorf("%w: %s", domain.ErrUnknownStep, stepID)}
		return rejected("jump", s, err), err
	}
	if c.skipped(s, target) {
		target = c.nextEligible(s, target)
		if target < 0 {
			err := &domain.TransitionError{Op: "jump", StepID: stepID, Err: domain.ErrSkipped}
			return rejected("jump", s, err), err
		}
	}
	if target == s.CurrentIndex {
		return nil, nil
	}

	next := c.visit(s, target)
	c.logger.Debug("jumped", "from", s.CurrentStep(), "to", next.CurrentStep())
	return moved(s, next), nil
}

// RecordAnswer replaces the answer of a step wholesale. It never transitions.
func (c *Controller) RecordAnswer(stepID string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	if err := c.guard("record", s); err != nil {
		return err
	}
	if s.IndexOf(stepID) < 0 {
		return &domain.TransitionError{Op: "record", StepID: stepID, Err: domain.ErrUnknownStep}
	}

	next := s.Clone()
	next.Answers[stepID] = value
	// A changed answer reopens a step marked done.
	delete(next.Done, stepID)
	c.state = next
	return nil
}

// Choose records an answer and follows the step's navigation rules when the step is
// current: a matching shortcut jumps, otherwise an auto-advance step advances.
func (c *Controller) Choose(ctx context.Context, stepID string, value any) error {
	if err := c.RecordAnswer(stepID, value); err != nil {
		return err
	}

	c.mu.Lock()
	current := c.state.CurrentStep() == stepID
	c.mu.Unlock()
	if !current {
		return nil
	}

	step, _ := c.def.Step(stepID)
	if target, ok := step.Shortcuts[fmt.Sprint(value)]; ok {
		return c.JumpTo(ctx, target)
	}
	if step.AutoAdvance {
		return c.Advance(ctx)
	}
	return nil
}

// MarkDone marks the last eligible step as done once its requirements are met.
func (c *Controller) MarkDone(ctx context.Context) error {
	c.mu.Lock()
	events, err := c.markDone()
	c.mu.Unlock()
	c.emit(ctx, events)
	return err
}

func (c *Controller) markDone() ([]event, error) {
	s := c.state
	if err := c.guard("done", s); err != nil {
		return rejected("done", s, err), err
	}
	if !c.isLast(s, s.CurrentIndex) {
		err := &domain.TransitionError{Op: "done", StepID: s.CurrentStep(), Err: domain.ErrNotTerminal}
		return rejected("done", s, err), err
	}
	if err := c.validateStep(s, s.CurrentIndex); err != nil {
		return rejected("done", s, err), err
	}

	next := s.Clone()
	next.Done[next.CurrentStep()] = true
	c.state = next
	return nil, nil
}

// guard rejects operations on a traversal that is submitted, not started or busy.
func (c *Controller) guard(op string, s *domain.State) error {
	switch {
	case s.Status == domain.StatusSubmitted:
		return &domain.InvalidStateError{Op: op, StepID: s.CurrentStep(), Err: domain.ErrSubmitted}
	case s.Status == domain.StatusNotStarted:
		return &domain.TransitionError{Op: op, Err: domain.ErrNotStarted}
	case s.Busy:
		return &domain.TransitionError{Op: op, StepID: s.CurrentStep(), Err: domain.ErrBusy}
	}
	return nil
}

// visit appends a new visit reached from the current head and installs the result.
func (c *Controller) visit(s *domain.State, target int) *domain.State {
	next := s.Clone()
	next.History = append(next.History, domain.Visit{Index: target, From: s.Head})
	next.Head = len(next.History) - 1
	next.CurrentIndex = target
	c.state = next
	return next
}

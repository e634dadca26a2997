package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/rpc"
)

// Submission is an outbound call that has been validated and marked in flight.
type Submission struct {
	// Action is the action name, or empty for the completion call.
	Action    string
	Operation string
	Params    map[string]any
	StartedAt time.Time
}

// Complete submits the traversal: it validates every eligible required step, sends the
// completion call and, on success, moves to Submitted. A failed call leaves the state as
// it was before submission so it can be retried.
func (c *Controller) Complete(ctx context.Context) (json.RawMessage, error) {
	sub, err := c.BeginSubmit(ctx)
	if err != nil {
		return nil, err
	}
	result, callErr := c.caller.Call(ctx, sub.Operation, sub.Params)
	if err := c.FinishSubmit(ctx, sub, result, callErr); err != nil {
		return nil, err
	}
	return result, nil
}

// RunAction sends the call of a named action bound to the current step. It never
// transitions.
func (c *Controller) RunAction(ctx context.Context, name string) (json.RawMessage, error) {
	sub, err := c.BeginAction(ctx, name)
	if err != nil {
		return nil, err
	}
	result, callErr := c.caller.Call(ctx, sub.Operation, sub.Params)
	if err := c.FinishSubmit(ctx, sub, result, callErr); err != nil {
		return nil, err
	}
	return result, nil
}

// BeginSubmit runs the local checks of Complete and marks the traversal busy.
// Callers that persist state between the two halves (see package session) send the
// call themselves and report its outcome with FinishSubmit.
func (c *Controller) BeginSubmit(ctx context.Context) (*Submission, error) {
	c.mu.Lock()
	sub, events, err := c.beginSubmit()
	c.mu.Unlock()
	c.emit(ctx, events)
	return sub, err
}

func (c *Controller) beginSubmit() (*Submission, []event, error) {
	s := c.state
	if err := c.guard("complete", s); err != nil {
		return nil, rejected("complete", s, err), err
	}
	if steps := c.incompleteSteps(s); len(steps) > 0 {
		err := &domain.ValidationError{StepID: s.CurrentStep(), Steps: steps}
		return nil, rejected("complete", s, err), err
	}
	if !c.isLast(s, s.CurrentIndex) {
		err := &domain.TransitionError{Op: "complete", StepID: s.CurrentStep(), Err: domain.ErrNotTerminal}
		return nil, rejected("complete", s, err), err
	}

	req, err := c.def.CompletionRequest(s)
	if err != nil {
		return nil, rejected("complete", s, err), err
	}
	return c.markBusy(s, "", s.CurrentStep(), req)
}

// BeginAction is the first half of RunAction.
func (c *Controller) BeginAction(ctx context.Context, name string) (*Submission, error) {
	c.mu.Lock()
	sub, events, err := c.beginAction(name)
	c.mu.Unlock()
	c.emit(ctx, events)
	return sub, err
}

func (c *Controller) beginAction(name string) (*Submission, []event, error) {
	s := c.state
	if err := c.guard("action", s); err != nil {
		return nil, rejected("action", s, err), err
	}
	action, ok := c.def.Actions[name]
	if !ok || action.StepID != s.CurrentStep() {
		err := &domain.TransitionError{Op: "action", StepID: s.CurrentStep(), Err: fmt.Errorf("%w: %s", domain.ErrNoAction, name)}
		return nil, rejected("action", s, err), err
	}

	req, err := c.def.ActionRequest(name, s)
	if err != nil {
		return nil, rejected("action", s, err), err
	}
	return c.markBusy(s, name, action.StepID, req)
}

func (c *Controller) markBusy(s *domain.State, action, stepID string, req rpc.Request) (*Submission, []event, error) {
	if err := req.Validate(); err != nil {
		fields := rpc.MissingFields(err)
		if len(fields) == 0 {
			fields = []string{err.Error()}
		}
		vErr := &domain.ValidationError{StepID: stepID, Fields: fields}
		return nil, rejected(opName(action), s, vErr), vErr
	}

	now := time.Now()
	next := s.Clone()
	next.Busy = true
	next.BusySince = now
	c.state = next

	sub := &Submission{
		Action:    action,
		Operation: req.Operation(),
		Params:    req.Params(),
		StartedAt: now,
	}
	c.logger.Info("call started", "operation", sub.Operation, "action", action)
	return sub, []event{{typ: domain.EventCallStart, call: &domain.CallEvent{Operation: sub.Operation}}}, nil
}

// FinishSubmit clears the busy flag and applies the outcome of a call begun with
// BeginSubmit or BeginAction. A call error is returned as a *domain.RemoteError.
func (c *Controller) FinishSubmit(ctx context.Context, sub *Submission, result json.RawMessage, callErr error) error {
	c.mu.Lock()
	events, err := c.finish(sub, result, callErr)
	c.mu.Unlock()
	c.emit(ctx, events)
	return err
}

func (c *Controller) finish(sub *Submission, result json.RawMessage, callErr error) ([]event, error) {
	s := c.state
	// A call whose busy flag was released as abandoned no longer owns the traversal.
	if sub == nil || !s.Busy || (!s.BusySince.IsZero() && !s.BusySince.Equal(sub.StartedAt)) {
		return nil, &domain.TransitionError{Op: opName(""), StepID: s.CurrentStep(), Err: domain.ErrNoCall}
	}

	next := s.Clone()
	next.Busy = false
	next.BusySince = time.Time{}
	events := []event{{typ: domain.EventCallReturn, call: &domain.CallEvent{
		Operation: sub.Operation,
		Duration:  time.Since(sub.StartedAt),
		IsError:   callErr != nil,
	}}}

	if callErr != nil {
		c.state = next
		rErr := asRemote(sub.Operation, callErr)
		c.logger.Warn("call failed", "operation", sub.Operation, "error", rErr)
		return events, rErr
	}

	if sub.Action == "" {
		next.Done[next.CurrentStep()] = true
		next.Status = domain.StatusSubmitted
		next.Result = append(json.RawMessage(nil), result...)
		events = append(events, event{typ: domain.EventSubmitted, step: next.CurrentStep(), index: next.CurrentIndex})
		c.logger.Info("flow submitted", "operation", sub.Operation, "step", next.CurrentStep())
	}
	c.state = next
	return events, nil
}

func opName(action string) string {
	if action == "" {
		return "complete"
	}
	return "action"
}

func asRemote(operation string, err error) *domain.RemoteError {
	var rErr *domain.RemoteError
	if errors.As(err, &rErr) {
		out := *rErr
		if out.Operation == "" {
			out.Operation = operation
		}
		return &out
	}
	return &domain.RemoteError{Operation: operation, Err: err}
}

package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStepEnter  EventType = "step_enter"
	EventStepLeave  EventType = "step_leave"
	EventRejected   EventType = "rejected"
	EventCallStart  EventType = "call_start"
	EventCallReturn EventType = "call_return"
	EventSubmitted  EventType = "submitted"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	FlowID     string    `json:"flow_id"`
	InstanceID string    `json:"instance_id"`
}

// StepEvent represents entry to or exit from a step.
type StepEvent struct {
	EventBase
	StepID string `json:"step_id"`
	Index  int    `json:"index"`
}

// RejectEvent represents an operation refused without mutating state.
type RejectEvent struct {
	EventBase
	Op     string `json:"op"`
	StepID string `json:"step_id"`
	Err    error  `json:"-"`
}

// CallEvent represents an outbound RPC.
type CallEvent struct {
	EventBase
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
}

// LifecycleHooks defines callbacks for controller observability.
type LifecycleHooks struct {
	OnStepEnter  func(context.Context, *StepEvent)
	OnStepLeave  func(context.Context, *StepEvent)
	OnRejected   func(context.Context, *RejectEvent)
	OnCallStart  func(context.Context, *CallEvent)
	OnCallReturn func(context.Context, *CallEvent)
	OnSubmitted  func(context.Context, *StepEvent)
}

// Merge returns hooks calling h first and then other for every event.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStepEnter:  chainStep(h.OnStepEnter, other.OnStepEnter),
		OnStepLeave:  chainStep(h.OnStepLeave, other.OnStepLeave),
		OnRejected:   chainReject(h.OnRejected, other.OnRejected),
		OnCallStart:  chainCall(h.OnCallStart, other.OnCallStart),
		OnCallReturn: chainCall(h.OnCallReturn, other.OnCallReturn),
		OnSubmitted:  chainStep(h.OnSubmitted, other.OnSubmitted),
	}
}

func chainStep(a, b func(context.Context, *StepEvent)) func(context.Context, *StepEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *StepEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}

func chainReject(a, b func(context.Context, *RejectEvent)) func(context.Context, *RejectEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *RejectEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}

func chainCall(a, b func(context.Context, *CallEvent)) func(context.Context, *CallEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *CallEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}

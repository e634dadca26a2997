package domain

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle position of a traversal.
// NotStarted and Submitted are virtual states surrounding the step states.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusSubmitted  Status = "submitted" // Sink state, never left
)

// Answers maps a step identifier to the opaque payload recorded for it.
type Answers map[string]any

// Visit is one entry of the history log.
// From is the position in the log of the visit this one was reached from (-1 for the first).
type Visit struct {
	Index int `json:"index"`
	From  int `json:"from"`
}

// State represents the snapshot of one flow traversal.
type State struct {
	FlowID     string `json:"flow_id"`
	InstanceID string `json:"instance_id"`

	// Steps is fixed at construction and never empty.
	Steps []string `json:"steps"`

	// CurrentIndex always indexes a valid entry of Steps.
	CurrentIndex int `json:"current_index"`

	Answers Answers `json:"answers"`

	// Context holds host-supplied parameters (e.g. the revision session being run).
	// It is read by request builders, never written by steps.
	Context map[string]any `json:"context,omitempty"`

	// History never shrinks. Head is the position of the visit for the current step;
	// moving back only moves Head.
	History []Visit `json:"history"`
	Head    int     `json:"head"`

	// Done records steps explicitly marked done.
	Done map[string]bool `json:"done,omitempty"`

	Status Status `json:"status"`

	// Busy is true while an outbound call is in flight for this traversal.
	// BusySince is when that call began.
	Busy      bool      `json:"busy,omitempty"`
	BusySince time.Time `json:"busy_since,omitzero"`

	// Result holds the backend payload returned by the completion call.
	Result json.RawMessage `json:"result,omitempty"`
}

// NewState creates a clean, not yet started state for the given steps.
func NewState(flowID, instanceID string, steps []string) *State {
	s := make([]string, len(steps))
	copy(s, steps)
	return &State{
		FlowID:     flowID,
		InstanceID: instanceID,
		Steps:      s,
		Answers:    make(Answers),
		Context:    make(map[string]any),
		History:    []Visit{},
		Head:       -1,
		Done:       make(map[string]bool),
		Status:     StatusNotStarted,
	}
}

// CurrentStep returns the identifier of the current step.
func (s *State) CurrentStep() string {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Steps) {
		return ""
	}
	return s.Steps[s.CurrentIndex]
}

// IndexOf returns the position of a step identifier, or -1.
func (s *State) IndexOf(stepID string) int {
	for i, id := range s.Steps {
		if id == stepID {
			return i
		}
	}
	return -1
}

// Visited returns the step identifiers of the history log, in visit order.
func (s *State) Visited() []string {
	out := make([]string, 0, len(s.History))
	for _, v := range s.History {
		out = append(out, s.Steps[v.Index])
	}
	return out
}

// Clone returns a copy safe for independent mutation.
// Answer payloads themselves are shared: they are replaced wholesale, never edited in place.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	next := *s
	next.Steps = append([]string(nil), s.Steps...)
	next.History = append([]Visit{}, s.History...)
	next.Answers = make(Answers, len(s.Answers))
	for k, v := range s.Answers {
		next.Answers[k] = v
	}
	next.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		next.Context[k] = v
	}
	next.Done = make(map[string]bool, len(s.Done))
	for k, v := range s.Done {
		next.Done[k] = v
	}
	if s.Result != nil {
		next.Result = append(json.RawMessage(nil), s.Result...)
	}
	return &next
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInstanceNotFound is returned when an instance ID cannot be found in the store.
var ErrInstanceNotFound = errors.New("instance not found")

// ErrFlowNotFound is returned when a flow name is not registered.
var ErrFlowNotFound = errors.New("flow not found")

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ErrRemote matches every *RemoteError.
var ErrRemote = errors.New("remote call failed")

// Transition failure causes, wrapped by *TransitionError.
var (
	ErrSubmitted   = errors.New("flow already submitted")
	ErrNotStarted  = errors.New("flow not started")
	ErrBusy        = errors.New("a call is already in flight")
	ErrUnknownStep = errors.New("unknown step")
	ErrNotTerminal = errors.New("not at the terminal step")
	ErrSkipped     = errors.New("step is skipped and no later step is eligible")
	ErrNoCall      = errors.New("no call in flight")
	ErrNoAction    = errors.New("action not available at this step")
)

// ValidationError reports required data missing before a transition.
// It is detected locally and never reaches the backend.
type ValidationError struct {
	StepID string
	Fields []string // Missing fields of StepID
	Steps  []string // Required steps with no valid answer (completion checks)
}

func (e *ValidationError) Error() string {
	if len(e.Steps) > 0 {
		return fmt.Sprintf("required steps are incomplete: %s", strings.Join(e.Steps, ", "))
	}
	return fmt.Sprintf("step '%s' requires fields that are missing: %v", e.StepID, e.Fields)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports navigation attempted from an invalid or terminal state.
type TransitionError struct {
	Op     string
	StepID string
	Err    error
}

// InvalidStateError is the transition failure raised once a flow is submitted.
type InvalidStateError = TransitionError

func (e *TransitionError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("cannot %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cannot %s at step '%s': %v", e.Op, e.StepID, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// RemoteError reports a failed backend call, either network or backend-reported.
type RemoteError struct {
	Operation string
	Message   string
	Details   string
	Hint      string
	Code      string
	Err       error // Underlying transport failure, if any
}

func (e *RemoteError) Error() string {
	if msg := FormatRemoteMessage(e.Message, e.Details, e.Hint); msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrRemote.Error()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// FormatRemoteMessage joins the non-empty parts as "message | details | hint".
func FormatRemoteMessage(message, details, hint string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{message, details, hint} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}

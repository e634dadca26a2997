package stepflow

import (
	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/ports"
)

// Controller drives one traversal of a flow. See New.
type Controller = runtime.Controller

// Submission is a call prepared by Controller.BeginSubmit or Controller.BeginAction.
type Submission = runtime.Submission

// Option configures a Controller.
type Option = runtime.Option

var (
	// WithLogger sets the controller logger.
	WithLogger = runtime.WithLogger
	// WithLifecycleHooks registers hooks fired on moves, rejections and calls.
	WithLifecycleHooks = runtime.WithLifecycleHooks
	// WithInstanceID sets the identifier stamped on the state and on events.
	WithInstanceID = runtime.WithInstanceID
	// WithContext sets host parameters read by request builders.
	WithContext = runtime.WithContext
)

// New creates a controller for def that sends completion and action calls through caller.
// The traversal begins with Controller.Start.
func New(def *flow.Definition, caller ports.Caller, opts ...Option) (*Controller, error) {
	return runtime.New(def, caller, opts...)
}

// Restore rebuilds a controller from a snapshot previously taken with Controller.Snapshot.
func Restore(def *flow.Definition, state *domain.State, caller ports.Caller, opts ...Option) (*Controller, error) {
	return runtime.Restore(def, state, caller, opts...)
}

package runtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/ports"
)

type call struct {
	Operation string
	Params    map[string]any
}

// recorder is a Caller returning a fixed outcome and recording every call.
type recorder struct {
	mu     sync.Mutex
	calls  []call
	result json.RawMessage
	err    error
}

func (r *recorder) Call(_ context.Context, operation string, params map[string]any) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{operation, params})
	return r.result, r.err
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

var _ ports.Caller = (*recorder)(nil)

// linear builds a flow of requirement-free steps.
func linear(ids ...string) *flow.Definition {
	steps := make([]domain.Step, len(ids))
	for i, id := range ids {
		steps[i] = domain.Step{ID: id}
	}
	return &flow.Definition{
		Name:       "linear",
		Steps:      steps,
		Completion: flow.Completion{Operation: "rpc_finish"},
	}
}

func started(t *testing.T, def *flow.Definition, caller ports.Caller, opts ...runtime.Option) *runtime.Controller {
	t.Helper()
	c, err := runtime.New(def, caller, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return c
}

func current(c *runtime.Controller) string {
	return c.Snapshot().CurrentStep()
}

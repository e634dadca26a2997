package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/rpc"
	"github.com/google/uuid"
)

// Handler answers one operation of the in-memory backend.
// Returning a *domain.RemoteError simulates a backend-reported failure.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Call is one request received by the Backend.
type Call struct {
	Operation string
	Params    map[string]any
}

// Backend implements ports.Caller without a network: operations are served by
// registered handlers and every call is recorded.
// Safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

// NewBackend creates a backend with no operations.
func NewBackend() *Backend {
	return &Backend{handlers: make(map[string]Handler)}
}

// NewDefaultBackend serves the operations of the built-in flows with synthetic results.
func NewDefaultBackend() *Backend {
	b := NewBackend()
	b.Handle(rpc.OpCreateChildAndPlan, func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{
			"child_id":   uuid.NewString(),
			"plan_id":    uuid.NewString(),
			"first_name": params["p_first_name"],
		}, nil
	})
	b.Handle(rpc.OpCompleteSession, func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{"session_id": params["p_session_id"], "status": "completed"}, nil
	})
	b.Handle(rpc.OpCreateMnemonicRequest, func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{"request_id": uuid.NewString(), "status": "queued"}, nil
	})
	b.Handle(rpc.OpSetParentPreference, func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{"key": params["p_key"], "enabled": params["p_enabled"]}, nil
	})
	return b
}

// Handle registers the handler of an operation, replacing any previous one.
func (b *Backend) Handle(operation string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[operation] = h
}

// Fail makes an operation return a backend-reported error.
func (b *Backend) Fail(operation, message, details, hint string) {
	b.Handle(operation, func(context.Context, map[string]any) (any, error) {
		return nil, &domain.RemoteError{Message: message, Details: details, Hint: hint}
	})
}

// Call implements ports.Caller.
func (b *Backend) Call(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	b.calls = append(b.calls, Call{Operation: operation, Params: copied})
	h, ok := b.handlers[operation]
	b.mu.Unlock()

	if !ok {
		return nil, &domain.RemoteError{
			Operation: operation,
			Message:   fmt.Sprintf("Could not find the function public.%s", operation),
			Hint:      "Check the operation name",
			Code:      "PGRST202",
		}
	}

	out, err := h(ctx, copied)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result of %s: %w", operation, err)
	}
	return data, nil
}

// Calls returns the recorded calls in arrival order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

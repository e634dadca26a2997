package ports

import (
	"context"
	"encoding/json"
)

// Caller is the remote procedure call surface the controller depends on but does not
// implement: a symbolic operation name plus named parameters yields either a success
// payload or an error (a *domain.RemoteError for backend-reported failures).
type Caller interface {
	Call(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error) {
	return f(ctx, operation, params)
}

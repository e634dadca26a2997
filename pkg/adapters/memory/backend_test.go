package memory_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/stepflow/pkg/adapters/memory"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend_DefaultOperations(t *testing.T) {
	b := memory.NewDefaultBackend()
	ctx := context.Background()

	out, err := b.Call(ctx, rpc.OpCreateChildAndPlan, map[string]any{"p_first_name": "Ada"})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Ada", result["first_name"])
	assert.NotEmpty(t, result["plan_id"])

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, rpc.OpCreateChildAndPlan, calls[0].Operation)
}

func TestBackend_UnknownOperation(t *testing.T) {
	b := memory.NewBackend()
	_, err := b.Call(context.Background(), "rpc_missing", nil)

	var rErr *domain.RemoteError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, "PGRST202", rErr.Code)
	assert.Equal(t, "Could not find the function public.rpc_missing | Check the operation name", err.Error())
}

func TestBackend_Fail(t *testing.T) {
	b := memory.NewBackend()
	b.Fail("rpc_x", "boom", "", "try later")

	_, err := b.Call(context.Background(), "rpc_x", map[string]any{})
	assert.EqualError(t, err, "boom | try later")
}

func TestBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := memory.NewDefaultBackend().Call(ctx, rpc.OpCompleteSession, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/adapters/memory"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/registry"
	"github.com/aretw0/stepflow/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *memory.Backend) {
	t.Helper()
	reg, err := registry.New(flow.Builtins()...)
	require.NoError(t, err)
	backend := memory.NewDefaultBackend()
	mgr := session.NewManager(reg, memory.NewStore(), backend)
	return NewServer(mgr, "0.1.0\n"), backend
}

func TestRegisteredTools(t *testing.T) {
	s, _ := newTestServer(t)
	msg := s.MCPServer().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	out, err := json.Marshal(msg)
	require.NoError(t, err)

	for _, name := range []string{
		"list_flows", "start_flow", "get_state", "record_answer", "choose",
		"advance", "retreat", "forward", "mark_done", "jump_to", "complete_flow", "run_action",
	} {
		assert.Contains(t, string(out), `"name":"`+name+`"`)
	}
}

func TestListFlows(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleListFlows(context.Background(), mcp.CallToolRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"onboarding", "session"}, resp.Flows)
}

func TestSessionFlowOverMCP(t *testing.T) {
	s, backend := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	resp, err := s.handleStart(ctx, req, map[string]interface{}{
		"flow":    "session",
		"context": `{"session_id":"s-1","topic_id":"t-9"}`,
	})
	require.NoError(t, err)
	id := resp.State.InstanceID
	assert.Equal(t, "preview", resp.State.CurrentStep())
	require.NotNil(t, resp.Step)
	assert.Equal(t, "Preview", resp.Step.Title)

	step := func(name string, args map[string]interface{}) StateResponse {
		t.Helper()
		args["instance_id"] = id
		var out StateResponse
		var err error
		switch name {
		case "record_answer":
			out, err = s.handleRecordAnswer(ctx, req, args)
		case "jump_to":
			out, err = s.handleJumpTo(ctx, req, args)
		case "run_action":
			out, err = s.handleRunAction(ctx, req, args)
		case "complete_flow":
			out, err = s.handleComplete(ctx, req, args)
		}
		require.NoError(t, err, name)
		return out
	}

	resp = step("jump_to", map[string]interface{}{"step": "reinforce"})
	assert.Equal(t, "reinforce", resp.State.CurrentStep())

	resp = step("run_action", map[string]interface{}{"action": "mnemonic"})
	assert.Contains(t, string(resp.Result), "queued")
	assert.Equal(t, "reinforce", resp.State.CurrentStep())

	step("record_answer", map[string]interface{}{"step": "recall", "value": `{"rating":4}`})
	step("record_answer", map[string]interface{}{"step": "practice", "value": `{"score":3,"total":5}`})
	step("record_answer", map[string]interface{}{"step": "summary", "value": "Felt good"})
	step("jump_to", map[string]interface{}{"step": "complete"})

	resp = step("complete_flow", map[string]interface{}{})
	assert.Equal(t, domain.StatusSubmitted, resp.State.Status)
	assert.True(t, resp.Complete)
	assert.Contains(t, string(resp.Result), "completed")

	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "rpc_create_mnemonic_request", calls[0].Operation)
	assert.Equal(t, "t-9", calls[0].Params["p_topic_id"])
	assert.Equal(t, "rpc_complete_revision_session", calls[1].Operation)
	assert.Equal(t, "Felt good", calls[1].Params["p_reflection"])

	_, err = s.handleRecordAnswer(ctx, req, map[string]interface{}{"instance_id": id, "step": "summary", "value": "late"})
	assert.ErrorIs(t, err, domain.ErrSubmitted)
}

func TestNavigationOverMCP(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	advance := s.navigate((*runtime.Controller).Advance)
	retreat := s.navigate((*runtime.Controller).Retreat)
	forward := s.navigate((*runtime.Controller).Forward)
	markDone := s.navigate((*runtime.Controller).MarkDone)

	resp, err := s.handleStart(ctx, req, map[string]interface{}{"flow": "onboarding"})
	require.NoError(t, err)
	id := resp.State.InstanceID
	args := map[string]interface{}{"instance_id": id}

	_, err = advance(ctx, req, args)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "child", vErr.StepID)

	resp, err = s.handleChoose(ctx, req, map[string]interface{}{"instance_id": id, "step": "when", "value": "no_date"})
	require.NoError(t, err)
	assert.Equal(t, "child", resp.State.CurrentStep(), "choosing for another step only records")

	_, err = s.handleRecordAnswer(ctx, req, map[string]interface{}{
		"instance_id": id, "step": "child", "value": `{"first_name":"Ada","year_group":9}`,
	})
	require.NoError(t, err)

	resp, err = advance(ctx, req, args)
	require.NoError(t, err)
	assert.Equal(t, "when", resp.State.CurrentStep())

	resp, err = retreat(ctx, req, args)
	require.NoError(t, err)
	assert.Equal(t, "child", resp.State.CurrentStep())

	resp, err = forward(ctx, req, args)
	require.NoError(t, err)
	assert.Equal(t, "when", resp.State.CurrentStep())

	_, err = markDone(ctx, req, args)
	assert.ErrorIs(t, err, domain.ErrNotTerminal)

	_, err = s.handleJumpTo(ctx, req, map[string]interface{}{"instance_id": id, "step": "nowhere"})
	assert.ErrorIs(t, err, domain.ErrUnknownStep)

	resp, err = s.handleGetState(ctx, req, args)
	require.NoError(t, err)
	assert.Equal(t, []string{"child", "when", "feeling", "history"}, resp.Path)
	assert.False(t, resp.Complete)
}

func TestStartErrors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleStart(ctx, mcp.CallToolRequest{}, map[string]interface{}{"flow": "missing"})
	assert.ErrorIs(t, err, domain.ErrFlowNotFound)

	_, err = s.handleStart(ctx, mcp.CallToolRequest{}, map[string]interface{}{"flow": "session", "context": "[1,2]"})
	assert.ErrorContains(t, err, "JSON object")

	_, err = s.handleGetState(ctx, mcp.CallToolRequest{}, map[string]interface{}{"instance_id": "nope"})
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, "no_date", parseValue("no_date"))
	assert.Equal(t, float64(5), parseValue("5"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, map[string]any{"a": "b"}, parseValue(`{"a":"b"}`))
	assert.Equal(t, 3, parseValue(3))
}

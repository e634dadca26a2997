package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/adapters/memory"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/registry"
	"github.com/aretw0/stepflow/pkg/rpc"
	"github.com/aretw0/stepflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
}

func (s *SlowStore) Save(ctx context.Context, id string, state *domain.State) error {
	time.Sleep(5 * time.Millisecond)
	return s.Store.Save(ctx, id, state)
}

func (s *SlowStore) Load(ctx context.Context, id string) (*domain.State, error) {
	time.Sleep(5 * time.Millisecond)
	return s.Store.Load(ctx, id)
}

func newManager(t *testing.T, backend *memory.Backend) *session.Manager {
	t.Helper()
	flows, err := registry.New(flow.Builtins()...)
	require.NoError(t, err)
	return session.NewManager(flows, &SlowStore{memory.NewStore()}, backend)
}

func TestManager_StartAndDo(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.NewDefaultBackend())

	state, err := mgr.Start(ctx, flow.SessionName, map[string]any{"session_id": "s-1", "topic_id": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "preview", state.CurrentStep())
	assert.Equal(t, domain.StatusActive, state.Status)
	assert.NotEmpty(t, state.InstanceID)

	state, err = mgr.Do(ctx, state.InstanceID, func(ctx context.Context, c *runtime.Controller) error {
		return c.Advance(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, "recall", state.CurrentStep())

	loaded, err := mgr.Load(ctx, state.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "recall", loaded.CurrentStep())
	assert.Equal(t, "s-1", loaded.Context["session_id"])
}

func TestManager_DoReturnsStateOnRejection(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.NewDefaultBackend())
	state, err := mgr.Start(ctx, flow.OnboardingName, nil)
	require.NoError(t, err)

	state, err = mgr.Do(ctx, state.InstanceID, func(ctx context.Context, c *runtime.Controller) error {
		return c.Advance(ctx)
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	require.NotNil(t, state)
	assert.Equal(t, "child", state.CurrentStep())
}

func TestManager_UnknownFlowAndInstance(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.NewDefaultBackend())

	_, err := mgr.Start(ctx, "nope", nil)
	assert.ErrorIs(t, err, domain.ErrFlowNotFound)
	assert.True(t, session.IsNotFound(err))

	_, err = mgr.Do(ctx, "missing", func(context.Context, *runtime.Controller) error { return nil })
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)

	assert.ErrorIs(t, mgr.Delete(ctx, "missing"), domain.ErrInstanceNotFound)
}

func submittableSession(t *testing.T, mgr *session.Manager) string {
	t.Helper()
	ctx := context.Background()
	state, err := mgr.Start(ctx, flow.SessionName, map[string]any{"session_id": "s-1", "topic_id": "t-1"})
	require.NoError(t, err)

	_, err = mgr.Do(ctx, state.InstanceID, func(ctx context.Context, c *runtime.Controller) error {
		if err := c.RecordAnswer("recall", map[string]any{"rating": 4}); err != nil {
			return err
		}
		if err := c.RecordAnswer("practice", map[string]any{"score": 5, "total": 6}); err != nil {
			return err
		}
		return c.JumpTo(ctx, "complete")
	})
	require.NoError(t, err)
	return state.InstanceID
}

func TestManager_Submit(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewDefaultBackend()
	mgr := newManager(t, backend)
	id := submittableSession(t, mgr)

	result, state, err := mgr.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, state.Status)
	assert.False(t, state.Busy)

	var body map[string]any
	require.NoError(t, json.Unmarshal(result, &body))
	assert.Equal(t, "completed", body["status"])

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, rpc.OpCompleteSession, calls[0].Operation)

	_, _, err = mgr.Submit(ctx, id)
	var sErr *domain.InvalidStateError
	assert.ErrorAs(t, err, &sErr)
}

func TestManager_SubmitRemoteError(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewDefaultBackend()
	backend.Fail(rpc.OpCompleteSession, "session already closed", "", "start a new session")
	mgr := newManager(t, backend)
	id := submittableSession(t, mgr)

	_, state, err := mgr.Submit(ctx, id)
	assert.EqualError(t, err, "session already closed | start a new session")
	assert.Equal(t, domain.StatusActive, state.Status)
	assert.False(t, state.Busy)

	loaded, err := mgr.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, loaded.Busy)
	assert.Equal(t, "complete", loaded.CurrentStep())
}

func TestManager_BusyVisibleWhileCalling(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewDefaultBackend()
	entered := make(chan struct{})
	release := make(chan struct{})
	backend.Handle(rpc.OpCompleteSession, func(ctx context.Context, _ map[string]any) (any, error) {
		close(entered)
		<-release
		return map[string]any{"ok": true}, nil
	})
	mgr := newManager(t, backend)
	id := submittableSession(t, mgr)

	done := make(chan error, 1)
	go func() {
		_, _, err := mgr.Submit(ctx, id)
		done <- err
	}()
	<-entered

	loaded, err := mgr.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, loaded.Busy)

	_, _, err = mgr.Submit(ctx, id)
	assert.ErrorIs(t, err, domain.ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestManager_ReleasesAbandonedCall(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewDefaultBackend()
	flows, err := registry.New(flow.Builtins()...)
	require.NoError(t, err)
	store := memory.NewStore()

	// The first manager persists the busy flag and dies before the call returns.
	crashed := session.NewManager(flows, store, backend)
	state, err := crashed.Start(ctx, flow.SessionName, map[string]any{"session_id": "s-1", "topic_id": "t-1"})
	require.NoError(t, err)
	id := state.InstanceID
	var sub *runtime.Submission
	_, err = crashed.Do(ctx, id, func(ctx context.Context, c *runtime.Controller) error {
		if err := c.JumpTo(ctx, "reinforce"); err != nil {
			return err
		}
		sub, err = c.BeginAction(ctx, "mnemonic")
		return err
	})
	require.NoError(t, err)

	loaded, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, loaded.Busy)
	assert.False(t, loaded.BusySince.IsZero())

	patient := session.NewManager(flows, store, backend, session.WithBusyTimeout(time.Hour))
	_, err = patient.Do(ctx, id, func(ctx context.Context, c *runtime.Controller) error {
		return c.Advance(ctx)
	})
	assert.ErrorIs(t, err, domain.ErrBusy)

	time.Sleep(5 * time.Millisecond)
	restarted := session.NewManager(flows, store, backend, session.WithBusyTimeout(time.Millisecond))
	state, err = restarted.Do(ctx, id, func(context.Context, *runtime.Controller) error { return nil })
	require.NoError(t, err)
	assert.False(t, state.Busy)
	assert.Equal(t, "reinforce", state.CurrentStep())

	loaded, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, loaded.Busy, "the released flag is persisted")

	result, _, err := restarted.RunAction(ctx, id, "mnemonic")
	require.NoError(t, err)
	assert.NotEmpty(t, result)
	require.Len(t, backend.Calls(), 1)

	// A result arriving for the abandoned call is discarded.
	_, err = restarted.Do(ctx, id, func(ctx context.Context, c *runtime.Controller) error {
		return c.FinishSubmit(ctx, sub, json.RawMessage(`{}`), nil)
	})
	assert.ErrorIs(t, err, domain.ErrNoCall)
}

func TestManager_DeleteDiscardsInFlightResult(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewDefaultBackend()
	entered := make(chan struct{})
	release := make(chan struct{})
	backend.Handle(rpc.OpCompleteSession, func(ctx context.Context, _ map[string]any) (any, error) {
		close(entered)
		<-release
		return map[string]any{}, nil
	})
	mgr := newManager(t, backend)
	id := submittableSession(t, mgr)

	done := make(chan error, 1)
	go func() {
		_, _, err := mgr.Submit(ctx, id)
		done <- err
	}()
	<-entered
	require.NoError(t, mgr.Delete(ctx, id))
	close(release)

	assert.ErrorIs(t, <-done, domain.ErrInstanceNotFound)
}

func TestManager_RunAction(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewDefaultBackend()
	mgr := newManager(t, backend)
	state, err := mgr.Start(ctx, flow.SessionName, map[string]any{"topic_id": "t-7"})
	require.NoError(t, err)

	_, err = mgr.Do(ctx, state.InstanceID, func(ctx context.Context, c *runtime.Controller) error {
		return c.JumpTo(ctx, "reinforce")
	})
	require.NoError(t, err)

	result, state, err := mgr.RunAction(ctx, state.InstanceID, "mnemonic")
	require.NoError(t, err)
	assert.Contains(t, string(result), "queued")
	assert.Equal(t, "reinforce", state.CurrentStep())
	assert.Equal(t, "t-7", backend.Calls()[0].Params["p_topic_id"])
}

func TestManager_SerializesConcurrentOps(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.NewDefaultBackend())

	def := flow.Definition{Name: "counter", Completion: flow.Completion{Operation: "rpc_noop"}}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"} {
		def.Steps = append(def.Steps, domain.Step{ID: id})
	}
	flows, err := registry.New(&def)
	require.NoError(t, err)
	mgr = session.NewManager(flows, &SlowStore{memory.NewStore()}, memory.NewBackend())

	state, err := mgr.Start(ctx, "counter", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Do(ctx, state.InstanceID, func(ctx context.Context, c *runtime.Controller) error {
				return c.Advance(ctx)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Lost updates would leave the instance short of the last step.
	loaded, err := mgr.Load(ctx, state.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "k", loaded.CurrentStep())
	assert.Len(t, loaded.History, 11)
}

func TestManager_List(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.NewDefaultBackend())
	s1, err := mgr.Start(ctx, flow.SessionName, nil)
	require.NoError(t, err)
	s2, err := mgr.Start(ctx, flow.OnboardingName, nil)
	require.NoError(t, err)

	ids, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s1.InstanceID, s2.InstanceID}, ids)
	assert.Equal(t, []string{"onboarding", "session"}, mgr.Flows().Names())
}

package tests

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StateStoreContractTest is a reusable test suite that verifies if an adapter complies
// with ports.StateStore.
func StateStoreContractTest(t *testing.T, store ports.StateStore) {
	t.Helper()
	ctx := context.Background()
	instanceID := "contract-" + time.Now().Format("20060102150405.000000000")
	steps := []string{"when", "feeling", "history"}

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewState("onboarding", instanceID, steps)
		state.Status = domain.StatusActive
		state.CurrentIndex = 1
		state.History = []domain.Visit{{Index: 0, From: -1}, {Index: 1, From: 0}}
		state.Head = 1
		state.Answers["when"] = "this_term"
		state.Answers["child"] = map[string]any{"first_name": "Ada"}

		require.NoError(t, store.Save(ctx, instanceID, state), "Save should not return error")

		loaded, err := store.Load(ctx, instanceID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, "feeling", loaded.CurrentStep())
		assert.Equal(t, state.History, loaded.History)
		assert.Equal(t, 1, loaded.Head)
		assert.Equal(t, "this_term", loaded.Answers["when"])
		assert.Equal(t, domain.StatusActive, loaded.Status)
	})

	t.Run("Load returns an isolated copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, instanceID)
		require.NoError(t, err)
		loaded.Answers["when"] = "mutated"

		again, err := store.Load(ctx, instanceID)
		require.NoError(t, err)
		assert.Equal(t, "this_term", again.Answers["when"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+instanceID)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	})

	t.Run("List", func(t *testing.T) {
		id1 := instanceID + "-1"
		id2 := instanceID + "-2"
		require.NoError(t, store.Save(ctx, id1, domain.NewState("onboarding", id1, steps)))
		require.NoError(t, store.Save(ctx, id2, domain.NewState("onboarding", id2, steps)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, instanceID), "Delete should not return error")

		_, err := store.Load(ctx, instanceID)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound, "Load after Delete should return ErrInstanceNotFound")
	})
}

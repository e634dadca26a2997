package registry_test

import (
	"testing"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Builtins(t *testing.T) {
	r, err := registry.New(flow.Builtins()...)
	require.NoError(t, err)

	assert.Equal(t, []string{"onboarding", "session"}, r.Names())

	def, err := r.Get("onboarding")
	require.NoError(t, err)
	assert.Equal(t, "child", def.Steps[0].ID)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, domain.ErrFlowNotFound)
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r, err := registry.New()
	require.NoError(t, err)

	err = r.Register(&flow.Definition{Name: "empty"})
	assert.Error(t, err)
	assert.Empty(t, r.Names())
}

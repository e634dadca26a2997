package dsl_test

import (
	"context"
	"testing"

	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/adapters/memory"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/dsl"
	"github.com/aretw0/stepflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func survey() *dsl.Builder {
	return dsl.New("survey").
		Title("Quick survey").
		Step("name").Prompt("What is your name?").Field("first_name", schema.Text()).Required().
		Step("mood").Options("good", "bad", "skip").AutoAdvance().Required().Shortcut("skip", "done").
		Step("why").SkipWhen("mood == 'good'").Action("help", "rpc_request_help").
		Step("done").
		Complete("rpc_submit_survey")
}

func TestBuilder_Definition(t *testing.T) {
	def, err := survey().Build()
	require.NoError(t, err)

	assert.Equal(t, "survey", def.Name)
	assert.Equal(t, "Quick survey", def.Title)
	assert.Equal(t, []string{"name", "mood", "why", "done"}, def.StepIDs())

	mood, ok := def.Step("mood")
	require.True(t, ok)
	assert.True(t, mood.AutoAdvance)
	assert.Equal(t, "done", mood.Shortcuts["skip"])
	assert.Equal(t, []string{"good", "bad", "skip"}, mood.Options)

	assert.Equal(t, "why", def.Actions["help"].StepID)
	assert.Equal(t, "rpc_submit_survey", def.Completion.Operation)
}

func TestBuilder_StepReopens(t *testing.T) {
	b := dsl.New("f").Step("a").Step("b").Complete("op")
	b.Step("a").Required()

	def, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, def.StepIDs())
	a, _ := def.Step("a")
	assert.True(t, a.Required)
}

func TestBuilder_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		builder *dsl.Builder
		want    string
	}{
		{"no steps", dsl.New("f").Complete("op"), "at least one step"},
		{"no completion", dsl.New("f").Step("a").Builder(), "completion operation"},
		{"bad shortcut", dsl.New("f").Step("a").Shortcut("x", "nowhere").Complete("op"), "unknown step"},
		{"bad condition", dsl.New("f").Step("a").SkipWhen("a ==").Complete("op"), "step a"},
		{"action twice", dsl.New("f").Step("a").Action("x", "op1").Action("x", "op2").Complete("op"), "defined twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			assert.ErrorContains(t, err, tt.want)
		})
	}
	assert.Panics(t, func() { dsl.New("").MustBuild() })
}

func TestBuilder_RunsInController(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewBackend()
	backend.Handle("rpc_submit_survey", func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	c, err := runtime.New(survey().MustBuild(), backend)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	require.NoError(t, c.RecordAnswer("name", map[string]any{"first_name": "Ada"}))
	require.NoError(t, c.Advance(ctx))
	require.NoError(t, c.Choose(ctx, "mood", "good"))
	assert.Equal(t, "done", c.CurrentStep().ID, "why is skipped for a good mood")

	_, err = c.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, c.Snapshot().Status)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Ada", calls[0].Params["first_name"])
	assert.Equal(t, "good", calls[0].Params["mood"])
}

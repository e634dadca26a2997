package flow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Feedback(t *testing.T) {
	def, err := flow.Load(filepath.Join("testdata", "feedback.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "feedback", def.Name)
	assert.Equal(t, []string{"rating", "details", "thanks"}, def.StepIDs())

	details, ok := def.Step("details")
	require.True(t, ok)
	assert.Equal(t, []string{"area", "comment"}, details.Fields.Keys())
	assert.Equal(t, "rating == '5'", details.SkipWhen)
	assert.True(t, details.HasRequirements())

	rating, _ := def.Step("rating")
	assert.Equal(t, "thanks", rating.Shortcuts["5"])
	assert.True(t, rating.AutoAdvance)
}

func TestLoad_InvalidShortcut(t *testing.T) {
	_, err := flow.Load(filepath.Join("testdata", "invalid.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestParse_UnknownField(t *testing.T) {
	_, err := flow.Parse([]byte("name: x\nstepz: []\n"))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join("testdata", "feedback.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	defs, err := flow.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "feedback", defs[0].Name)

	defs, err = flow.LoadDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestMarshal_RoundTrip(t *testing.T) {
	for _, def := range flow.Builtins() {
		t.Run(def.Name, func(t *testing.T) {
			out, err := flow.Marshal(def)
			require.NoError(t, err)

			back, err := flow.Parse(out)
			require.NoError(t, err)
			assert.Equal(t, def.StepIDs(), back.StepIDs())
			assert.Equal(t, def.Completion.Operation, back.Completion.Operation)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		def  flow.Definition
	}{
		{"no name", flow.Definition{Steps: []domain.Step{{ID: "a"}}, Completion: flow.Completion{Operation: "op"}}},
		{"no steps", flow.Definition{Name: "x", Completion: flow.Completion{Operation: "op"}}},
		{"duplicate", flow.Definition{Name: "x", Steps: []domain.Step{{ID: "a"}, {ID: "a"}}, Completion: flow.Completion{Operation: "op"}}},
		{"bad condition", flow.Definition{Name: "x", Steps: []domain.Step{{ID: "a", SkipWhen: "=="}}, Completion: flow.Completion{Operation: "op"}}},
		{"no completion", flow.Definition{Name: "x", Steps: []domain.Step{{ID: "a"}}}},
		{"orphan action", flow.Definition{
			Name: "x", Steps: []domain.Step{{ID: "a"}}, Completion: flow.Completion{Operation: "op"},
			Actions: map[string]flow.Action{"z": {StepID: "b", Operation: "op"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.def.Validate())
		})
	}

	for _, def := range flow.Builtins() {
		assert.NoError(t, def.Validate(), def.Name)
	}
}

func TestCompletionRequest_Raw(t *testing.T) {
	def, err := flow.Load(filepath.Join("testdata", "feedback.yaml"))
	require.NoError(t, err)

	state := domain.NewState(def.Name, "i-1", def.StepIDs())
	state.Answers["rating"] = "4"
	state.Answers["details"] = map[string]any{"comment": "slower please", "area": "pace"}

	req, err := def.CompletionRequest(state)
	require.NoError(t, err)
	require.NoError(t, req.Validate())
	assert.Equal(t, "rpc_submit_feedback", req.Operation())
	assert.Equal(t, map[string]any{"rating": "4", "comment": "slower please", "area": "pace"}, req.Params())

	action, err := def.ActionRequest("flag", state)
	require.NoError(t, err)
	assert.Equal(t, "rpc_flag_session", action.Operation())
	assert.Equal(t, "pace", action.Params()["area"])

	_, err = def.ActionRequest("nope", state)
	assert.Error(t, err)
}

func TestOnboarding_CompletionRequest(t *testing.T) {
	def := flow.Onboarding()
	state := domain.NewState(def.Name, "i-1", def.StepIDs())
	state.Answers["child"] = map[string]any{"first_name": "Ada", "year_group": float64(11), "multiple": false}
	state.Answers["when"] = "exact_date"
	state.Answers["date"] = "2026-05-12"
	state.Answers["feeling"] = "feeling_behind"
	state.Answers["history"] = "history_first"

	req, err := def.CompletionRequest(state)
	require.NoError(t, err)
	require.NoError(t, req.Validate())
	assert.Equal(t, rpc.OpCreateChildAndPlan, req.Operation())

	params := req.Params()
	assert.Equal(t, "Ada", params["p_first_name"])
	assert.Equal(t, 11, params["p_year_group"])
	assert.Equal(t, "2026-05-12", params["p_exam_date"])
	assert.Equal(t, "feeling_behind", params["p_feeling"])
}

func TestOnboarding_DateCheck(t *testing.T) {
	date, ok := flow.Onboarding().Step("date")
	require.True(t, ok)
	assert.Equal(t, []string{"exam_date"}, date.Check("next week"))
	assert.Equal(t, []string{"exam_date"}, date.Check(nil))
	assert.Empty(t, date.Check("2026-06-01"))
}

func TestOnboarding_SharePlanAction(t *testing.T) {
	def := flow.Onboarding()
	state := domain.NewState(def.Name, "i-1", def.StepIDs())
	state.Answers["children"] = "yes"

	req, err := def.ActionRequest("share_plan", state)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"p_key": "share_plan_across_children", "p_enabled": true}, req.Params())
}

func TestSession_Requests(t *testing.T) {
	def := flow.Session()
	state := domain.NewState(def.Name, "i-1", def.StepIDs())
	state.Context["session_id"] = "sess-1"
	state.Context["topic_id"] = "topic-9"
	state.Answers["recall"] = map[string]any{"rating": 4}
	state.Answers["practice"] = map[string]any{"score": "7", "total": 10}
	state.Answers["summary"] = "felt good"

	req, err := def.CompletionRequest(state)
	require.NoError(t, err)
	require.NoError(t, req.Validate())
	assert.Equal(t, map[string]any{
		"p_session_id":     "sess-1",
		"p_recall_rating":  4,
		"p_practice_score": 7,
		"p_practice_total": 10,
		"p_reflection":     "felt good",
	}, req.Params())

	mnemonic, err := def.ActionRequest("mnemonic", state)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"p_topic_id": "topic-9", "p_style": "rhyme"}, mnemonic.Params())
}

package flow

import (
	"fmt"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/rpc"
	"github.com/aretw0/stepflow/pkg/schema"
)

// Names of the built-in flows.
const (
	OnboardingName = "onboarding"
	SessionName    = "session"
)

// Builtins returns fresh copies of the built-in flows.
func Builtins() []*Definition {
	return []*Definition{Onboarding(), Session()}
}

// Onboarding is the parent flow that creates a child and their first revision plan.
//
//	child -> children (only when adding several) -> when -> date (exact dates only)
//	      -> feeling -> history
func Onboarding() *Definition {
	return &Definition{
		Name:        OnboardingName,
		Title:       "Set up your child",
		Description: "Tell us about your child and their exams so we can build a plan.",
		Steps: []domain.Step{
			{
				ID:       "child",
				Title:    "About your child",
				Prompt:   "What is your child's **first name** and **year group**?",
				Required: true,
				Fields: schema.Schema{
					"first_name": schema.Text(),
					"year_group": schema.Int(),
				},
			},
			{
				ID:          "children",
				Title:       "Several children",
				Prompt:      "Should every child share this plan's settings?",
				Options:     []string{"yes", "no"},
				SkipWhen:    "!child.multiple",
				AutoAdvance: true,
			},
			{
				ID:          "when",
				Title:       "Exam timeline",
				Prompt:      "When are the exams?",
				Options:     rpc.ExamTimelines,
				Required:    true,
				AutoAdvance: true,
				Shortcuts:   map[string]string{"no_date": "feeling"},
			},
			{
				ID:       "date",
				Title:    "Exam date",
				Prompt:   "Pick the first exam date (YYYY-MM-DD).",
				Required: true,
				SkipWhen: "when != 'exact_date'",
				Check: func(answer any) []string {
					if answer == nil || schema.Date().Validate(answer) != nil {
						return []string{"exam_date"}
					}
					return nil
				},
			},
			{
				ID:          "feeling",
				Title:       "How are they feeling?",
				Prompt:      "How does your child feel about revision right now?",
				Options:     rpc.Feelings,
				Required:    true,
				AutoAdvance: true,
			},
			{
				ID:          "history",
				Title:       "Revision so far",
				Prompt:      "Have they used a revision tool before?",
				Options:     rpc.Histories,
				Required:    true,
				AutoAdvance: true,
			},
		},
		Completion: Completion{
			Operation: rpc.OpCreateChildAndPlan,
			Build:     buildCreateChildAndPlan,
		},
		Actions: map[string]Action{
			"share_plan": {
				StepID:    "children",
				Operation: rpc.OpSetParentPreference,
				Build: func(state *domain.State) (rpc.Request, error) {
					v := state.Answers["children"]
					return &rpc.SetParentPreferenceRequest{
						Key:     "share_plan_across_children",
						Enabled: v == "yes" || v == true,
					}, nil
				},
			},
		},
	}
}

// Session is the revision session runner.
// Hosts start it with context keys session_id, topic_id and topic_title.
func Session() *Definition {
	return &Definition{
		Name:  SessionName,
		Title: "Revision session",
		Steps: []domain.Step{
			{ID: "preview", Title: "Preview", Prompt: "Here is what today's topic covers."},
			{
				ID:       "recall",
				Title:    "Recall",
				Prompt:   "Write down everything you remember, then rate your recall from 1 to 5.",
				Required: true,
				Fields:   schema.Schema{"rating": schema.Int()},
			},
			{ID: "reinforce", Title: "Reinforce", Prompt: "Review the key points. Ask for a mnemonic if it helps."},
			{
				ID:       "practice",
				Title:    "Practice",
				Prompt:   "Answer the practice questions.",
				Required: true,
				Fields:   schema.Schema{"score": schema.Int(), "total": schema.Int()},
			},
			{ID: "summary", Title: "Summary", Prompt: "How did that go? Add a reflection if you like."},
			{ID: "complete", Title: "Complete", Prompt: "Session complete. Nice work!"},
		},
		Completion: Completion{
			Operation: rpc.OpCompleteSession,
			Build:     buildCompleteSession,
		},
		Actions: map[string]Action{
			"mnemonic": {
				StepID:    "reinforce",
				Operation: rpc.OpCreateMnemonicRequest,
				Build: func(state *domain.State) (rpc.Request, error) {
					input := map[string]any{"topic_id": state.Context["topic_id"], "style": "rhyme"}
					if m, ok := state.Answers["reinforce"].(map[string]any); ok && m["style"] != nil {
						input["style"] = m["style"]
					}
					var req rpc.CreateMnemonicRequest
					if err := rpc.Decode(input, &req); err != nil {
						return nil, err
					}
					return &req, nil
				},
			},
		},
	}
}

func buildCreateChildAndPlan(state *domain.State) (rpc.Request, error) {
	a := state.Answers
	input := map[string]any{
		"exam_timeline": a["when"],
		"exam_date":     a["date"],
		"feeling":       a["feeling"],
		"history":       a["history"],
	}
	if child, ok := a["child"].(map[string]any); ok {
		for k, v := range child {
			if k != "multiple" {
				input[k] = v
			}
		}
	}

	var req rpc.CreateChildAndPlanRequest
	if err := rpc.Decode(input, &req); err != nil {
		return nil, fmt.Errorf("onboarding: %w", err)
	}
	return &req, nil
}

func buildCompleteSession(state *domain.State) (rpc.Request, error) {
	input := map[string]any{"session_id": state.Context["session_id"]}
	if recall, ok := state.Answers["recall"].(map[string]any); ok {
		input["recall_rating"] = recall["rating"]
	}
	if practice, ok := state.Answers["practice"].(map[string]any); ok {
		input["practice_score"] = practice["score"]
		input["practice_total"] = practice["total"]
	}
	switch v := state.Answers["summary"].(type) {
	case string:
		input["reflection"] = v
	case map[string]any:
		input["reflection"] = v["reflection"]
	}

	var req rpc.CompleteSessionRequest
	if err := rpc.Decode(input, &req); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &req, nil
}

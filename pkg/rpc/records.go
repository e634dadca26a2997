package rpc

import (
	"fmt"

	"github.com/aretw0/stepflow/pkg/schema"
)

// Operation names of the backend.
const (
	OpCreateChildAndPlan    = "rpc_parent_create_child_and_plan"
	OpCompleteSession       = "rpc_complete_revision_session"
	OpCreateMnemonicRequest = "rpc_create_mnemonic_request"
	OpSetParentPreference   = "rpc_set_parent_preference"
)

// Answer values shared by the onboarding flow and its completion record.
var (
	ExamTimelines = []string{"exact_date", "this_term", "next_term", "no_date"}
	Feelings      = []string{"feeling_ahead", "feeling_on_track", "feeling_behind", "feeling_unsure"}
	Histories     = []string{"history_first", "history_tried_apps", "history_tutor"}
)

// CreateChildAndPlanRequest completes the parent onboarding flow: it creates the child
// and asks the backend to generate the first revision plan.
type CreateChildAndPlanRequest struct {
	FirstName    string   `mapstructure:"first_name"`
	YearGroup    int      `mapstructure:"year_group"`
	Subjects     []string `mapstructure:"subjects"`
	ExamTimeline string   `mapstructure:"exam_timeline"`
	ExamDate     string   `mapstructure:"exam_date"`
	Feeling      string   `mapstructure:"feeling"`
	History      string   `mapstructure:"history"`
}

func (r *CreateChildAndPlanRequest) Operation() string { return OpCreateChildAndPlan }

func (r *CreateChildAndPlanRequest) Validate() error {
	fields := schema.Schema{
		"first_name":    schema.Text(),
		"year_group":    schema.Custom("year_group", yearGroup),
		"exam_timeline": schema.OneOf(ExamTimelines...),
		"feeling":       schema.OneOf(Feelings...),
		"history":       schema.OneOf(Histories...),
	}
	data := map[string]any{
		"first_name":    r.FirstName,
		"year_group":    r.YearGroup,
		"exam_timeline": r.ExamTimeline,
		"feeling":       r.Feeling,
		"history":       r.History,
	}
	if r.ExamTimeline == "exact_date" {
		fields["exam_date"] = schema.Date()
		data["exam_date"] = r.ExamDate
	}
	return schema.Validate(fields, data)
}

func (r *CreateChildAndPlanRequest) Params() map[string]any {
	params := map[string]any{
		"p_first_name":    r.FirstName,
		"p_year_group":    r.YearGroup,
		"p_exam_timeline": r.ExamTimeline,
		"p_exam_date":     nil,
		"p_feeling":       r.Feeling,
		"p_history":       r.History,
		"p_subjects":      r.Subjects,
	}
	if r.ExamTimeline == "exact_date" {
		params["p_exam_date"] = r.ExamDate
	}
	if r.Subjects == nil {
		params["p_subjects"] = []string{}
	}
	return params
}

// CompleteSessionRequest reports a finished revision session.
type CompleteSessionRequest struct {
	SessionID     string `mapstructure:"session_id"`
	RecallRating  int    `mapstructure:"recall_rating"`
	PracticeScore int    `mapstructure:"practice_score"`
	PracticeTotal int    `mapstructure:"practice_total"`
	Reflection    string `mapstructure:"reflection"`
}

func (r *CompleteSessionRequest) Operation() string { return OpCompleteSession }

func (r *CompleteSessionRequest) Validate() error {
	return schema.Validate(schema.Schema{
		"session_id":     schema.Text(),
		"recall_rating":  schema.Custom("rating", rating),
		"practice_score": schema.Custom("score", func(v any) error {
			if n, _ := v.(int); n < 0 || n > r.PracticeTotal {
				return fmt.Errorf("must be between 0 and %d", r.PracticeTotal)
			}
			return nil
		}),
	}, map[string]any{
		"session_id":     r.SessionID,
		"recall_rating":  r.RecallRating,
		"practice_score": r.PracticeScore,
	})
}

func (r *CompleteSessionRequest) Params() map[string]any {
	return map[string]any{
		"p_session_id":     r.SessionID,
		"p_recall_rating":  r.RecallRating,
		"p_practice_score": r.PracticeScore,
		"p_practice_total": r.PracticeTotal,
		"p_reflection":     r.Reflection,
	}
}

// CreateMnemonicRequest asks the backend to generate a mnemonic for a topic.
type CreateMnemonicRequest struct {
	TopicID string `mapstructure:"topic_id"`
	Style   string `mapstructure:"style"`
}

// MnemonicStyles lists the styles the backend generates.
var MnemonicStyles = []string{"rhyme", "acronym", "story"}

func (r *CreateMnemonicRequest) Operation() string { return OpCreateMnemonicRequest }

func (r *CreateMnemonicRequest) Validate() error {
	return schema.Validate(schema.Schema{
		"topic_id": schema.Text(),
		"style":    schema.OneOf(MnemonicStyles...),
	}, map[string]any{
		"topic_id": r.TopicID,
		"style":    r.Style,
	})
}

func (r *CreateMnemonicRequest) Params() map[string]any {
	return map[string]any{
		"p_topic_id": r.TopicID,
		"p_style":    r.Style,
	}
}

// SetParentPreferenceRequest toggles one parent-level preference.
type SetParentPreferenceRequest struct {
	Key     string `mapstructure:"key"`
	Enabled bool   `mapstructure:"enabled"`
}

func (r *SetParentPreferenceRequest) Operation() string { return OpSetParentPreference }

func (r *SetParentPreferenceRequest) Validate() error {
	return schema.Validate(schema.Schema{"key": schema.Text()}, map[string]any{"key": r.Key})
}

func (r *SetParentPreferenceRequest) Params() map[string]any {
	return map[string]any{
		"p_key":     r.Key,
		"p_enabled": r.Enabled,
	}
}

func yearGroup(v any) error {
	n, ok := v.(int)
	if !ok || n < 1 || n > 13 {
		return fmt.Errorf("must be a year group between 1 and 13")
	}
	return nil
}

func rating(v any) error {
	n, ok := v.(int)
	if !ok || n < 1 || n > 5 {
		return fmt.Errorf("must be a rating between 1 and 5")
	}
	return nil
}

package domain

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestDiff(t *testing.T) {
	active := StatusActive
	submitted := StatusSubmitted

	base := func() *State {
		s := NewState("onboarding", "inst-1", []string{"when", "feeling", "history"})
		s.Status = StatusActive
		s.History = []Visit{{Index: 0, From: -1}}
		s.Head = 0
		return s
	}

	tests := []struct {
		name     string
		old      *State
		new      func() *State
		wantDiff *StateDiff // nil means we expect no diff
	}{
		{
			name: "Initial Load (Old is Nil)",
			old:  nil,
			new: func() *State {
				s := base()
				s.Answers["when"] = "this_term"
				return s
			},
			wantDiff: &StateDiff{
				InstanceID:  "inst-1",
				CurrentStep: &[]string{"when"}[0],
				Status:      &active,
				Answers:     map[string]any{"when": "this_term"},
				History:     &HistoryDelta{Appended: []Visit{{Index: 0, From: -1}}},
			},
		},
		{
			name:     "No Changes",
			old:      base(),
			new:      base,
			wantDiff: nil,
		},
		{
			name: "Submitted",
			old:  base(),
			new: func() *State {
				s := base()
				s.Status = StatusSubmitted
				return s
			},
			wantDiff: &StateDiff{
				InstanceID: "inst-1",
				Status:     &submitted,
			},
		},
		{
			name: "Advance Appends Visit",
			old:  base(),
			new: func() *State {
				s := base()
				s.CurrentIndex = 1
				s.History = append(s.History, Visit{Index: 1, From: 0})
				s.Head = 1
				return s
			},
			wantDiff: &StateDiff{
				InstanceID:  "inst-1",
				CurrentStep: &[]string{"feeling"}[0],
				History:     &HistoryDelta{Appended: []Visit{{Index: 1, From: 0}}},
			},
		},
		{
			name: "Answer Deleted",
			old: func() *State {
				s := base()
				s.Answers["when"] = "x"
				s.Answers["feeling"] = "y"
				return s
			}(),
			new: func() *State {
				s := base()
				s.Answers["when"] = "x"
				return s
			},
			wantDiff: &StateDiff{
				InstanceID: "inst-1",
				Answers:    map[string]any{"feeling": nil},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.old, tt.new())
			if tt.wantDiff == nil {
				if got != nil {
					t.Errorf("Diff() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Diff() = nil, want %+v", tt.wantDiff)
			}
			if got.InstanceID != tt.wantDiff.InstanceID {
				t.Errorf("Diff().InstanceID = %v, want %v", got.InstanceID, tt.wantDiff.InstanceID)
			}
			if !reflect.DeepEqual(got.Answers, tt.wantDiff.Answers) {
				t.Errorf("Diff().Answers = %v, want %v", got.Answers, tt.wantDiff.Answers)
			}
			if !reflect.DeepEqual(got.History, tt.wantDiff.History) {
				t.Errorf("Diff().History = %v, want %v", got.History, tt.wantDiff.History)
			}
			if !equalPtr(got.CurrentStep, tt.wantDiff.CurrentStep) {
				t.Errorf("Diff().CurrentStep = %v, want %v", got.CurrentStep, tt.wantDiff.CurrentStep)
			}
			if !equalPtr(got.Status, tt.wantDiff.Status) {
				t.Errorf("Diff().Status = %v, want %v", got.Status, tt.wantDiff.Status)
			}
		})
	}
}

func TestDiffJSONSerialization(t *testing.T) {
	t.Run("Deletions as Null", func(t *testing.T) {
		s1 := NewState("f", "i", []string{"a"})
		s1.Answers["a"] = 1
		s1.Answers["b"] = 2
		s2 := s1.Clone()
		delete(s2.Answers, "b")

		diff := Diff(s1, s2)
		if diff == nil {
			t.Fatal("Expected diff, got nil")
		}

		bytes, _ := json.Marshal(diff)
		if !strings.Contains(string(bytes), `"b":null`) {
			t.Errorf("JSON should contain 'b':null for deletion, got: %s", string(bytes))
		}
		if strings.Contains(string(bytes), `"history"`) {
			t.Errorf("JSON should not contain 'history' when unchanged, got: %s", string(bytes))
		}
	})
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

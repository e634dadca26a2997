package domain

import (
	"reflect"
)

// StateDiff represents the changes between two snapshots.
// It is designed to be serialized to JSON for partial updates on the view layer.
type StateDiff struct {
	// InstanceID is always present to identify the target.
	InstanceID string `json:"instance_id"`

	CurrentStep *string `json:"current_step,omitempty"`

	Status *Status `json:"status,omitempty"`

	// Answers contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	Answers map[string]any `json:"answers,omitempty"`

	// History contains visits appended to the log. The log is append-only.
	History *HistoryDelta `json:"history,omitempty"`

	Head *int `json:"head,omitempty"`

	Busy *bool `json:"busy,omitempty"`
}

// HistoryDelta represents visits appended to the history log.
type HistoryDelta struct {
	Appended []Visit `json:"appended"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, it returns a diff representing the entire newState (initial load).
func Diff(oldState, newState *State) *StateDiff {
	if newState == nil {
		return nil
	}

	diff := &StateDiff{
		InstanceID: newState.InstanceID,
	}

	if oldState == nil || oldState.CurrentIndex != newState.CurrentIndex {
		step := newState.CurrentStep()
		diff.CurrentStep = &step
	}
	if oldState == nil || oldState.Status != newState.Status {
		diff.Status = &newState.Status
	}
	if oldState == nil || oldState.Head != newState.Head {
		diff.Head = &newState.Head
	}
	if oldState == nil {
		if newState.Busy {
			diff.Busy = &newState.Busy
		}
	} else if oldState.Busy != newState.Busy {
		diff.Busy = &newState.Busy
	}

	diff.Answers = diffAnswers(oldState, newState)
	diff.History = diffHistory(oldState, newState)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffAnswers(old *State, new *State) map[string]any {
	delta := make(map[string]any)

	if old == nil {
		for k, v := range new.Answers {
			delta[k] = v
		}
		if len(delta) == 0 {
			return nil
		}
		return delta
	}

	for k, newVal := range new.Answers {
		oldVal, exists := old.Answers[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}

	for k := range old.Answers {
		if _, exists := new.Answers[k]; !exists {
			delta[k] = nil
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

// diffHistory relies on the log being append-only.
func diffHistory(old *State, new *State) *HistoryDelta {
	if len(new.History) == 0 {
		return nil
	}
	if old == nil {
		return &HistoryDelta{Appended: new.History}
	}
	if len(new.History) > len(old.History) {
		return &HistoryDelta{Appended: new.History[len(old.History):]}
	}
	return nil
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return d.CurrentStep == nil &&
		d.Status == nil &&
		d.Head == nil &&
		d.Busy == nil &&
		len(d.Answers) == 0 &&
		d.History == nil
}

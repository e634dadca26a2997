package flow

import (
	"fmt"

	"github.com/aretw0/stepflow/pkg/condition"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/rpc"
	"github.com/aretw0/stepflow/pkg/schema"
)

// BuildFunc turns a snapshot into the typed request sent to the backend.
type BuildFunc func(state *domain.State) (rpc.Request, error)

// Completion is the single outbound call made when a traversal is submitted.
type Completion struct {
	Operation string        `json:"operation" yaml:"operation"`
	Fields    schema.Schema `json:"fields,omitempty" yaml:"fields,omitempty"`
	Build     BuildFunc     `json:"-" yaml:"-"`
}

// Action is a side call available while a given step is current
// (e.g. toggling a preference or requesting a mnemonic). It never transitions.
type Action struct {
	StepID    string    `json:"step" yaml:"step"`
	Operation string    `json:"operation" yaml:"operation"`
	Build     BuildFunc `json:"-" yaml:"-"`
}

// Definition describes one flow.
type Definition struct {
	Name        string            `json:"name" yaml:"name"`
	Title       string            `json:"title,omitempty" yaml:"title,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []domain.Step     `json:"steps" yaml:"steps"`
	Completion  Completion        `json:"completion" yaml:"completion"`
	Actions     map[string]Action `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Validate checks the definition is internally consistent.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("flow %s: at least one step is required", d.Name)
	}

	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("flow %s: step without id", d.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("flow %s: duplicate step %q", d.Name, s.ID)
		}
		seen[s.ID] = true
	}

	for _, s := range d.Steps {
		if s.SkipWhen != "" {
			if _, err := condition.Compile(s.SkipWhen); err != nil {
				return fmt.Errorf("flow %s: step %s: %w", d.Name, s.ID, err)
			}
		}
		for value, target := range s.Shortcuts {
			if !seen[target] {
				return fmt.Errorf("flow %s: step %s: shortcut %q targets unknown step %q", d.Name, s.ID, value, target)
			}
		}
	}

	if d.Completion.Operation == "" {
		return fmt.Errorf("flow %s: completion operation is required", d.Name)
	}

	for name, a := range d.Actions {
		if !seen[a.StepID] {
			return fmt.Errorf("flow %s: action %s bound to unknown step %q", d.Name, name, a.StepID)
		}
		if a.Operation == "" && a.Build == nil {
			return fmt.Errorf("flow %s: action %s has no operation", d.Name, name)
		}
	}
	return nil
}

// StepIDs returns the ordered step identifiers.
func (d *Definition) StepIDs() []string {
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Step looks up a step by identifier.
func (d *Definition) Step(id string) (domain.Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return domain.Step{}, false
}

// CompletionRequest builds the completion record for a snapshot.
// Flows without a builder send the answers as the parameter mapping.
func (d *Definition) CompletionRequest(state *domain.State) (rpc.Request, error) {
	if d.Completion.Build != nil {
		return d.Completion.Build(state)
	}
	return &rpc.Raw{
		Name:   d.Completion.Operation,
		Args:   flatten(state.Answers),
		Schema: d.Completion.Fields,
	}, nil
}

// ActionRequest builds the request of a named action for a snapshot.
func (d *Definition) ActionRequest(name string, state *domain.State) (rpc.Request, error) {
	a, ok := d.Actions[name]
	if !ok {
		return nil, fmt.Errorf("flow %s: unknown action %q", d.Name, name)
	}
	if a.Build != nil {
		return a.Build(state)
	}
	args := map[string]any{}
	switch v := state.Answers[a.StepID].(type) {
	case map[string]any:
		for k, val := range v {
			args[k] = val
		}
	case nil:
	default:
		args["value"] = v
	}
	return &rpc.Raw{Name: a.Operation, Args: args}, nil
}

// flatten copies answers into a parameter mapping. Map-shaped answers are inlined so
// their fields become top-level parameters; scalar answers keep the step identifier.
func flatten(answers domain.Answers) map[string]any {
	out := make(map[string]any, len(answers))
	for step, v := range answers {
		if m, ok := v.(map[string]any); ok {
			for k, val := range m {
				out[k] = val
			}
			continue
		}
		out[step] = v
	}
	return out
}

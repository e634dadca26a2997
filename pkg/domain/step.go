package domain

import "github.com/aretw0/stepflow/pkg/schema"

// Step represents one named screen of a flow.
type Step struct {
	ID      string   `json:"id" yaml:"id"`
	Title   string   `json:"title,omitempty" yaml:"title,omitempty"`
	Prompt  string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`

	// Required means an answer must exist before moving forward from this step.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Fields lists typed keys that must be present in a map-shaped answer.
	Fields schema.Schema `json:"fields,omitempty" yaml:"fields,omitempty"`

	// Check is a caller-supplied predicate returning the names of missing fields.
	Check func(answer any) []string `json:"-" yaml:"-"`

	// SkipWhen is a condition expression (see package condition) evaluated against the
	// answers at the moment of advance or jump. Skip is its programmatic form.
	SkipWhen string              `json:"skip_when,omitempty" yaml:"skip_when,omitempty"`
	Skip     func(Answers) bool `json:"-" yaml:"-"`

	// AutoAdvance moves forward as soon as an answer is chosen.
	AutoAdvance bool `json:"auto_advance,omitempty" yaml:"auto_advance,omitempty"`

	// Shortcuts maps an answer value to the step it jumps to.
	Shortcuts map[string]string `json:"shortcuts,omitempty" yaml:"shortcuts,omitempty"`
}

// HasRequirements reports whether leaving the step forward needs validation.
func (s Step) HasRequirements() bool {
	return s.Required || len(s.Options) > 0 || len(s.Fields) > 0 || s.Check != nil
}

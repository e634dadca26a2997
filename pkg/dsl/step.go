package dsl

import (
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/schema"
)

// StepBuilder configures one step. Its methods chain back into the flow through Step,
// Complete and the other flow-level methods.
type StepBuilder struct {
	builder *Builder
	pos     int
}

func (s *StepBuilder) step() *domain.Step {
	return &s.builder.def.Steps[s.pos]
}

// Title sets the step title.
func (s *StepBuilder) Title(title string) *StepBuilder {
	s.step().Title = title
	return s
}

// Prompt sets the markdown shown for the step.
func (s *StepBuilder) Prompt(text string) *StepBuilder {
	s.step().Prompt = text
	return s
}

// Options sets the values a user chooses from.
func (s *StepBuilder) Options(values ...string) *StepBuilder {
	s.step().Options = append([]string(nil), values...)
	return s
}

// Required demands an answer before moving forward.
func (s *StepBuilder) Required() *StepBuilder {
	s.step().Required = true
	return s
}

// Field adds a typed key the map-shaped answer must carry.
func (s *StepBuilder) Field(name string, t schema.Type) *StepBuilder {
	st := s.step()
	if st.Fields == nil {
		st.Fields = make(schema.Schema)
	}
	st.Fields[name] = t
	return s
}

// Check sets a predicate returning the missing fields of an answer.
func (s *StepBuilder) Check(fn func(answer any) []string) *StepBuilder {
	s.step().Check = fn
	return s
}

// SkipWhen skips the step while the condition over earlier answers holds.
func (s *StepBuilder) SkipWhen(expr string) *StepBuilder {
	s.step().SkipWhen = expr
	return s
}

// SkipIf skips the step while fn returns true.
func (s *StepBuilder) SkipIf(fn func(domain.Answers) bool) *StepBuilder {
	s.step().Skip = fn
	return s
}

// AutoAdvance moves on as soon as an option is chosen.
func (s *StepBuilder) AutoAdvance() *StepBuilder {
	s.step().AutoAdvance = true
	return s
}

// Shortcut jumps to target when value is chosen.
func (s *StepBuilder) Shortcut(value, target string) *StepBuilder {
	st := s.step()
	if st.Shortcuts == nil {
		st.Shortcuts = make(map[string]string)
	}
	st.Shortcuts[value] = target
	return s
}

// Action binds a named side call to this step.
func (s *StepBuilder) Action(name, operation string) *StepBuilder {
	s.builder.Action(name, s.step().ID, operation)
	return s
}

// Step continues with another step.
func (s *StepBuilder) Step(id string) *StepBuilder {
	return s.builder.Step(id)
}

// Complete sets the completion operation of the flow.
func (s *StepBuilder) Complete(operation string, fields ...schema.Schema) *Builder {
	return s.builder.Complete(operation, fields...)
}

// CompleteWith sets the completion operation and request builder of the flow.
func (s *StepBuilder) CompleteWith(operation string, build flow.BuildFunc) *Builder {
	return s.builder.CompleteWith(operation, build)
}

// Builder returns the flow builder.
func (s *StepBuilder) Builder() *Builder {
	return s.builder
}

package dsl

import (
	"fmt"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
	"github.com/aretw0/stepflow/pkg/schema"
)

// Builder accumulates a flow definition. Steps keep the order they were added in.
type Builder struct {
	def   flow.Definition
	index map[string]int
	errs  []error
}

// New starts a flow named name.
func New(name string) *Builder {
	return &Builder{
		def:   flow.Definition{Name: name},
		index: make(map[string]int),
	}
}

// Title sets the flow title.
func (b *Builder) Title(title string) *Builder {
	b.def.Title = title
	return b
}

// Description sets the flow description.
func (b *Builder) Description(text string) *Builder {
	b.def.Description = text
	return b
}

// Step appends a step, or returns the existing builder for a step added earlier.
func (b *Builder) Step(id string) *StepBuilder {
	if i, ok := b.index[id]; ok {
		return &StepBuilder{builder: b, pos: i}
	}
	b.def.Steps = append(b.def.Steps, domain.Step{ID: id})
	b.index[id] = len(b.def.Steps) - 1
	return &StepBuilder{builder: b, pos: len(b.def.Steps) - 1}
}

// Complete sets the completion operation. Without a builder the answers are sent as
// parameters, checked against fields when given.
func (b *Builder) Complete(operation string, fields ...schema.Schema) *Builder {
	b.def.Completion.Operation = operation
	if len(fields) > 0 {
		b.def.Completion.Fields = fields[0]
	}
	return b
}

// CompleteWith sets the completion operation and a custom request builder.
func (b *Builder) CompleteWith(operation string, build flow.BuildFunc) *Builder {
	b.def.Completion = flow.Completion{Operation: operation, Build: build}
	return b
}

// Action binds a named side call to a step.
func (b *Builder) Action(name, stepID, operation string) *Builder {
	return b.ActionWith(name, stepID, operation, nil)
}

// ActionWith binds a named side call with a custom request builder.
func (b *Builder) ActionWith(name, stepID, operation string, build flow.BuildFunc) *Builder {
	if b.def.Actions == nil {
		b.def.Actions = make(map[string]flow.Action)
	}
	if _, dup := b.def.Actions[name]; dup {
		b.errs = append(b.errs, fmt.Errorf("action %s defined twice", name))
	}
	b.def.Actions[name] = flow.Action{StepID: stepID, Operation: operation, Build: build}
	return b
}

// Build validates and returns the definition. The builder must not be reused.
func (b *Builder) Build() (*flow.Definition, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("flow %s: %w", b.def.Name, b.errs[0])
	}
	def := b.def
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// MustBuild is like Build but panics on an invalid definition.
func (b *Builder) MustBuild() *flow.Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

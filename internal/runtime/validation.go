package runtime

import (
	"strings"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/schema"
)

// skipped evaluates the skip predicate of step i against the current answers.
func (c *Controller) skipped(s *domain.State, i int) bool {
	p := c.skips[i]
	return p != nil && p(s.Answers)
}

// nextEligible returns the first non-skipped index after from, or -1.
func (c *Controller) nextEligible(s *domain.State, from int) int {
	for i := from + 1; i < len(s.Steps); i++ {
		if !c.skipped(s, i) {
			return i
		}
	}
	return -1
}

func (c *Controller) isLast(s *domain.State, i int) bool {
	return c.nextEligible(s, i) < 0
}

func (c *Controller) validateStep(s *domain.State, i int) error {
	step := c.def.Steps[i]
	if missing := missingFields(step, s.Answers); len(missing) > 0 {
		return &domain.ValidationError{StepID: step.ID, Fields: missing}
	}
	return nil
}

// incompleteSteps lists the eligible steps whose requirements are unmet, in order.
func (c *Controller) incompleteSteps(s *domain.State) []string {
	var out []string
	for i, step := range c.def.Steps {
		if c.skipped(s, i) {
			continue
		}
		if len(missingFields(step, s.Answers)) > 0 {
			out = append(out, step.ID)
		}
	}
	return out
}

// missingFields reports what a step still needs. An unanswered optional step needs
// nothing; an unanswered required step needs its declared fields, or itself. A choice
// step answered outside its options needs itself.
func missingFields(step domain.Step, answers domain.Answers) []string {
	if !step.HasRequirements() {
		return nil
	}

	v, ok := answers[step.ID]
	if !answered(v, ok) {
		if !step.Required {
			return nil
		}
		if len(step.Fields) > 0 {
			return step.Fields.Keys()
		}
		return []string{step.ID}
	}

	if len(step.Options) > 0 && schema.OneOf(step.Options...).Validate(v) != nil {
		return []string{step.ID}
	}

	missing := schema.Missing(step.Fields, v)
	if step.Check != nil {
		missing = append(missing, step.Check(v)...)
	}
	return dedupe(missing)
}

func answered(v any, ok bool) bool {
	if !ok || v == nil {
		return false
	}
	if str, isStr := v.(string); isStr {
		return strings.TrimSpace(str) != ""
	}
	return true
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

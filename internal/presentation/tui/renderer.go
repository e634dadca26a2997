package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
// With color disabled it uses the plain "notty" style.
func NewRenderer(color bool) (func(string) (string, error), error) {
	opt := glamour.WithAutoStyle()
	if !color {
		opt = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(80))
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}, nil
}

// StepMarkdown formats a step as markdown: title, prompt, numbered options and the
// fields a structured answer needs.
func StepMarkdown(step domain.Step) string {
	var sb strings.Builder

	title := step.Title
	if title == "" {
		title = step.ID
	}
	sb.WriteString("## " + title + "\n\n")
	if step.Prompt != "" {
		sb.WriteString(step.Prompt + "\n\n")
	}
	for i, opt := range step.Options {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, opt))
	}
	if len(step.Options) > 0 {
		sb.WriteString("\n")
	}
	if keys := step.Fields.Keys(); len(keys) > 0 {
		sb.WriteString("Answer with ")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("`%s=<%s>`", k, step.Fields[k].Name()))
		}
		sb.WriteString("\n\n")
	}
	if !step.Required {
		sb.WriteString("_Optional._\n")
	}
	return sb.String()
}

package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
)

// Overlay contains the state of one traversal to visualize on the graph.
type Overlay struct {
	Visited []string
	Current string
	// Skipped lists steps bypassed under the current answers.
	Skipped []string
}

// NewOverlay builds an overlay from a snapshot. path is the list of steps not skipped
// under the snapshot's answers.
func NewOverlay(state *domain.State, path []string) *Overlay {
	if state == nil {
		return nil
	}
	eligible := make(map[string]bool, len(path))
	for _, id := range path {
		eligible[id] = true
	}
	o := &Overlay{Visited: state.Visited()}
	if state.Status != domain.StatusNotStarted {
		o.Current = state.CurrentStep()
	}
	for _, id := range state.Steps {
		if !eligible[id] {
			o.Skipped = append(o.Skipped, id)
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a flow definition.
// Shapes:
// - First step: ((Circle))
// - Required step: [/Parallelogram/]
// - Completion and action calls: [[Subroutine]]
// - Default: [Rectangle]
// Steps with a skip condition get a dotted bypass edge from their predecessor.
func GenerateMermaid(def *flow.Definition, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	steps := def.Steps
	for i, step := range steps {
		safeID := sanitizeMermaidID(step.ID)

		opener, closer := "[", "]"
		switch {
		case i == 0:
			opener, closer = "((", "))"
		case step.Required:
			opener, closer = "[/", "/]"
		}

		label := step.ID
		if step.SkipWhen != "" {
			label = fmt.Sprintf("%s <br/> skip: %s", step.ID, escapeLabel(step.SkipWhen))
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))

		if i+1 < len(steps) {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", safeID, sanitizeMermaidID(steps[i+1].ID)))
		}

		// Bypass edges land on the next step without its own skip condition.
		if i > 0 && step.SkipWhen != "" {
			for j := i + 1; j < len(steps); j++ {
				if steps[j].SkipWhen == "" {
					sb.WriteString(fmt.Sprintf("    %s -. \"skip %s\" .-> %s\n",
						sanitizeMermaidID(steps[i-1].ID), step.ID, sanitizeMermaidID(steps[j].ID)))
					break
				}
			}
		}

		for _, value := range sortedKeys(step.Shortcuts) {
			sb.WriteString(fmt.Sprintf("    %s -. \"%s\" .-> %s\n", safeID, escapeLabel(value), sanitizeMermaidID(step.Shortcuts[value])))
		}
	}

	if op := def.Completion.Operation; op != "" && len(steps) > 0 {
		last := sanitizeMermaidID(steps[len(steps)-1].ID)
		sb.WriteString(fmt.Sprintf("    %s[[\"%s\"]]\n", sanitizeMermaidID(op), op))
		sb.WriteString(fmt.Sprintf("    %s ==> %s\n", last, sanitizeMermaidID(op)))
	}

	names := make([]string, 0, len(def.Actions))
	for name := range def.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		action := def.Actions[name]
		safeOp := sanitizeMermaidID("action_" + name)
		sb.WriteString(fmt.Sprintf("    %s[[\"%s\"]]\n", safeOp, action.Operation))
		sb.WriteString(fmt.Sprintf("    %s -. ⚡ %s .-> %s\n", sanitizeMermaidID(action.StepID), name, safeOp))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps contrast on light fills under both themes.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef skipped fill:#eeeeee,stroke:#9e9e9e,stroke-dasharray:4 4,color:#666;\n")

		for _, id := range overlay.Skipped {
			sb.WriteString(fmt.Sprintf("    class %s skipped;\n", sanitizeMermaidID(id)))
		}

		visitedSet := make(map[string]bool)
		for _, id := range overlay.Visited {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if overlay.Current != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.Current)))
		}
	}

	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}

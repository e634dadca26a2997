package ports

import "github.com/aretw0/stepflow/pkg/flow"

// FlowSource defines how hosts retrieve flow definitions by name.
// This allows the definitions to come from code, files or both.
type FlowSource interface {
	// Get returns the definition registered under name.
	// It returns domain.ErrFlowNotFound when no such flow exists.
	Get(name string) (*flow.Definition, error)

	// Names returns the available flow names, sorted.
	Names() []string
}

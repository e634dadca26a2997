// Package registry holds the flow definitions a process can start.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/flow"
)

// Registry manages the available flows.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]*flow.Definition
}

// New creates a registry pre-filled with defs.
func New(defs ...*flow.Definition) (*Registry, error) {
	r := &Registry{flows: make(map[string]*flow.Definition)}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds a flow.
// If a flow with the same name exists, it is overwritten.
func (r *Registry) Register(def *flow.Definition) error {
	if def == nil {
		return fmt.Errorf("nil flow definition")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[def.Name] = def
	return nil
}

// Get looks up a flow by name.
func (r *Registry) Get(name string) (*flow.Definition, error) {
	r.mu.RLock()
	def, ok := r.flows[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, name)
	}
	return def, nil
}

// Names returns the registered flow names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

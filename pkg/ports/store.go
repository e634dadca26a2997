package ports

import (
	"context"

	"github.com/aretw0/stepflow/pkg/domain"
)

// StateStore keeps snapshots of live flow instances.
// Snapshots are an ephemeral host cache; the backend of record only ever receives the
// completion call.
type StateStore interface {
	// Save stores the snapshot for a given instance ID.
	Save(ctx context.Context, instanceID string, state *domain.State) error

	// Load retrieves the snapshot for a given instance ID.
	// Returns domain.ErrInstanceNotFound if the instance does not exist.
	Load(ctx context.Context, instanceID string) (*domain.State, error)

	// Delete removes the snapshot for a given instance ID.
	Delete(ctx context.Context, instanceID string) error

	// List returns the IDs of stored instances.
	List(ctx context.Context) ([]string, error)
}

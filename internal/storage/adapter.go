// Package storage defines the registry's external storage adapter
// contract: an optional durable sink the state machine calls after every
// successful graph mutation. The Postgres adapter lives in the postgres
// subpackage and Noop in this package (noop.go); this file holds the
// interface both implement, generalized from a repository-abstraction
// shape, plus the row types and Loader used by the startup load path.
package storage

import (
	"context"

	"brain2-backend/domain"
)

// Adapter is the external storage contract. Every method must be
// idempotent: re-applying an already-applied mutation (as a promoted
// follower replays its catch-up log) must succeed rather than error.
type Adapter interface {
	AddEntity(ctx context.Context, e domain.Entity) error
	DeleteEntity(ctx context.Context, id domain.ID) error
	Connect(ctx context.Context, edge domain.Edge) error
	Disconnect(ctx context.Context, edge domain.Edge) error
}

// EntityRow is one row of the entities table, as loaded at startup.
type EntityRow struct {
	EntityID      domain.ID
	EntityContent []byte // serialised entity attributes
}

// EdgeRow is one row of the edges table, as loaded at startup.
type EdgeRow struct {
	FromID domain.ID
	ToID   domain.ID
	Type   domain.EdgeType
}

// Loader is implemented by adapters that can hand back their full contents
// for the startup batch-load path.
type Loader interface {
	LoadAll(ctx context.Context) ([]EntityRow, []EdgeRow, error)
}

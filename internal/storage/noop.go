package storage

import (
	"context"

	"brain2-backend/domain"
)

// Noop is the adapter registered when no CONNECTION_STR is configured.
// Registering it rather than registering zero adapters keeps the state
// machine's adapter list non-empty for metrics/introspection, while being
// behaviourally identical to having none.
type Noop struct{}

func (Noop) AddEntity(context.Context, domain.Entity) error   { return nil }
func (Noop) DeleteEntity(context.Context, domain.ID) error    { return nil }
func (Noop) Connect(context.Context, domain.Edge) error       { return nil }
func (Noop) Disconnect(context.Context, domain.Edge) error    { return nil }

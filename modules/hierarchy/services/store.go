package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
)

// NodeStore is the persistence contract of the engine. Lookups of a missing
// node return an error wrapping node.ErrNotFound.
type NodeStore interface {
	FindByID(ctx context.Context, scope node.Scope, id uuid.UUID) (node.Node, error)
	FindByParentID(ctx context.Context, scope node.Scope, parentID uuid.UUID) ([]node.Node, error)
	// FindDescendantsByPosition runs scan as a single prefix or range query.
	FindDescendantsByPosition(ctx context.Context, scope node.Scope, scan position.Scan) ([]node.Node, error)
	// FindAncestorChain returns the chain root first, ending with id. A broken
	// or looping chain is cut where it breaks.
	FindAncestorChain(ctx context.Context, scope node.Scope, id uuid.UUID) ([]node.Node, error)
	ListByTenant(ctx context.Context, scope node.Scope) ([]node.Node, error)
	// BatchUpsert writes every node or none.
	BatchUpsert(ctx context.Context, scope node.Scope, nodes []node.Node) error
	Delete(ctx context.Context, scope node.Scope, id uuid.UUID) error
	CountByTenant(ctx context.Context, scope node.Scope) (int, error)
	ListTenants(ctx context.Context, kind node.Kind) ([]uuid.UUID, error)
	// InTx runs fn in one transaction; store calls made with the context fn
	// receives join it.
	InTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// Transition records one status change made by a cascade.
type Transition struct {
	NodeID uuid.UUID   `json:"node_id"`
	Kind   node.Kind   `json:"kind"`
	Name   string      `json:"name"`
	From   node.Status `json:"from"`
	To     node.Status `json:"to"`
}

// RelatedCollection is a sibling aggregate that follows a cascade in a
// breadth pass over its own nodes of the same tenant. It runs inside the
// cascade's transaction.
type RelatedCollection interface {
	Kind() node.Kind
	DeactivateAll(ctx context.Context, tenantID uuid.UUID) ([]Transition, error)
}

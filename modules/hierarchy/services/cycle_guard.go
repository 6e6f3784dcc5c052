package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

// WouldCreateCycle reports whether attaching nodeID below candidateParentID
// would make nodeID its own ancestor. It walks the candidate's ancestor chain,
// so the answer does not depend on stored paths or ranges.
func (s *HierarchyService) WouldCreateCycle(ctx context.Context, scope node.Scope, nodeID, candidateParentID uuid.UUID) (bool, error) {
	if nodeID == candidateParentID {
		return true, nil
	}
	chain, err := inTx(ctx, s.store, scope.TenantID, func(txCtx context.Context) ([]node.Node, error) {
		return s.store.FindAncestorChain(txCtx, scope, candidateParentID)
	})
	if err != nil {
		return false, mapStoreError(err)
	}
	for _, a := range chain {
		if a.ID == nodeID {
			return true, nil
		}
	}
	return false, nil
}

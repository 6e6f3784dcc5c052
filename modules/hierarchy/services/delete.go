package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/events"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/pkg/tracing"
)

// Delete removes a leaf that is no longer Active.
func (s *HierarchyService) Delete(ctx context.Context, scope node.Scope, nodeID uuid.UUID) (err error) {
	ctx, span := startSpan(ctx, "delete", scope)
	defer func() {
		tracing.End(span, err)
		recordOperation("delete", err)
		if err != nil {
			s.logRejected(ctx, scope, events.ChangeNodeDeleted, nodeID, err, nil)
		}
	}()

	release, err := s.lock(ctx, scope)
	if err != nil {
		return err
	}
	defer release()

	codec := s.codec(scope.Kind)
	now := s.clock()

	deleted, err := inTx(ctx, s.store, scope.TenantID, func(txCtx context.Context) (node.Node, error) {
		n, err := s.store.FindByID(txCtx, scope, nodeID)
		if err != nil {
			if errors.Is(err, node.ErrNotFound) {
				return node.Node{}, errNotFound(fmt.Sprintf("node %s not found", nodeID), err)
			}
			return node.Node{}, mapStoreError(err)
		}
		children, err := s.store.FindByParentID(txCtx, scope, nodeID)
		if err != nil {
			return node.Node{}, mapStoreError(err)
		}
		if len(children) > 0 {
			return node.Node{}, errInvalidOperation(fmt.Sprintf("node %s still has %d children", nodeID, len(children)))
		}
		if n.Status == node.StatusActive {
			return node.Node{}, errInvalidOperation(fmt.Sprintf("node %s is active; deactivate it first", nodeID))
		}
		if err := s.store.Delete(txCtx, scope, nodeID); err != nil {
			return node.Node{}, mapStoreError(err)
		}

		if codec.NeedsForest() {
			tree, err := s.store.ListByTenant(txCtx, scope)
			if err != nil {
				return node.Node{}, mapStoreError(err)
			}
			shifted := position.CloseGap(tree, n.Left, n.Right)
			if len(shifted) > 0 {
				stamp(shifted, now)
				if err := s.store.BatchUpsert(txCtx, scope, shifted); err != nil {
					return node.Node{}, mapStoreError(err)
				}
			}
		}
		return n, nil
	})
	if err != nil {
		return mapStoreError(err)
	}

	s.invalidate(ctx, "write", scope)
	s.publish(ctx, scope, events.ChangeNodeDeleted, nodeID, 1, deleted, nil)
	s.logWithFields(ctx, logrus.InfoLevel, "hierarchy.node.deleted", scopeFields(scope, events.ChangeNodeDeleted, nodeID))
	return nil
}

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

type MoveValidation struct {
	Valid  bool   `json:"valid"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type movePlan struct {
	node        node.Node
	parent      *node.Node
	descendants []node.Node
	noop        bool
}

type moveValues struct {
	ParentID *uuid.UUID `json:"parent_id"`
	Level    int        `json:"level"`
	Path     string     `json:"path,omitempty"`
	Left     int        `json:"left,omitempty"`
	Right    int        `json:"right,omitempty"`
}

func valuesOf(n node.Node) moveValues {
	return moveValues{ParentID: n.ParentID, Level: n.Level, Path: n.Path, Left: n.Left, Right: n.Right}
}

// planMove runs every check of a move without writing.
func (s *HierarchyService) planMove(ctx context.Context, scope node.Scope, nodeID uuid.UUID, newParentID *uuid.UUID) (*movePlan, error) {
	n, err := s.store.FindByID(ctx, scope, nodeID)
	if err != nil {
		if errors.Is(err, node.ErrNotFound) {
			return nil, errNotFound(fmt.Sprintf("node %s not found", nodeID), err)
		}
		return nil, mapStoreError(err)
	}

	var parent *node.Node
	if newParentID != nil {
		p, err := s.store.FindByID(ctx, scope, *newParentID)
		if err != nil {
			if errors.Is(err, node.ErrNotFound) {
				return nil, errNotFound(fmt.Sprintf("new parent %s not found", *newParentID), err)
			}
			return nil, mapStoreError(err)
		}
		if p.ID == n.ID {
			return nil, errInvalidOperation("a node cannot be moved under itself")
		}
		cycle, err := s.WouldCreateCycle(ctx, scope, n.ID, p.ID)
		if err != nil {
			return nil, err
		}
		if cycle {
			return nil, errCycleDetected(fmt.Sprintf("%s is a descendant of %s", p.ID, n.ID))
		}
		if p.Status != node.StatusActive {
			return nil, errParentInactive(fmt.Sprintf("new parent %s is %s", p.ID, p.Status))
		}
		parent = &p
	}

	plan := &movePlan{node: n, parent: parent}
	if sameParent(n.ParentID, newParentID) {
		plan.noop = true
		return plan, nil
	}

	codec := s.codec(scope.Kind)
	descendants, err := s.store.FindDescendantsByPosition(ctx, scope, codec.DescendantScan(n))
	if err != nil {
		return nil, mapStoreError(err)
	}
	plan.descendants = descendants

	limit := s.policy.For(scope.Kind).MaxDepth
	below := position.NewSubtree(n, parent, descendants).MaxDepthBelow(n.ID)
	if deepest := position.Level(parent) + below; deepest > limit {
		return nil, errDepthExceeded(deepest, limit)
	}
	return plan, nil
}

func sameParent(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ValidateMove answers whether Move would succeed right now. Only store
// failures are returned as errors.
func (s *HierarchyService) ValidateMove(ctx context.Context, scope node.Scope, nodeID uuid.UUID, newParentID *uuid.UUID) (MoveValidation, error) {
	_, err := inTx(ctx, s.store, scope.TenantID, func(txCtx context.Context) (*movePlan, error) {
		return s.planMove(txCtx, scope, nodeID, newParentID)
	})
	if err == nil {
		return MoveValidation{Valid: true}, nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Kind != KindInternal {
		return MoveValidation{Valid: false, Code: svcErr.Code, Reason: svcErr.Message}, nil
	}
	return MoveValidation{}, err
}

// Move re-parents nodeID under newParentID (nil makes it a root) as the
// parent's last child and re-derives level and position of the whole
// subtree. Range trees are renumbered as a whole.
func (s *HierarchyService) Move(ctx context.Context, scope node.Scope, nodeID uuid.UUID, newParentID *uuid.UUID) (err error) {
	ctx, span := startSpan(ctx, "move", scope)
	defer func() {
		tracing.End(span, err)
		recordOperation("move", err)
		if err != nil {
			s.logRejected(ctx, scope, events.ChangeNodeMoved, nodeID, err, nil)
		}
	}()

	release, err := s.lock(ctx, scope)
	if err != nil {
		return err
	}
	defer release()

	codec := s.codec(scope.Kind)
	now := s.clock()

	type result struct {
		before  node.Node
		after   node.Node
		changed int
		noop    bool
	}
	res, err := inTx(ctx, s.store, scope.TenantID, func(txCtx context.Context) (result, error) {
		plan, err := s.planMove(txCtx, scope, nodeID, newParentID)
		if err != nil {
			return result{}, err
		}
		if plan.noop {
			return result{before: plan.node, after: plan.node, noop: true}, nil
		}

		moved := plan.node.Clone()
		moved.ParentID = nil
		if newParentID != nil {
			moved.ParentID = node.Ptr(*newParentID)
		}

		var forest *position.Forest
		if codec.NeedsForest() {
			tree, err := s.store.ListByTenant(txCtx, scope)
			if err != nil {
				return result{}, mapStoreError(err)
			}
			for i := range tree {
				if tree[i].ID == moved.ID {
					tree[i] = moved
				}
			}
			forest = position.NewForest(tree)
			forest.PlaceLast(moved.ID)
		} else {
			forest = position.NewSubtree(moved, plan.parent, plan.descendants)
		}

		changed := position.Reencode(codec, forest)
		after := moved
		found := false
		for _, c := range changed {
			if c.ID == moved.ID {
				after = c
				found = true
				break
			}
		}
		if !found {
			changed = append(changed, moved)
		}
		stamp(changed, now)
		after.UpdatedAt = now

		if err := s.store.BatchUpsert(txCtx, scope, changed); err != nil {
			return result{}, mapStoreError(err)
		}
		return result{before: plan.node, after: after, changed: len(changed)}, nil
	})
	if err != nil {
		return mapStoreError(err)
	}
	if res.noop {
		s.logWithFields(ctx, logrus.DebugLevel, "hierarchy.node.move.noop", scopeFields(scope, events.ChangeNodeMoved, nodeID))
		return nil
	}

	s.invalidate(ctx, "write", scope)
	s.publish(ctx, scope, events.ChangeNodeMoved, nodeID, res.changed, valuesOf(res.before), valuesOf(res.after))
	fields := scopeFields(scope, events.ChangeNodeMoved, nodeID)
	fields["affected"] = res.changed
	fields["level"] = res.after.Level
	s.logWithFields(ctx, logrus.InfoLevel, "hierarchy.node.moved", fields)
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/events"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/pkg/tracing"
)

type CreateNodeInput struct {
	// ID is generated when left empty.
	ID           uuid.UUID   `json:"id"`
	ParentID     *uuid.UUID  `json:"parent_id"`
	Code         string      `json:"code" validate:"max=64"`
	Name         string      `json:"name" validate:"required,max=255"`
	DisplayOrder int         `json:"display_order" validate:"gte=0"`
	Status       node.Status `json:"status" validate:"omitempty,oneof=active inactive"`
}

func (s *HierarchyService) validateInput(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newServiceError(KindInvalidOperation, http.StatusBadRequest, CodeInvalidBody, "invalid input", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return newServiceError(KindInvalidOperation, http.StatusBadRequest, CodeInvalidBody, strings.Join(parts, "; "), err)
}

// checkUnique rejects a name already used in the scope, compared trimmed and
// case-insensitively, and a non-empty code already taken.
func checkUnique(existing []node.Node, name, code string) error {
	for _, n := range existing {
		if strings.EqualFold(strings.TrimSpace(n.Name), name) {
			return newServiceError(KindInvalidOperation, http.StatusConflict, CodeConflict,
				fmt.Sprintf("name %q is already used by node %s", name, n.ID), nil)
		}
		if code != "" && n.Code == code {
			return newServiceError(KindInvalidOperation, http.StatusConflict, CodeConflict,
				fmt.Sprintf("code %q is already used by node %s", code, n.ID), nil)
		}
	}
	return nil
}

// CreateUnderParent inserts a node as the last child of in.ParentID, or as a
// new root when ParentID is nil.
func (s *HierarchyService) CreateUnderParent(ctx context.Context, scope node.Scope, in CreateNodeInput) (created node.Node, err error) {
	ctx, span := startSpan(ctx, "create", scope)
	defer func() {
		tracing.End(span, err)
		recordOperation("create", err)
		if err != nil {
			s.logRejected(ctx, scope, events.ChangeNodeCreated, in.ID, err, nil)
		}
	}()

	if err := s.validateInput(in); err != nil {
		return node.Node{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return node.Node{}, newServiceError(KindInvalidOperation, http.StatusBadRequest, CodeInvalidBody, "name is required", nil)
	}
	if in.Status == "" {
		in.Status = node.StatusActive
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.ParentID != nil && *in.ParentID == in.ID {
		return node.Node{}, errInvalidOperation("a node cannot be its own parent")
	}

	release, err := s.lock(ctx, scope)
	if err != nil {
		return node.Node{}, err
	}
	defer release()

	kp := s.policy.For(scope.Kind)
	codec := s.codec(scope.Kind)
	now := s.clock()

	var shifted int
	created, err = inTx(ctx, s.store, scope.TenantID, func(txCtx context.Context) (node.Node, error) {
		if _, err := s.store.FindByID(txCtx, scope, in.ID); err == nil {
			return node.Node{}, newServiceError(KindInvalidOperation, http.StatusConflict, CodeConflict,
				fmt.Sprintf("node %s already exists", in.ID), nil)
		} else if !errors.Is(err, node.ErrNotFound) {
			return node.Node{}, mapStoreError(err)
		}

		var parent *node.Node
		if in.ParentID != nil {
			p, err := s.store.FindByID(txCtx, scope, *in.ParentID)
			if err != nil {
				if errors.Is(err, node.ErrNotFound) {
					return node.Node{}, errParentNotFound(fmt.Sprintf("parent %s not found", *in.ParentID), err)
				}
				return node.Node{}, mapStoreError(err)
			}
			if p.Status != node.StatusActive {
				return node.Node{}, errParentInactive(fmt.Sprintf("parent %s is %s", p.ID, p.Status))
			}
			if kp.MaxChildren > 0 {
				children, err := s.store.FindByParentID(txCtx, scope, p.ID)
				if err != nil {
					return node.Node{}, mapStoreError(err)
				}
				if len(children) >= kp.MaxChildren {
					return node.Node{}, errInvalidOperation(
						fmt.Sprintf("parent %s already has %d children (limit %d)", p.ID, len(children), kp.MaxChildren))
				}
			}
			parent = &p
		}

		level := position.Level(parent)
		if level > kp.MaxDepth {
			return node.Node{}, errDepthExceeded(level, kp.MaxDepth)
		}

		n := node.Node{
			ID:           in.ID,
			TenantID:     scope.TenantID,
			Kind:         scope.Kind,
			ParentID:     in.ParentID,
			Code:         strings.TrimSpace(in.Code),
			Name:         in.Name,
			Level:        level,
			Status:       in.Status,
			DisplayOrder: in.DisplayOrder,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		all, err := s.store.ListByTenant(txCtx, scope)
		if err != nil {
			return node.Node{}, mapStoreError(err)
		}
		if err := checkUnique(all, n.Name, n.Code); err != nil {
			return node.Node{}, err
		}
		var tree []node.Node
		if codec.NeedsForest() {
			tree = all
		}
		moved := codec.Place(tree, parent, &n)
		stamp(moved, now)
		shifted = len(moved)

		batch := append(moved, n)
		if err := s.store.BatchUpsert(txCtx, scope, batch); err != nil {
			return node.Node{}, mapStoreError(err)
		}
		return n, nil
	})
	if err != nil {
		return node.Node{}, mapStoreError(err)
	}

	s.invalidate(ctx, "write", scope)
	s.publish(ctx, scope, events.ChangeNodeCreated, created.ID, shifted+1, nil, created)
	fields := scopeFields(scope, events.ChangeNodeCreated, created.ID)
	fields["level"] = created.Level
	fields["shifted"] = shifted
	s.logWithFields(ctx, logrus.InfoLevel, "hierarchy.node.created", fields)
	return created, nil
}

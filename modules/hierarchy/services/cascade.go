package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/events"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/pkg/tracing"
)

type CascadeOptions struct {
	CascadeToChildren          bool `json:"cascade_to_children"`
	CascadeToRelatedAggregates bool `json:"cascade_to_related_aggregates"`
}

type CascadeReport struct {
	TenantID    uuid.UUID         `json:"tenant_id"`
	Kind        node.Kind         `json:"kind"`
	RootID      uuid.UUID         `json:"root_id"`
	Transitions []Transition      `json:"transitions"`
	Skipped     int               `json:"skipped"`
	Related     map[node.Kind]int `json:"related,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
}

func (r *CascadeReport) byKind() map[node.Kind]int {
	out := map[node.Kind]int{}
	for _, t := range r.Transitions {
		out[t.Kind]++
	}
	return out
}

func (r *CascadeReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cascade from %s (%s): %d transitioned, %d skipped", r.RootID, r.Kind, len(r.Transitions), r.Skipped)
	counts := r.byKind()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "\n  %s: %d", k, counts[node.Kind(k)])
	}
	for _, t := range r.Transitions {
		fmt.Fprintf(&b, "\n  - %s %s %q %s -> %s", t.Kind, t.NodeID, t.Name, t.From, t.To)
	}
	return b.String()
}

// deactivate returns n moved to Inactive and the transition record, or false
// when n is not Active or its kind forbids the move.
func deactivate(n node.Node, at time.Time) (node.Node, Transition, bool) {
	if n.Status != node.StatusActive || !node.CanTransition(n.Kind, n.Status, node.StatusInactive) {
		return n, Transition{}, false
	}
	t := Transition{NodeID: n.ID, Kind: n.Kind, Name: n.Name, From: n.Status, To: node.StatusInactive}
	out := n.Clone()
	out.Status = node.StatusInactive
	out.UpdatedAt = at
	return out, t, true
}

// CascadeDeactivate moves nodeID to Inactive and, as asked by opts, every
// Active descendant and every Active node of the related collections.
func (s *HierarchyService) CascadeDeactivate(ctx context.Context, scope node.Scope, nodeID uuid.UUID, opts CascadeOptions) (report *CascadeReport, err error) {
	ctx, span := startSpan(ctx, "cascade", scope)
	defer func() {
		tracing.End(span, err)
		recordOperation("cascade", err)
		if err != nil {
			s.logRejected(ctx, scope, events.ChangeNodeStatusChanged, nodeID, err, nil)
		}
	}()

	var related []RelatedCollection
	scopes := []node.Scope{scope}
	if opts.CascadeToRelatedAggregates {
		related = s.related[scope.Kind]
		for _, c := range related {
			scopes = append(scopes, node.Scope{TenantID: scope.TenantID, Kind: c.Kind()})
		}
	}
	release, err := s.lock(ctx, scopes...)
	if err != nil {
		return nil, err
	}
	defer release()

	started := s.clock()
	codec := s.codec(scope.Kind)

	report, err = inTx(ctx, s.store, scope.TenantID, func(txCtx context.Context) (*CascadeReport, error) {
		rep := &CascadeReport{TenantID: scope.TenantID, Kind: scope.Kind, RootID: nodeID, StartedAt: started}

		target, err := s.store.FindByID(txCtx, scope, nodeID)
		if err != nil {
			if errors.Is(err, node.ErrNotFound) {
				return nil, errNotFound(fmt.Sprintf("node %s not found", nodeID), err)
			}
			return nil, mapStoreError(err)
		}
		if target.Status == node.StatusTerminal {
			return nil, errInvalidOperation(fmt.Sprintf("node %s is %s and cannot be deactivated", target.ID, target.Status))
		}

		changed := make([]node.Node, 0, 16)
		if out, t, ok := deactivate(target, started); ok {
			changed = append(changed, out)
			rep.Transitions = append(rep.Transitions, t)
		} else {
			rep.Skipped++
		}

		if opts.CascadeToChildren {
			descendants, err := s.store.FindDescendantsByPosition(txCtx, scope, codec.DescendantScan(target))
			if err != nil {
				return nil, mapStoreError(err)
			}
			for _, d := range descendants {
				out, t, ok := deactivate(d, started)
				if !ok {
					rep.Skipped++
					continue
				}
				changed = append(changed, out)
				rep.Transitions = append(rep.Transitions, t)
			}
		}
		if len(changed) > 0 {
			if err := s.store.BatchUpsert(txCtx, scope, changed); err != nil {
				return nil, mapStoreError(err)
			}
		}

		for _, c := range related {
			ts, err := c.DeactivateAll(txCtx, scope.TenantID)
			if err != nil {
				return nil, mapStoreError(err)
			}
			if rep.Related == nil {
				rep.Related = map[node.Kind]int{}
			}
			rep.Related[c.Kind()] += len(ts)
			rep.Transitions = append(rep.Transitions, ts...)
		}
		return rep, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	report.Duration = s.clock().Sub(started)

	s.invalidate(ctx, "write", scopes...)
	for kind, n := range report.byKind() {
		hierarchyCascadeTransitions.WithLabelValues(string(kind)).Add(float64(n))
		sc := node.Scope{TenantID: scope.TenantID, Kind: kind}
		s.publish(ctx, sc, events.ChangeNodeStatusChanged, nodeID, n, nil, map[string]any{
			"status":  node.StatusInactive,
			"cascade": true,
		})
	}
	fields := scopeFields(scope, events.ChangeNodeStatusChanged, nodeID)
	fields["transitioned"] = len(report.Transitions)
	fields["skipped"] = report.Skipped
	s.logWithFields(ctx, logrus.InfoLevel, "hierarchy.cascade.completed", fields)
	return report, nil
}

// ChangeStatus moves one node to status to. Nothing below or beside the node
// changes.
func (s *HierarchyService) ChangeStatus(ctx context.Context, scope node.Scope, nodeID uuid.UUID, to node.Status) (updated node.Node, err error) {
	ctx, span := startSpan(ctx, "change_status", scope)
	defer func() {
		tracing.End(span, err)
		recordOperation("change_status", err)
		if err != nil {
			s.logRejected(ctx, scope, events.ChangeNodeStatusChanged, nodeID, err, logrus.Fields{"to": string(to)})
		}
	}()

	release, err := s.lock(ctx, scope)
	if err != nil {
		return node.Node{}, err
	}
	defer release()

	now := s.clock()
	var from node.Status
	updated, err = inTx(ctx, s.store, scope.TenantID, func(txCtx context.Context) (node.Node, error) {
		n, err := s.store.FindByID(txCtx, scope, nodeID)
		if err != nil {
			if errors.Is(err, node.ErrNotFound) {
				return node.Node{}, errNotFound(fmt.Sprintf("node %s not found", nodeID), err)
			}
			return node.Node{}, mapStoreError(err)
		}
		from = n.Status
		if n.Status == to {
			return n, nil
		}
		if !node.CanTransition(scope.Kind, n.Status, to) {
			return node.Node{}, errInvalidOperation(fmt.Sprintf("%s cannot move from %s to %s", scope.Kind, n.Status, to))
		}
		if to == node.StatusActive && n.ParentID != nil {
			p, err := s.store.FindByID(txCtx, scope, *n.ParentID)
			if err != nil {
				if errors.Is(err, node.ErrNotFound) {
					return node.Node{}, errParentNotFound(fmt.Sprintf("parent %s not found", *n.ParentID), err)
				}
				return node.Node{}, mapStoreError(err)
			}
			if p.Status != node.StatusActive {
				return node.Node{}, errParentInactive(fmt.Sprintf("parent %s is %s", p.ID, p.Status))
			}
		}
		n.Status = to
		n.UpdatedAt = now
		if err := s.store.BatchUpsert(txCtx, scope, []node.Node{n}); err != nil {
			return node.Node{}, mapStoreError(err)
		}
		return n, nil
	})
	if err != nil {
		return node.Node{}, mapStoreError(err)
	}
	if from == to {
		return updated, nil
	}

	s.invalidate(ctx, "write", scope)
	s.publish(ctx, scope, events.ChangeNodeStatusChanged, nodeID, 1,
		map[string]any{"status": from}, map[string]any{"status": to})
	fields := scopeFields(scope, events.ChangeNodeStatusChanged, nodeID)
	fields["from"] = string(from)
	fields["to"] = string(to)
	s.logWithFields(ctx, logrus.InfoLevel, "hierarchy.node.status_changed", fields)
	return updated, nil
}

// kindCollection deactivates every Active node of one kind in a tenant. It is
// the RelatedCollection built from Policy.Related.
type kindCollection struct {
	svc  *HierarchyService
	kind node.Kind
}

func (c kindCollection) Kind() node.Kind {
	return c.kind
}

func (c kindCollection) DeactivateAll(ctx context.Context, tenantID uuid.UUID) ([]Transition, error) {
	scope := node.Scope{TenantID: tenantID, Kind: c.kind}
	nodes, err := c.svc.store.ListByTenant(ctx, scope)
	if err != nil {
		return nil, err
	}
	now := c.svc.clock()
	changed := make([]node.Node, 0, len(nodes))
	out := make([]Transition, 0, len(nodes))
	for _, n := range nodes {
		updated, t, ok := deactivate(n, now)
		if !ok {
			continue
		}
		changed = append(changed, updated)
		out = append(out, t)
	}
	if len(changed) == 0 {
		return out, nil
	}
	if err := c.svc.store.BatchUpsert(ctx, scope, changed); err != nil {
		return nil, err
	}
	return out, nil
}

package services

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/pkg/tracing"
)

type TreeNode struct {
	node.Node
	Children []*TreeNode `json:"children,omitempty"`
}

// Size counts t and everything below it.
func (t *TreeNode) Size() int {
	n := 1
	for _, c := range t.Children {
		n += c.Size()
	}
	return n
}

// BuildTree nests nodes by parent pointer. A node whose parent is not in
// nodes becomes a root; members of a parent cycle are left out.
func BuildTree(nodes []node.Node) []*TreeNode {
	byID := make(map[uuid.UUID]*TreeNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &TreeNode{Node: n.Clone()}
	}
	roots := make([]*TreeNode, 0, 4)
	for _, n := range nodes {
		t := byID[n.ID]
		if n.ParentID == nil {
			roots = append(roots, t)
			continue
		}
		parent, ok := byID[*n.ParentID]
		if !ok {
			roots = append(roots, t)
			continue
		}
		parent.Children = append(parent.Children, t)
	}
	sortTreeNodes(roots)
	for _, t := range byID {
		sortTreeNodes(t.Children)
	}
	return roots
}

func sortTreeNodes(ts []*TreeNode) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.String() < b.ID.String()
	})
}

// Tree returns the nested view of a scope. Results are cached until the next
// write in the scope or the TTL, whichever comes first; concurrent misses
// share one store read. The returned nodes are shared and must not be
// modified.
func (s *HierarchyService) Tree(ctx context.Context, scope node.Scope) (roots []*TreeNode, err error) {
	ctx, span := startSpan(ctx, "tree", scope)
	defer func() { tracing.End(span, err) }()

	key := treeCacheKey(scope)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			recordCacheRequest(true)
			return v.([]*TreeNode), nil
		}
		recordCacheRequest(false)
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		var gen uint64
		if s.cache != nil {
			gen = s.cache.Generation(key)
		}
		nodes, err := s.loadScope(ctx, scope)
		if err != nil {
			return nil, err
		}
		built := BuildTree(nodes)
		if s.cache != nil {
			s.cache.Set(scope.TenantID, key, built, gen)
		}
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*TreeNode), nil
}

// InvalidateCache drops every cached tree of tenantID.
func (s *HierarchyService) InvalidateCache(tenantID uuid.UUID) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateTenant(tenantID)
	recordCacheInvalidate("manual")
}

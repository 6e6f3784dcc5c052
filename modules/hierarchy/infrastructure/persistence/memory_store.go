package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

var _ services.NodeStore = (*MemoryNodeStore)(nil)

type scopeData map[node.Scope]map[uuid.UUID]node.Node

type memTxKey struct{}

type memTx struct {
	data scopeData
}

// MemoryNodeStore keeps every scope in process memory. Transactions work on
// a private copy that replaces the committed data on success, so readers
// outside the transaction only ever see committed states.
type MemoryNodeStore struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	data    scopeData
}

func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{data: scopeData{}}
}

func (d scopeData) clone() scopeData {
	out := make(scopeData, len(d))
	for scope, nodes := range d {
		m := make(map[uuid.UUID]node.Node, len(nodes))
		for id, n := range nodes {
			m[id] = n.Clone()
		}
		out[scope] = m
	}
	return out
}

func (s *MemoryNodeStore) InTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	tx := &memTx{data: s.data.clone()}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = tx.data
	s.mu.Unlock()
	return nil
}

// read hands fn the data visible to ctx.
func (s *MemoryNodeStore) read(ctx context.Context, fn func(scopeData)) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		fn(tx.data)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

func (s *MemoryNodeStore) write(ctx context.Context, fn func(scopeData) error) error {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(tx.data)
	}
	return s.InTx(ctx, func(txCtx context.Context) error {
		return fn(txCtx.Value(memTxKey{}).(*memTx).data)
	})
}

func sortNodes(nodes []node.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Left != b.Left {
			return a.Left < b.Left
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.ID.String() < b.ID.String()
	})
}

func (s *MemoryNodeStore) FindByID(ctx context.Context, scope node.Scope, id uuid.UUID) (node.Node, error) {
	var (
		out   node.Node
		found bool
	)
	s.read(ctx, func(d scopeData) {
		out, found = d[scope][id]
	})
	if !found {
		return node.Node{}, errors.Wrapf(node.ErrNotFound, "node %s", id)
	}
	return out.Clone(), nil
}

func (s *MemoryNodeStore) FindByParentID(ctx context.Context, scope node.Scope, parentID uuid.UUID) ([]node.Node, error) {
	out := make([]node.Node, 0, 16)
	s.read(ctx, func(d scopeData) {
		for _, n := range d[scope] {
			if n.HasParent(parentID) {
				out = append(out, n.Clone())
			}
		}
	})
	sortNodes(out)
	return out, nil
}

func (s *MemoryNodeStore) FindDescendantsByPosition(ctx context.Context, scope node.Scope, scan position.Scan) ([]node.Node, error) {
	out := make([]node.Node, 0, 64)
	s.read(ctx, func(d scopeData) {
		for _, n := range d[scope] {
			switch scan.Encoding {
			case position.EncodingRange:
				if n.Left > scan.Left && n.Right < scan.Right {
					out = append(out, n.Clone())
				}
			default:
				if scan.Prefix != "" && strings.HasPrefix(n.Path, scan.Prefix) {
					out = append(out, n.Clone())
				}
			}
		}
	})
	sortNodes(out)
	return out, nil
}

func (s *MemoryNodeStore) FindAncestorChain(ctx context.Context, scope node.Scope, id uuid.UUID) ([]node.Node, error) {
	var (
		chain []node.Node
		found bool
	)
	s.read(ctx, func(d scopeData) {
		nodes := d[scope]
		cur, ok := nodes[id]
		if !ok {
			return
		}
		found = true
		seen := map[uuid.UUID]bool{}
		for steps := 0; steps <= len(nodes); steps++ {
			if seen[cur.ID] {
				break
			}
			seen[cur.ID] = true
			chain = append(chain, cur.Clone())
			if cur.ParentID == nil {
				break
			}
			parent, ok := nodes[*cur.ParentID]
			if !ok {
				break
			}
			cur = parent
		}
	})
	if !found {
		return nil, errors.Wrapf(node.ErrNotFound, "node %s", id)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (s *MemoryNodeStore) ListByTenant(ctx context.Context, scope node.Scope) ([]node.Node, error) {
	var out []node.Node
	s.read(ctx, func(d scopeData) {
		out = make([]node.Node, 0, len(d[scope]))
		for _, n := range d[scope] {
			out = append(out, n.Clone())
		}
	})
	sortNodes(out)
	return out, nil
}

func (s *MemoryNodeStore) BatchUpsert(ctx context.Context, scope node.Scope, nodes []node.Node) error {
	if err := checkBatch(scope, nodes); err != nil {
		return err
	}
	return s.write(ctx, func(d scopeData) error {
		m, ok := d[scope]
		if !ok {
			m = map[uuid.UUID]node.Node{}
			d[scope] = m
		}
		for _, n := range nodes {
			m[n.ID] = n.Clone()
		}
		return nil
	})
}

func (s *MemoryNodeStore) Delete(ctx context.Context, scope node.Scope, id uuid.UUID) error {
	return s.write(ctx, func(d scopeData) error {
		if _, ok := d[scope][id]; !ok {
			return errors.Wrapf(node.ErrNotFound, "node %s", id)
		}
		delete(d[scope], id)
		return nil
	})
}

func (s *MemoryNodeStore) CountByTenant(ctx context.Context, scope node.Scope) (int, error) {
	var n int
	s.read(ctx, func(d scopeData) { n = len(d[scope]) })
	return n, nil
}

func (s *MemoryNodeStore) ListTenants(ctx context.Context, kind node.Kind) ([]uuid.UUID, error) {
	out := []uuid.UUID{}
	s.read(ctx, func(d scopeData) {
		for scope, nodes := range d {
			if scope.Kind == kind && len(nodes) > 0 {
				out = append(out, scope.TenantID)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

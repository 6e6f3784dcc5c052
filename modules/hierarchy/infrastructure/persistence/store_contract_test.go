package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

var contractTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func pathNode(scope node.Scope, parent *node.Node, name string) node.Node {
	n := node.Node{
		ID:        uuid.New(),
		TenantID:  scope.TenantID,
		Kind:      scope.Kind,
		Name:      name,
		Level:     position.Level(parent),
		Status:    node.StatusActive,
		CreatedAt: contractTime,
		UpdatedAt: contractTime,
	}
	if parent != nil {
		n.ParentID = node.Ptr(parent.ID)
	}
	position.PathCodec{}.Place(nil, parent, &n)
	return n
}

// runStoreContract checks the behaviour every NodeStore must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) services.NodeStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("FindByID", func(t *testing.T) {
		store := newStore(t)
		scope := node.Scope{TenantID: uuid.New(), Kind: node.KindOrganization}
		root := pathNode(scope, nil, "Root")
		require.NoError(t, store.BatchUpsert(ctx, scope, []node.Node{root}))

		got, err := store.FindByID(ctx, scope, root.ID)
		require.NoError(t, err)
		require.Equal(t, root.Name, got.Name)
		require.Equal(t, root.Path, got.Path)
		require.Nil(t, got.ParentID)
		require.True(t, got.CreatedAt.Equal(contractTime))

		_, err = store.FindByID(ctx, scope, uuid.New())
		require.ErrorIs(t, err, node.ErrNotFound)

		other := node.Scope{TenantID: scope.TenantID, Kind: node.KindEnterprise}
		_, err = store.FindByID(ctx, other, root.ID)
		require.ErrorIs(t, err, node.ErrNotFound)
	})

	t.Run("ChildrenDescendantsAndAncestors", func(t *testing.T) {
		store := newStore(t)
		scope := node.Scope{TenantID: uuid.New(), Kind: node.KindOrganization}
		root := pathNode(scope, nil, "Root")
		a := pathNode(scope, &root, "A")
		b := pathNode(scope, &root, "B")
		a1 := pathNode(scope, &a, "A1")
		require.NoError(t, store.BatchUpsert(ctx, scope, []node.Node{root, a, b, a1}))

		children, err := store.FindByParentID(ctx, scope, root.ID)
		require.NoError(t, err)
		require.Len(t, children, 2)

		desc, err := store.FindDescendantsByPosition(ctx, scope, position.PathCodec{}.DescendantScan(a))
		require.NoError(t, err)
		require.Len(t, desc, 1)
		require.Equal(t, a1.ID, desc[0].ID)

		all, err := store.FindDescendantsByPosition(ctx, scope, position.PathCodec{}.DescendantScan(root))
		require.NoError(t, err)
		require.Len(t, all, 3)

		chain, err := store.FindAncestorChain(ctx, scope, a1.ID)
		require.NoError(t, err)
		require.Len(t, chain, 3)
		require.Equal(t, root.ID, chain[0].ID)
		require.Equal(t, a.ID, chain[1].ID)
		require.Equal(t, a1.ID, chain[2].ID)

		_, err = store.FindAncestorChain(ctx, scope, uuid.New())
		require.ErrorIs(t, err, node.ErrNotFound)
	})

	t.Run("AncestorChainStopsOnLoop", func(t *testing.T) {
		store := newStore(t)
		scope := node.Scope{TenantID: uuid.New(), Kind: node.KindEnterprise}
		x := pathNode(scope, nil, "X")
		y := pathNode(scope, &x, "Y")
		x.ParentID = node.Ptr(y.ID)
		require.NoError(t, store.BatchUpsert(ctx, scope, []node.Node{x, y}))

		chain, err := store.FindAncestorChain(ctx, scope, y.ID)
		require.NoError(t, err)
		require.Len(t, chain, 2)
	})

	t.Run("RangeScan", func(t *testing.T) {
		store := newStore(t)
		scope := node.Scope{TenantID: uuid.New(), Kind: node.KindDepartment}
		root := node.Node{ID: uuid.New(), TenantID: scope.TenantID, Kind: scope.Kind, Name: "R", Level: 1,
			Position: node.Position{Left: 1, Right: 6}, Status: node.StatusActive, CreatedAt: contractTime, UpdatedAt: contractTime}
		c1 := node.Node{ID: uuid.New(), TenantID: scope.TenantID, Kind: scope.Kind, ParentID: node.Ptr(root.ID), Name: "C1", Level: 2,
			Position: node.Position{Left: 2, Right: 3}, Status: node.StatusActive, CreatedAt: contractTime, UpdatedAt: contractTime}
		c2 := node.Node{ID: uuid.New(), TenantID: scope.TenantID, Kind: scope.Kind, ParentID: node.Ptr(root.ID), Name: "C2", Level: 2,
			Position: node.Position{Left: 4, Right: 5}, Status: node.StatusActive, CreatedAt: contractTime, UpdatedAt: contractTime}
		require.NoError(t, store.BatchUpsert(ctx, scope, []node.Node{root, c1, c2}))

		desc, err := store.FindDescendantsByPosition(ctx, scope, position.RangeCodec{}.DescendantScan(root))
		require.NoError(t, err)
		require.Len(t, desc, 2)
		require.Equal(t, c1.ID, desc[0].ID)

		leaf, err := store.FindDescendantsByPosition(ctx, scope, position.RangeCodec{}.DescendantScan(c1))
		require.NoError(t, err)
		require.Empty(t, leaf)
	})

	t.Run("UpsertDeleteCount", func(t *testing.T) {
		store := newStore(t)
		scope := node.Scope{TenantID: uuid.New(), Kind: node.KindOrganization}
		root := pathNode(scope, nil, "Root")
		require.NoError(t, store.BatchUpsert(ctx, scope, []node.Node{root}))

		root.Name = "Renamed"
		root.Status = node.StatusInactive
		require.NoError(t, store.BatchUpsert(ctx, scope, []node.Node{root}))
		got, err := store.FindByID(ctx, scope, root.ID)
		require.NoError(t, err)
		require.Equal(t, "Renamed", got.Name)
		require.Equal(t, node.StatusInactive, got.Status)

		count, err := store.CountByTenant(ctx, scope)
		require.NoError(t, err)
		require.Equal(t, 1, count)

		tenants, err := store.ListTenants(ctx, scope.Kind)
		require.NoError(t, err)
		require.Contains(t, tenants, scope.TenantID)

		require.NoError(t, store.Delete(ctx, scope, root.ID))
		require.ErrorIs(t, store.Delete(ctx, scope, root.ID), node.ErrNotFound)
		count, err = store.CountByTenant(ctx, scope)
		require.NoError(t, err)
		require.Zero(t, count)
	})

	t.Run("BatchUpsertRejectsForeignScope", func(t *testing.T) {
		store := newStore(t)
		scope := node.Scope{TenantID: uuid.New(), Kind: node.KindOrganization}
		stray := pathNode(node.Scope{TenantID: uuid.New(), Kind: node.KindOrganization}, nil, "Stray")
		require.Error(t, store.BatchUpsert(ctx, scope, []node.Node{stray}))
	})

	t.Run("InTxRollsBack", func(t *testing.T) {
		store := newStore(t)
		scope := node.Scope{TenantID: uuid.New(), Kind: node.KindOrganization}
		root := pathNode(scope, nil, "Root")

		err := store.InTx(ctx, func(txCtx context.Context) error {
			require.NoError(t, store.BatchUpsert(txCtx, scope, []node.Node{root}))
			_, err := store.FindByID(txCtx, scope, root.ID)
			require.NoError(t, err)
			return context.Canceled
		})
		require.ErrorIs(t, err, context.Canceled)

		_, err = store.FindByID(ctx, scope, root.ID)
		require.ErrorIs(t, err, node.ErrNotFound)
	})

	t.Run("LikeWildcardsInPrefixAreLiteral", func(t *testing.T) {
		store := newStore(t)
		scope := node.Scope{TenantID: uuid.New(), Kind: node.KindEnterprise}
		a := pathNode(scope, nil, "A")
		a.Path = "a_b"
		b := pathNode(scope, nil, "B")
		b.Path = "axb/child"
		require.NoError(t, store.BatchUpsert(ctx, scope, []node.Node{a, b}))

		got, err := store.FindDescendantsByPosition(ctx, scope, position.Scan{Encoding: position.EncodingPath, Prefix: "a_b/"})
		require.NoError(t, err)
		require.Empty(t, got)
	})
}

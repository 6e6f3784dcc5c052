package services_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
)

type inStoreTxKey struct{}

// tenantBoundStore hides every row from scope reads made outside a
// transaction bound to the scope's tenant, the way the tenant_isolation
// policy does on Postgres.
type tenantBoundStore struct {
	*persistence.MemoryNodeStore
}

func (s *tenantBoundStore) InTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return s.MemoryNodeStore.InTx(ctx, func(txCtx context.Context) error {
		return fn(context.WithValue(txCtx, inStoreTxKey{}, true))
	})
}

func (s *tenantBoundStore) visible(ctx context.Context, scope node.Scope) bool {
	inTx, _ := ctx.Value(inStoreTxKey{}).(bool)
	tenantID, err := composables.UseTenantID(ctx)
	return inTx && err == nil && tenantID == scope.TenantID
}

func (s *tenantBoundStore) ListByTenant(ctx context.Context, scope node.Scope) ([]node.Node, error) {
	if !s.visible(ctx, scope) {
		return []node.Node{}, nil
	}
	return s.MemoryNodeStore.ListByTenant(ctx, scope)
}

func (s *tenantBoundStore) FindAncestorChain(ctx context.Context, scope node.Scope, id uuid.UUID) ([]node.Node, error) {
	if !s.visible(ctx, scope) {
		return nil, node.ErrNotFound
	}
	return s.MemoryNodeStore.FindAncestorChain(ctx, scope, id)
}

func TestScopeReadsRunInTenantTransaction(t *testing.T) {
	store := &tenantBoundStore{MemoryNodeStore: persistence.NewMemoryNodeStore()}
	svc := services.NewHierarchyService(store, services.DefaultPolicy(), services.WithLogger(quietLogger()))
	ctx := context.Background()
	tenant := uuid.New()
	dept := node.Scope{TenantID: tenant, Kind: node.KindDepartment}
	ent := node.Scope{TenantID: tenant, Kind: node.KindEnterprise}

	droot, err := svc.CreateUnderParent(ctx, dept, services.CreateNodeInput{Name: "Head Office"})
	require.NoError(t, err)
	_, err = svc.CreateUnderParent(ctx, dept, services.CreateNodeInput{Name: "Sales", ParentID: node.Ptr(droot.ID)})
	require.NoError(t, err)

	eroot, err := svc.CreateUnderParent(ctx, ent, services.CreateNodeInput{Name: "Plant"})
	require.NoError(t, err)
	eleaf, err := svc.CreateUnderParent(ctx, ent, services.CreateNodeInput{Name: "Line", ParentID: node.Ptr(eroot.ID)})
	require.NoError(t, err)
	eleaf.Level = 5
	require.NoError(t, store.BatchUpsert(ctx, ent, []node.Node{eleaf}))

	t.Run("Tree", func(t *testing.T) {
		roots, err := svc.Tree(ctx, dept)
		require.NoError(t, err)
		require.Len(t, roots, 1)
		require.Len(t, roots[0].Children, 1)
	})

	t.Run("StructureHealth", func(t *testing.T) {
		rep, err := svc.StructureHealth(ctx, tenant)
		require.NoError(t, err)
		for _, k := range rep.Kinds {
			if k.Kind == node.KindDepartment || k.Kind == node.KindEnterprise {
				require.Equal(t, 2, k.Nodes, k.Kind)
			}
		}
	})

	t.Run("WouldCreateCycle", func(t *testing.T) {
		cycle, err := svc.WouldCreateCycle(ctx, ent, eroot.ID, eleaf.ID)
		require.NoError(t, err)
		require.True(t, cycle)
	})

	t.Run("AuditAndRepair", func(t *testing.T) {
		rep, err := svc.AuditAndRepair(ctx, ent, services.AuditOptions{})
		require.NoError(t, err)
		require.Equal(t, 2, rep.NodesTotal)
		require.Equal(t, 1, rep.Repairs())
		fixed, err := store.FindByID(ctx, ent, eleaf.ID)
		require.NoError(t, err)
		require.Equal(t, 2, fixed.Level)
	})
}

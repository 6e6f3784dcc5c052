package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

func seedDriftedTenant(t *testing.T, store *persistence.MemoryNodeStore, svc *services.HierarchyService) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	tenant := uuid.New()
	scope := node.Scope{TenantID: tenant, Kind: node.KindEnterprise}
	root, err := svc.CreateUnderParent(ctx, scope, services.CreateNodeInput{Name: "Root"})
	require.NoError(t, err)
	child, err := svc.CreateUnderParent(ctx, scope, services.CreateNodeInput{Name: "Child", ParentID: node.Ptr(root.ID)})
	require.NoError(t, err)
	child.Level = 5
	require.NoError(t, store.BatchUpsert(ctx, scope, []node.Node{child}))
	return tenant
}

func TestAuditScheduler_RunOnceRepairsEveryTenant(t *testing.T) {
	store := persistence.NewMemoryNodeStore()
	svc := services.NewHierarchyService(store, services.DefaultPolicy(), services.WithLogger(quietLogger()))
	t1 := seedDriftedTenant(t, store, svc)
	t2 := seedDriftedTenant(t, store, svc)

	var mu sync.Mutex
	repaired := map[uuid.UUID]int{}
	sched, err := services.NewAuditScheduler(svc, services.SchedulerOptions{
		Logger: quietLogger(),
		OnReport: func(rep *services.AuditReport) {
			mu.Lock()
			defer mu.Unlock()
			repaired[rep.TenantID] += rep.Repairs()
		},
	})
	require.NoError(t, err)
	require.NoError(t, sched.RunOnce(context.Background()))

	require.Equal(t, 1, repaired[t1])
	require.Equal(t, 1, repaired[t2])
}

func TestAuditScheduler_RunStopsWithContext(t *testing.T) {
	store := persistence.NewMemoryNodeStore()
	svc := services.NewHierarchyService(store, services.DefaultPolicy(), services.WithLogger(quietLogger()))
	seedDriftedTenant(t, store, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reports := make(chan *services.AuditReport, 16)
	sched, err := services.NewAuditScheduler(svc, services.SchedulerOptions{
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
		Logger:     quietLogger(),
		OnReport:   func(rep *services.AuditReport) { reports <- rep },
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	first := <-reports
	require.Equal(t, 1, first.Repairs())
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewAuditScheduler_RequiresService(t *testing.T) {
	_, err := services.NewAuditScheduler(nil, services.SchedulerOptions{})
	require.Error(t, err)
}

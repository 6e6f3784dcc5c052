package services_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

func TestStructureAdvice(t *testing.T) {
	cases := []struct {
		name        string
		maxDepth    int
		nodes       int
		avgChildren float64
		want        services.Advice
	}{
		{name: "deep and thin", maxDepth: 7, nodes: 50, avgChildren: 1.5, want: services.AdviceTooDeep},
		{name: "wide and shallow", maxDepth: 2, nodes: 40, avgChildren: 12, want: services.AdviceTooFlat},
		{name: "large and shallow", maxDepth: 3, nodes: 150, avgChildren: 5, want: services.AdviceAddManagementLayers},
		{name: "small and deep", maxDepth: 5, nodes: 10, avgChildren: 3, want: services.AdviceSimplify},
		{name: "balanced", maxDepth: 4, nodes: 60, avgChildren: 4, want: services.AdviceReasonable},
		{name: "empty", want: services.AdviceReasonable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, services.StructureAdvice(tc.maxDepth, tc.nodes, tc.avgChildren))
		})
	}
}

func TestStructureHealth(t *testing.T) {
	f := newFixture(t, services.DefaultPolicy())
	root := f.create(t, node.KindDepartment, nil, "Root")
	a := f.create(t, node.KindDepartment, &root, "A")
	f.create(t, node.KindDepartment, &root, "B")
	a1 := f.create(t, node.KindDepartment, &a, "A1")
	_, err := f.svc.ChangeStatus(f.ctx, f.scope(node.KindDepartment), a1.ID, node.StatusInactive)
	require.NoError(t, err)

	drift := f.get(t, node.KindDepartment, a1.ID)
	drift.Level = 9
	f.overwrite(t, node.KindDepartment, drift)

	rep, err := f.svc.StructureHealth(f.ctx, f.tenant)
	require.NoError(t, err)
	require.Equal(t, f.tenant, rep.TenantID)
	require.Len(t, rep.Kinds, len(node.Kinds))

	byKind := map[node.Kind]services.KindHealth{}
	for _, k := range rep.Kinds {
		byKind[k.Kind] = k
	}
	dept := byKind[node.KindDepartment]
	require.Equal(t, 4, dept.Nodes)
	require.Equal(t, 3, dept.Active)
	require.Equal(t, 1, dept.Roots)
	require.Equal(t, 3, dept.MaxDepth)
	require.InDelta(t, 0.75, dept.AvgChildren, 0.001)
	require.Equal(t, services.AdviceReasonable, dept.Advice)
	require.Equal(t, 1, dept.IssuesTotal)
	require.Len(t, dept.TopIssues, 1)
	require.InDelta(t, (300.0+85.0)/4.0, dept.Score, 0.001)

	org := byKind[node.KindOrganization]
	require.Zero(t, org.Nodes)
	require.InDelta(t, 100.0, org.Score, 0.001)

	// health never repairs
	require.Equal(t, 9, f.get(t, node.KindDepartment, a1.ID).Level)
}

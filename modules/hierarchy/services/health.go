package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/pkg/tracing"
)

type Advice string

const (
	AdviceTooDeep             Advice = "too_deep"
	AdviceTooFlat             Advice = "too_flat"
	AdviceAddManagementLayers Advice = "add_management_layers"
	AdviceSimplify            Advice = "simplify"
	AdviceReasonable          Advice = "reasonable"
)

const topIssuesLimit = 5

// StructureAdvice grades the shape of a tree set. The first matching rule
// wins.
func StructureAdvice(maxDepth, nodes int, avgChildren float64) Advice {
	switch {
	case maxDepth > 6 && avgChildren < 3:
		return AdviceTooDeep
	case maxDepth < 3 && avgChildren > 10:
		return AdviceTooFlat
	case nodes > 100 && maxDepth < 4:
		return AdviceAddManagementLayers
	case nodes < 20 && maxDepth > 4:
		return AdviceSimplify
	default:
		return AdviceReasonable
	}
}

type KindHealth struct {
	Kind        node.Kind         `json:"kind"`
	Encoding    position.Encoding `json:"encoding"`
	Nodes       int               `json:"nodes"`
	Active      int               `json:"active"`
	Roots       int               `json:"roots"`
	MaxDepth    int               `json:"max_depth"`
	AvgChildren float64           `json:"avg_children"`
	Advice      Advice            `json:"advice"`
	Score       float64           `json:"score"`
	IssuesTotal int               `json:"issues_total"`
	TopIssues   []AuditIssue      `json:"top_issues"`
}

type HealthReport struct {
	TenantID    uuid.UUID    `json:"tenant_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	Kinds       []KindHealth `json:"kinds"`
}

func (s *HierarchyService) kindHealth(scope node.Scope, nodes []node.Node) KindHealth {
	h := KindHealth{
		Kind:     scope.Kind,
		Encoding: s.codec(scope.Kind).Encoding(),
		Nodes:    len(nodes),
	}
	forest := position.NewForest(nodes)
	childCount := 0
	for _, n := range nodes {
		if n.Status == node.StatusActive {
			h.Active++
		}
		if n.IsRoot() {
			h.Roots++
		}
		childCount += len(forest.Children(n.ID))
	}
	depth := make(map[uuid.UUID]int, len(nodes))
	forest.Walk(func(v position.Visit) {
		d := 1
		if !v.Anchor {
			d = depth[v.Parent.ID] + 1
		}
		depth[v.Node.ID] = d
		if d > h.MaxDepth {
			h.MaxDepth = d
		}
	}, nil)
	if len(nodes) > 0 {
		h.AvgChildren = float64(childCount) / float64(len(nodes))
	}
	h.Advice = StructureAdvice(h.MaxDepth, h.Nodes, h.AvgChildren)

	in := s.inspect(scope, nodes)
	h.Score = in.report.ScoreBefore
	h.IssuesTotal = len(in.report.Issues)
	h.TopIssues = in.report.TopIssues(topIssuesLimit)
	return h
}

// StructureHealth reports counts, depth, fan-out, advice and the heaviest
// audit findings for every kind of a tenant. Nothing is written.
func (s *HierarchyService) StructureHealth(ctx context.Context, tenantID uuid.UUID) (report *HealthReport, err error) {
	ctx, span := tracing.Start(ctx, "hierarchy.health", attribute.String("tenant_id", tenantID.String()))
	defer func() {
		tracing.End(span, err)
		recordOperation("health", err)
	}()

	kinds := make([]KindHealth, len(node.Kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range node.Kinds {
		i, kind := i, kind
		g.Go(func() error {
			scope := node.Scope{TenantID: tenantID, Kind: kind}
			nodes, err := s.loadScope(gctx, scope)
			if err != nil {
				return err
			}
			kinds[i] = s.kindHealth(scope, nodes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(kinds, func(i, j int) bool { return kinds[i].Kind < kinds[j].Kind })
	return &HealthReport{TenantID: tenantID, GeneratedAt: s.clock(), Kinds: kinds}, nil
}

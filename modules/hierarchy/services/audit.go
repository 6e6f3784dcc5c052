package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/events"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/pkg/composables"
	"github.com/iota-uz/orgtree/pkg/tracing"
)

type IssueCategory string

const (
	IssueOrphanedParent   IssueCategory = "orphaned_parent"
	IssueCycle            IssueCategory = "cycle"
	IssueDepthViolation   IssueCategory = "depth_violation"
	IssueLevelMismatch    IssueCategory = "level_mismatch"
	IssueEncodingMismatch IssueCategory = "encoding_mismatch"
)

var issuePenalty = map[IssueCategory]int{
	IssueOrphanedParent:   40,
	IssueCycle:            50,
	IssueDepthViolation:   20,
	IssueLevelMismatch:    15,
	IssueEncodingMismatch: 15,
}

func (c IssueCategory) Penalty() int {
	return issuePenalty[c]
}

func (c IssueCategory) Repairable() bool {
	return c == IssueLevelMismatch || c == IssueEncodingMismatch
}

func (c IssueCategory) Severity() string {
	switch c {
	case IssueOrphanedParent, IssueCycle:
		return "error"
	default:
		return "warning"
	}
}

type AuditIssue struct {
	NodeID   uuid.UUID      `json:"node_id"`
	Name     string         `json:"name"`
	Category IssueCategory  `json:"category"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Repaired bool           `json:"repaired"`
}

type AuditOptions struct {
	DryRun bool
	// BatchSize overrides Policy.AuditBatchSize when positive.
	BatchSize int
}

type AuditReport struct {
	TenantID     uuid.UUID             `json:"tenant_id"`
	Kind         node.Kind             `json:"kind"`
	Encoding     position.Encoding     `json:"encoding"`
	NodesTotal   int                   `json:"nodes_total"`
	PathRepairs  int                   `json:"path_repairs"`
	LevelRepairs int                   `json:"level_repairs"`
	Issues       []AuditIssue          `json:"issues"`
	Categories   map[IssueCategory]int `json:"categories"`
	ScoreBefore  float64               `json:"score_before"`
	Score        float64               `json:"score"`
	Batches      int                   `json:"batches"`
	Completed    bool                  `json:"completed"`
	DryRun       bool                  `json:"dry_run"`
	StartedAt    time.Time             `json:"started_at"`
	Duration     time.Duration         `json:"duration"`
}

// Repairs is the number of nodes written back.
func (r *AuditReport) Repairs() int {
	n := 0
	seen := map[uuid.UUID]bool{}
	for _, is := range r.Issues {
		if is.Repaired && !seen[is.NodeID] {
			seen[is.NodeID] = true
			n++
		}
	}
	return n
}

// TopIssues returns up to n issues, heaviest penalty first.
func (r *AuditReport) TopIssues(n int) []AuditIssue {
	out := append([]AuditIssue(nil), r.Issues...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Category.Penalty() > out[j].Category.Penalty()
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// inspection is the read-only half of an audit.
type inspection struct {
	report  *AuditReport
	repairs []node.Node
	issueAt map[uuid.UUID][]int
	// penalties that stay whether or not repairs are written
	fixed map[uuid.UUID]int
	// penalties that go away once the node is repaired
	repairable map[uuid.UUID]int
}

func (s *HierarchyService) inspect(scope node.Scope, nodes []node.Node) *inspection {
	codec := s.codec(scope.Kind)
	limit := s.policy.For(scope.Kind).MaxDepth

	in := &inspection{
		report: &AuditReport{
			TenantID:   scope.TenantID,
			Kind:       scope.Kind,
			Encoding:   codec.Encoding(),
			NodesTotal: len(nodes),
			Issues:     []AuditIssue{},
			Categories: map[IssueCategory]int{},
		},
		issueAt:    map[uuid.UUID][]int{},
		fixed:      map[uuid.UUID]int{},
		repairable: map[uuid.UUID]int{},
	}
	add := func(n node.Node, c IssueCategory, msg string, details map[string]any) {
		in.issueAt[n.ID] = append(in.issueAt[n.ID], len(in.report.Issues))
		in.report.Issues = append(in.report.Issues, AuditIssue{
			NodeID:   n.ID,
			Name:     n.Name,
			Category: c,
			Severity: c.Severity(),
			Message:  msg,
			Details:  details,
		})
		in.report.Categories[c]++
		if c.Repairable() {
			in.repairable[n.ID] += c.Penalty()
		} else {
			in.fixed[n.ID] += c.Penalty()
		}
	}

	forest := position.NewForest(nodes)
	breaks := forest.Breaks()
	expected := position.Expected(codec, forest)

	for _, n := range nodes {
		if b, broken := breaks[n.ID]; broken {
			details := map[string]any{"origin_id": b.Origin.String()}
			if n.ParentID != nil {
				details["parent_id"] = n.ParentID.String()
			}
			if b.Kind == position.BreakCycle {
				add(n, IssueCycle, "node sits on or below a parent cycle", details)
			} else {
				add(n, IssueOrphanedParent, "parent chain does not reach a root", details)
			}
			continue
		}

		want := expected[n.ID]
		repaired := n.Clone()
		needs := false
		if n.Level != want.Level {
			add(n, IssueLevelMismatch, "stored level differs from parent chain", map[string]any{
				"stored": n.Level, "expected": want.Level,
			})
			repaired.Level = want.Level
			needs = true
		}
		if !codec.Matches(n.Position, want.Position) {
			add(n, IssueEncodingMismatch, "stored position differs from parent chain", map[string]any{
				"stored": n.Position, "expected": want.Position,
			})
			repaired.Position = want.Position
			needs = true
		}
		if want.Level > limit {
			add(n, IssueDepthViolation, "node sits deeper than the kind allows", map[string]any{
				"level": want.Level, "limit": limit,
			})
		}
		if needs {
			in.repairs = append(in.repairs, repaired)
		}
	}

	sort.SliceStable(in.repairs, func(i, j int) bool {
		a, b := in.repairs[i], in.repairs[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.Left < b.Left
	})
	in.report.ScoreBefore = in.score(nil)
	return in
}

// score averages per-node scores. Penalties of nodes in repaired are
// dropped except the fixed ones.
func (in *inspection) score(repaired map[uuid.UUID]bool) float64 {
	total := in.report.NodesTotal
	if total == 0 {
		return 100
	}
	sum := 0.0
	for _, id := range in.allIDs() {
		penalty := in.fixed[id]
		if !repaired[id] {
			penalty += in.repairable[id]
		}
		if penalty > 100 {
			penalty = 100
		}
		sum += float64(100 - penalty)
	}
	clean := total - len(in.allIDs())
	sum += float64(clean * 100)
	return sum / float64(total)
}

func (in *inspection) allIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(in.issueAt))
	for id := range in.issueAt {
		out = append(out, id)
	}
	return out
}

func (in *inspection) batches(size int, single bool) [][]node.Node {
	if len(in.repairs) == 0 {
		return nil
	}
	if single || size <= 0 || size >= len(in.repairs) {
		return [][]node.Node{in.repairs}
	}
	out := make([][]node.Node, 0, len(in.repairs)/size+1)
	for start := 0; start < len(in.repairs); start += size {
		end := start + size
		if end > len(in.repairs) {
			end = len(in.repairs)
		}
		out = append(out, in.repairs[start:end])
	}
	return out
}

// AuditAndRepair compares every stored level and position of the scope with
// what the parent pointers imply and, unless opts.DryRun, writes the implied
// values back. Orphans, cycles and depth violations are only reported.
// Cancelling ctx between batches stops the run with Completed false; every
// batch already written stays consistent.
func (s *HierarchyService) AuditAndRepair(ctx context.Context, scope node.Scope, opts AuditOptions) (report *AuditReport, err error) {
	ctx, span := startSpan(ctx, "audit", scope)
	defer func() {
		tracing.End(span, err)
		recordOperation("audit", err)
	}()

	release, err := s.lock(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer release()

	started := s.clock()
	nodes, err := s.loadScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	in := s.inspect(scope, nodes)
	report = in.report
	report.StartedAt = started
	report.DryRun = opts.DryRun

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.policy.AuditBatchSize
	}
	codec := s.codec(scope.Kind)
	now := s.clock()

	repaired := map[uuid.UUID]bool{}
	report.Completed = true
	if !opts.DryRun {
		for _, batch := range in.batches(batchSize, codec.NeedsForest()) {
			if ctx.Err() != nil {
				report.Completed = false
				break
			}
			stamp(batch, now)
			if err := s.store.InTx(composables.WithTenantID(ctx, scope.TenantID), func(txCtx context.Context) error {
				return s.store.BatchUpsert(txCtx, scope, batch)
			}); err != nil {
				if ctx.Err() != nil {
					report.Completed = false
					break
				}
				return nil, mapStoreError(err)
			}
			report.Batches++
			for _, n := range batch {
				repaired[n.ID] = true
			}
		}
	}

	for id := range repaired {
		for _, idx := range in.issueAt[id] {
			is := &report.Issues[idx]
			if !is.Category.Repairable() {
				continue
			}
			is.Repaired = true
			switch is.Category {
			case IssueLevelMismatch:
				report.LevelRepairs++
			case IssueEncodingMismatch:
				report.PathRepairs++
			}
		}
	}
	report.Score = in.score(repaired)
	report.Duration = s.clock().Sub(started)

	hierarchyAuditScore.WithLabelValues(string(scope.Kind)).Set(report.Score)
	if report.LevelRepairs > 0 {
		hierarchyAuditRepairs.WithLabelValues(string(scope.Kind), "level").Add(float64(report.LevelRepairs))
	}
	if report.PathRepairs > 0 {
		hierarchyAuditRepairs.WithLabelValues(string(scope.Kind), "position").Add(float64(report.PathRepairs))
	}

	if len(repaired) > 0 {
		s.invalidate(ctx, "repair", scope)
		s.publish(context.WithoutCancel(ctx), scope, events.ChangeTreeRepaired, uuid.Nil, len(repaired), nil, map[string]any{
			"level_repairs": report.LevelRepairs,
			"path_repairs":  report.PathRepairs,
			"score":         report.Score,
		})
	}

	fields := scopeFields(scope, events.ChangeTreeRepaired, uuid.Nil)
	fields["nodes"] = report.NodesTotal
	fields["issues"] = len(report.Issues)
	fields["level_repairs"] = report.LevelRepairs
	fields["path_repairs"] = report.PathRepairs
	fields["score_before"] = report.ScoreBefore
	fields["score"] = report.Score
	fields["completed"] = report.Completed
	fields["dry_run"] = report.DryRun
	level := logrus.InfoLevel
	if !report.Completed {
		level = logrus.WarnLevel
	}
	s.logWithFields(ctx, level, "hierarchy.audit.finished", fields)
	return report, nil
}

// AuditTenant audits every kind of a tenant in turn.
func (s *HierarchyService) AuditTenant(ctx context.Context, tenantID uuid.UUID, opts AuditOptions) ([]*AuditReport, error) {
	out := make([]*AuditReport, 0, len(node.Kinds))
	for _, kind := range node.Kinds {
		rep, err := s.AuditAndRepair(ctx, node.Scope{TenantID: tenantID, Kind: kind}, opts)
		if err != nil {
			return out, err
		}
		out = append(out, rep)
		if !rep.Completed {
			break
		}
	}
	return out, nil
}

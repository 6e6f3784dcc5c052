package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/configuration"
	"github.com/iota-uz/orgtree/pkg/metrics"
)

const auditReportSchemaVersion = 1

type auditReportV1 struct {
	SchemaVersion int                     `json:"schema_version"`
	RunID         uuid.UUID               `json:"run_id"`
	TenantID      uuid.UUID               `json:"tenant_id"`
	GeneratedAt   time.Time               `json:"generated_at"`
	DryRun        bool                    `json:"dry_run"`
	Reports       []*services.AuditReport `json:"reports"`
}

type auditSummary struct {
	Status      string   `json:"status"`
	RunID       string   `json:"run_id"`
	TenantID    string   `json:"tenant_id"`
	Kinds       []string `json:"kinds"`
	Output      string   `json:"output,omitempty"`
	IssuesTotal int      `json:"issues_total"`
	Repairs     int      `json:"repairs"`
	MinScore    float64  `json:"min_score"`
	Completed   bool     `json:"completed"`
	DryRun      bool     `json:"dry_run"`
}

func summarize(report *auditReportV1, output string) auditSummary {
	s := auditSummary{
		Status:    "ok",
		RunID:     report.RunID.String(),
		TenantID:  report.TenantID.String(),
		Output:    output,
		MinScore:  100,
		Completed: true,
		DryRun:    report.DryRun,
	}
	for _, rep := range report.Reports {
		s.Kinds = append(s.Kinds, string(rep.Kind))
		s.IssuesTotal += len(rep.Issues)
		s.Repairs += rep.Repairs()
		if rep.Score < s.MinScore {
			s.MinScore = rep.Score
		}
		if !rep.Completed {
			s.Completed = false
			s.Status = "interrupted"
		}
	}
	return s
}

func runAudit(ctx context.Context, svc *services.HierarchyService, tenantID uuid.UUID, kinds []node.Kind, opts services.AuditOptions) (*auditReportV1, error) {
	report := &auditReportV1{
		SchemaVersion: auditReportSchemaVersion,
		RunID:         uuid.New(),
		TenantID:      tenantID,
		GeneratedAt:   time.Now().UTC(),
		DryRun:        opts.DryRun,
		Reports:       make([]*services.AuditReport, 0, len(kinds)),
	}
	for _, kind := range kinds {
		rep, err := svc.AuditAndRepair(ctx, node.Scope{TenantID: tenantID, Kind: kind}, opts)
		if err != nil {
			return report, err
		}
		report.Reports = append(report.Reports, rep)
		if !rep.Completed {
			break
		}
	}
	return report, nil
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conf := configuration.Use()
			log := conf.Logger()
			switch root.backend {
			case backendMemory:
			case backendSQLite:
				store, err := persistence.OpenSQLiteNodeStore(ctx, root.sqlitePath, log)
				if err != nil {
					return withCode(exitDB, err)
				}
				_ = store.Close()
			default:
				pool, err := openPool(ctx, conf)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := persistence.MigratePostgres(ctx, pool, log); err != nil {
					return withCode(exitDBWrite, err)
				}
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]string{"status": "ok", "backend": root.backend})
		},
	}
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	var (
		outputDir    string
		failOnIssues bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Write a dry-run audit report for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := root.tenantID()
			if err != nil {
				return err
			}
			kinds, err := root.kinds()
			if err != nil {
				return err
			}
			if strings.TrimSpace(outputDir) == "" {
				outputDir = "."
			}
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := runAudit(rt.withRequest(cmd.Context(), "check"), rt.svc, tenantID, kinds, services.AuditOptions{DryRun: true})
			if err != nil {
				return withServiceCode(err, exitDB)
			}
			outPath := filepath.Join(outputDir, fmt.Sprintf("hierarchy_audit_report.%s.json", report.RunID))
			if err := writeJSONFile(outPath, report); err != nil {
				return err
			}
			summary := summarize(report, outPath)
			if err := writeJSONLine(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if failOnIssues && summary.IssuesTotal > 0 {
				return withCode(exitValidation, fmt.Errorf("%d hierarchy issues found", summary.IssuesTotal))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outputDir, "output", ".", "Output directory for the report file")
	cmd.Flags().BoolVar(&failOnIssues, "fail-on-issues", false, "Exit 2 when the report has issues")
	return cmd
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	var (
		opts     services.AuditOptions
		watch    bool
		interval time.Duration
		serve    bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Repair level and position drift for a tenant, or for every tenant with --watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			if watch {
				return runWatch(cmd, rt, opts, interval, serve)
			}

			tenantID, err := root.tenantID()
			if err != nil {
				return err
			}
			kinds, err := root.kinds()
			if err != nil {
				return err
			}
			report, err := runAudit(rt.withRequest(cmd.Context(), "audit"), rt.svc, tenantID, kinds, opts)
			if err != nil {
				return withServiceCode(err, exitDBWrite)
			}
			return writeJSONLine(cmd.OutOrStdout(), summarize(report, ""))
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Report drift without writing")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "Nodes per repair transaction (default from policy)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep auditing every tenant on --interval until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Audit interval for --watch (default HIERARCHY_AUDIT_INTERVAL)")
	cmd.Flags().BoolVar(&serve, "metrics", false, "Serve Prometheus metrics while watching")
	return cmd
}

func runWatch(cmd *cobra.Command, rt *runtime, opts services.AuditOptions, interval time.Duration, serve bool) error {
	if interval <= 0 {
		interval = rt.conf.Hierarchy.AuditInterval
	}
	out := cmd.OutOrStdout()
	sched, err := services.NewAuditScheduler(rt.svc, services.SchedulerOptions{
		Interval:   interval,
		RunOnStart: true,
		Audit:      opts,
		Logger:     rt.log,
		OnReport: func(rep *services.AuditReport) {
			_ = writeJSONLine(out, rep)
		},
	})
	if err != nil {
		return withCode(exitUsage, err)
	}

	ctx := rt.withRequest(cmd.Context(), "audit-watch")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if serve || rt.conf.Prometheus.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, rt.conf.Prometheus, rt.log)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return withServiceCode(err, exitDBWrite)
	}
	return nil
}

func newHealthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report structure health of every kind for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := root.tenantID()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			rep, err := rt.svc.StructureHealth(rt.withRequest(cmd.Context(), "health"), tenantID)
			if err != nil {
				return withServiceCode(err, exitDB)
			}
			return writeJSONLine(cmd.OutOrStdout(), rep)
		},
	}
}

package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

type SchedulerOptions struct {
	Interval time.Duration
	// RunOnStart audits once before the first tick.
	RunOnStart bool
	Audit      AuditOptions
	Logger     *logrus.Logger
	// OnReport is called with every finished report.
	OnReport func(*AuditReport)
}

// AuditScheduler repairs every tenant of every kind on a fixed interval.
type AuditScheduler struct {
	svc  *HierarchyService
	opts SchedulerOptions
}

func NewAuditScheduler(svc *HierarchyService, opts SchedulerOptions) (*AuditScheduler, error) {
	if svc == nil {
		return nil, errors.New("audit scheduler: service is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = svc.log
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &AuditScheduler{svc: svc, opts: opts}, nil
}

// Run blocks until ctx is done.
func (a *AuditScheduler) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("audit scheduler: ctx is required")
	}
	if a.opts.RunOnStart {
		if err := a.RunOnce(ctx); err != nil && isContextErr(err) {
			return err
		}
	}

	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := a.RunOnce(ctx); err != nil {
			if isContextErr(err) {
				return err
			}
			a.opts.Logger.WithError(err).Warn("hierarchy: audit tick failed")
		}
	}
}

// RunOnce audits every tenant found in the store. A failing scope is logged
// and skipped; the last such error is returned.
func (a *AuditScheduler) RunOnce(ctx context.Context) error {
	var lastErr error
	for _, kind := range node.Kinds {
		tenants, err := a.svc.store.ListTenants(ctx, kind)
		if err != nil {
			return mapStoreError(err)
		}
		for _, tenantID := range tenants {
			if err := ctx.Err(); err != nil {
				return err
			}
			scope := node.Scope{TenantID: tenantID, Kind: kind}
			rep, err := a.svc.AuditAndRepair(ctx, scope, a.opts.Audit)
			if err != nil {
				if isContextErr(err) {
					return err
				}
				a.opts.Logger.WithError(err).WithFields(logrus.Fields{
					"tenant_id": tenantID.String(),
					"kind":      string(kind),
				}).Warn("hierarchy: scheduled audit failed")
				lastErr = err
				continue
			}
			if a.opts.OnReport != nil {
				a.opts.OnReport(rep)
			}
			if !rep.Completed {
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

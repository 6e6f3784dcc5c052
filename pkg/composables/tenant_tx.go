package composables

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/orgtree/pkg/configuration"
	"github.com/iota-uz/orgtree/pkg/constants"
)

// txSettings are the transaction-local settings applied to every tenant
// transaction.
type txSettings struct {
	tenant      string
	lockTimeout string
}

func settingsFor(ctx context.Context, conf *configuration.Configuration) (txSettings, error) {
	var s txSettings
	if conf.RLSEnforce == "enforce" {
		tenantID, err := UseTenantID(ctx)
		if err != nil {
			return s, fmt.Errorf("rls requires tenant in context: %w", err)
		}
		s.tenant = tenantID.String()
	}
	if wait := conf.Hierarchy.LockWait; wait > 0 {
		s.lockTimeout = fmt.Sprintf("%dms", wait/time.Millisecond)
	}
	return s, nil
}

// applyTxSettings binds the tenant for row level security and bounds row
// lock waits, so a blocked writer fails with lock_not_available instead of
// queueing behind a long structural change.
func applyTxSettings(ctx context.Context, tx pgx.Tx) error {
	s, err := settingsFor(ctx, configuration.Use())
	if err != nil {
		return err
	}
	if s.tenant != "" {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", s.tenant); err != nil {
			return fmt.Errorf("failed to set rls tenant context: %w", err)
		}
	}
	if s.lockTimeout != "" {
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", s.lockTimeout); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}
	return nil
}

// InTenantTx runs fn inside a transaction with the tenant settings applied.
// An enclosing transaction already bound to ctx is reused.
func InTenantTx(ctx context.Context, fn func(context.Context) error) error {
	if existing, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok && existing != nil {
		if err := applyTxSettings(ctx, existing); err != nil {
			return err
		}
		return fn(ctx)
	}

	pool, err := UsePool(ctx)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	txCtx := WithTx(ctx, tx)
	if err := applyTxSettings(txCtx, tx); err != nil {
		return rollback(ctx, tx, err)
	}
	if err := fn(txCtx); err != nil {
		return rollback(ctx, tx, err)
	}
	return tx.Commit(ctx)
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if rErr := tx.Rollback(ctx); rErr != nil {
		return errors.Join(cause, rErr)
	}
	return cause
}

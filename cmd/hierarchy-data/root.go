package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

const (
	backendPostgres = "postgres"
	backendSQLite   = "sqlite"
	backendMemory   = "memory"
)

type rootOptions struct {
	backend    string
	sqlitePath string
	tenant     string
	kind       string
	verbose    bool
}

func (o *rootOptions) normalize() error {
	o.backend = strings.ToLower(strings.TrimSpace(o.backend))
	if o.backend == "" {
		o.backend = backendPostgres
	}
	switch o.backend {
	case backendPostgres, backendMemory:
	case backendSQLite:
		if strings.TrimSpace(o.sqlitePath) == "" {
			return withCode(exitUsage, fmt.Errorf("--sqlite-path is required for the sqlite backend"))
		}
	default:
		return withCode(exitUsage, fmt.Errorf("unsupported --backend: %s", o.backend))
	}
	return nil
}

func (o *rootOptions) tenantID() (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(o.tenant))
	if err != nil {
		return uuid.Nil, withCode(exitUsage, fmt.Errorf("invalid --tenant: %w", err))
	}
	return id, nil
}

func (o *rootOptions) scope() (node.Scope, error) {
	id, err := o.tenantID()
	if err != nil {
		return node.Scope{}, err
	}
	kind, err := node.ParseKind(o.kind)
	if err != nil {
		return node.Scope{}, withCode(exitUsage, fmt.Errorf("invalid --kind: %w", err))
	}
	return node.Scope{TenantID: id, Kind: kind}, nil
}

// kinds returns the --kind value, or every kind when it is empty.
func (o *rootOptions) kinds() ([]node.Kind, error) {
	if strings.TrimSpace(o.kind) == "" {
		return node.Kinds, nil
	}
	kind, err := node.ParseKind(o.kind)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("invalid --kind: %w", err))
	}
	return []node.Kind{kind}, nil
}

func parseNodeID(flag, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, withCode(exitUsage, fmt.Errorf("invalid --%s: %w", flag, err))
	}
	return id, nil
}

// parseParentID treats an empty value as "no parent".
func parseParentID(raw string) (*uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := parseNodeID("parent", raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "hierarchy-data",
		Short:         "Hierarchy maintenance tool: structural changes, audits and health reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.normalize()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.backend, "backend", backendPostgres, "Backend: postgres|sqlite|memory")
	cmd.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite-path", "", "SQLite database file (sqlite backend)")
	cmd.PersistentFlags().StringVar(&opts.tenant, "tenant", "", "Tenant UUID")
	cmd.PersistentFlags().StringVar(&opts.kind, "kind", "", "Node kind: department|organization|enterprise")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Log hierarchy events to stderr")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newCreateCmd(opts))
	cmd.AddCommand(newMoveCmd(opts))
	cmd.AddCommand(newValidateMoveCmd(opts))
	cmd.AddCommand(newDeactivateCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newTreeCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newAuditCmd(opts))
	cmd.AddCommand(newHealthCmd(opts))
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

func newCreateCmd(root *rootOptions) *cobra.Command {
	var (
		id, parent, status string
		in                 services.CreateNodeInput
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a node as the last child of --parent (or as a root)",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := root.scope()
			if err != nil {
				return err
			}
			if strings.TrimSpace(id) != "" {
				if in.ID, err = parseNodeID("id", id); err != nil {
					return err
				}
			}
			if in.ParentID, err = parseParentID(parent); err != nil {
				return err
			}
			if strings.TrimSpace(status) != "" {
				st, err := node.ParseStatus(status)
				if err != nil {
					return withCode(exitUsage, err)
				}
				in.Status = st
			}

			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			created, err := rt.svc.CreateUnderParent(rt.withRequest(cmd.Context(), "create"), scope, in)
			if err != nil {
				return withServiceCode(err, exitDBWrite)
			}
			return writeJSONLine(cmd.OutOrStdout(), created)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Node UUID (generated when empty)")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent node UUID (empty creates a root)")
	cmd.Flags().StringVar(&in.Name, "name", "", "Node name (required)")
	cmd.Flags().StringVar(&in.Code, "code", "", "Business code")
	cmd.Flags().IntVar(&in.DisplayOrder, "display-order", 0, "Display order among siblings")
	cmd.Flags().StringVar(&status, "status", "", "Initial status: active|inactive")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

type moveFlags struct {
	node   string
	parent string
}

func (f *moveFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.node, "node", "", "Node UUID (required)")
	cmd.Flags().StringVar(&f.parent, "parent", "", "New parent UUID (empty moves the node to root)")
	_ = cmd.MarkFlagRequired("node")
}

func (f *moveFlags) parse() (uuid.UUID, *uuid.UUID, error) {
	id, err := parseNodeID("node", f.node)
	if err != nil {
		return uuid.Nil, nil, err
	}
	parent, err := parseParentID(f.parent)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return id, parent, nil
}

func newMoveCmd(root *rootOptions) *cobra.Command {
	var flags moveFlags
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a subtree under a new parent",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := root.scope()
			if err != nil {
				return err
			}
			id, parent, err := flags.parse()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := rt.withRequest(cmd.Context(), "move")
			if err := rt.svc.Move(ctx, scope, id, parent); err != nil {
				return withServiceCode(err, exitDBWrite)
			}
			moved, err := rt.store.FindByID(ctx, scope, id)
			if err != nil {
				return withCode(exitDB, err)
			}
			return writeJSONLine(cmd.OutOrStdout(), moved)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newValidateMoveCmd(root *rootOptions) *cobra.Command {
	var flags moveFlags
	cmd := &cobra.Command{
		Use:   "validate-move",
		Short: "Check whether a move would be accepted, without writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := root.scope()
			if err != nil {
				return err
			}
			id, parent, err := flags.parse()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.svc.ValidateMove(rt.withRequest(cmd.Context(), "validate-move"), scope, id, parent)
			if err != nil {
				return withServiceCode(err, exitDB)
			}
			if err := writeJSONLine(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return withCode(exitValidation, fmt.Errorf("move rejected: %s", res.Reason))
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newDeactivateCmd(root *rootOptions) *cobra.Command {
	var (
		nodeID string
		text   bool
		opts   services.CascadeOptions
	)
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate a node and, optionally, its subtree and related aggregates",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := root.scope()
			if err != nil {
				return err
			}
			id, err := parseNodeID("node", nodeID)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			rep, err := rt.svc.CascadeDeactivate(rt.withRequest(cmd.Context(), "deactivate"), scope, id, opts)
			if err != nil {
				return withServiceCode(err, exitDBWrite)
			}
			if text {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), rep.String())
				return err
			}
			return writeJSONLine(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "Node UUID (required)")
	cmd.Flags().BoolVar(&opts.CascadeToChildren, "children", true, "Also deactivate every active descendant")
	cmd.Flags().BoolVar(&opts.CascadeToRelatedAggregates, "related", false, "Also deactivate the related kinds of the tenant")
	cmd.Flags().BoolVar(&text, "text", false, "Print a human readable report")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var nodeID, to string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Change the status of one node",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := root.scope()
			if err != nil {
				return err
			}
			id, err := parseNodeID("node", nodeID)
			if err != nil {
				return err
			}
			st, err := node.ParseStatus(to)
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --to: %w", err))
			}
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			updated, err := rt.svc.ChangeStatus(rt.withRequest(cmd.Context(), "status"), scope, id, st)
			if err != nil {
				return withServiceCode(err, exitDBWrite)
			}
			return writeJSONLine(cmd.OutOrStdout(), updated)
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "Node UUID (required)")
	cmd.Flags().StringVar(&to, "to", "", "Target status: active|inactive|terminal (required)")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	var nodeID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a leaf that is no longer active",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := root.scope()
			if err != nil {
				return err
			}
			id, err := parseNodeID("node", nodeID)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.svc.Delete(rt.withRequest(cmd.Context(), "delete"), scope, id); err != nil {
				return withServiceCode(err, exitDBWrite)
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]string{"status": "deleted", "node_id": id.String()})
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "Node UUID (required)")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

func newTreeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the nested trees of one kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := root.scope()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			roots, err := rt.svc.Tree(rt.withRequest(cmd.Context(), "tree"), scope)
			if err != nil {
				return withServiceCode(err, exitDB)
			}
			return writeJSONLine(cmd.OutOrStdout(), roots)
		},
	}
	return cmd
}

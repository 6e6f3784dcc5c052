package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

var _ services.NodeStore = (*SQLiteNodeStore)(nil)

type sqliteTxKey struct{}

// SQLiteNodeStore keeps one file per export. It is meant for offline audits
// and local runs, so it allows a single connection.
type SQLiteNodeStore struct {
	db *sqlx.DB
}

func NewSQLiteNodeStore(db *sqlx.DB) *SQLiteNodeStore {
	return &SQLiteNodeStore{db: db}
}

// OpenSQLiteNodeStore opens (or creates) the database file at path and
// migrates it.
func OpenSQLiteNodeStore(ctx context.Context, path string, log *logrus.Logger) (*SQLiteNodeStore, error) {
	db, err := sqlx.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping sqlite %s", path)
	}
	if err := MigrateSQLite(ctx, db.DB, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLiteNodeStore(db), nil
}

func (s *SQLiteNodeStore) Close() error {
	return s.db.Close()
}

type sqliteQuerier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func (s *SQLiteNodeStore) q(ctx context.Context) sqliteQuerier {
	if tx, ok := ctx.Value(sqliteTxKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

func (s *SQLiteNodeStore) InTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(sqliteTxKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin sqlite tx")
	}
	if err := fn(context.WithValue(ctx, sqliteTxKey{}, tx)); err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Wrapf(err, "rollback failed: %v", rErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit sqlite tx")
}

type sqliteNodeRow struct {
	ID           string         `db:"id"`
	TenantID     string         `db:"tenant_id"`
	Kind         string         `db:"kind"`
	ParentID     sql.NullString `db:"parent_id"`
	Code         string         `db:"code"`
	Name         string         `db:"name"`
	Level        int            `db:"level"`
	Path         string         `db:"path"`
	Lft          int            `db:"lft"`
	Rgt          int            `db:"rgt"`
	Status       string         `db:"status"`
	DisplayOrder int            `db:"display_order"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r sqliteNodeRow) toNode() (node.Node, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return node.Node{}, errors.Wrapf(err, "node id %q", r.ID)
	}
	tenantID, err := uuid.Parse(r.TenantID)
	if err != nil {
		return node.Node{}, errors.Wrapf(err, "tenant id %q", r.TenantID)
	}
	n := node.Node{
		ID:           id,
		TenantID:     tenantID,
		Kind:         node.Kind(r.Kind),
		Code:         r.Code,
		Name:         r.Name,
		Level:        r.Level,
		Position:     node.Position{Path: r.Path, Left: r.Lft, Right: r.Rgt},
		Status:       node.Status(r.Status),
		DisplayOrder: r.DisplayOrder,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.ParentID.Valid && r.ParentID.String != "" {
		pid, err := uuid.Parse(r.ParentID.String)
		if err != nil {
			return node.Node{}, errors.Wrapf(err, "parent id %q", r.ParentID.String)
		}
		n.ParentID = &pid
	}
	return n, nil
}

func toNodes(rows []sqliteNodeRow) ([]node.Node, error) {
	out := make([]node.Node, 0, len(rows))
	for _, r := range rows {
		n, err := r.toNode()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *SQLiteNodeStore) selectNodes(ctx context.Context, what, query string, args ...any) ([]node.Node, error) {
	var rows []sqliteNodeRow
	if err := s.q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, what)
	}
	return toNodes(rows)
}

func (s *SQLiteNodeStore) FindByID(ctx context.Context, scope node.Scope, id uuid.UUID) (node.Node, error) {
	var row sqliteNodeRow
	err := s.q(ctx).GetContext(ctx, &row, `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = ? AND kind = ? AND id = ?
`, scope.TenantID.String(), string(scope.Kind), id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return node.Node{}, errors.Wrapf(node.ErrNotFound, "node %s", id)
		}
		return node.Node{}, errors.Wrap(err, "find hierarchy node")
	}
	return row.toNode()
}

func (s *SQLiteNodeStore) FindByParentID(ctx context.Context, scope node.Scope, parentID uuid.UUID) ([]node.Node, error) {
	return s.selectNodes(ctx, "find hierarchy children", `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = ? AND kind = ? AND parent_id = ?
ORDER BY level, lft, display_order, id
`, scope.TenantID.String(), string(scope.Kind), parentID.String())
}

func (s *SQLiteNodeStore) FindDescendantsByPosition(ctx context.Context, scope node.Scope, scan position.Scan) ([]node.Node, error) {
	if scan.Encoding == position.EncodingRange {
		return s.selectNodes(ctx, "scan hierarchy descendants", `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = ? AND kind = ? AND lft > ? AND rgt < ?
ORDER BY level, lft, display_order, id
`, scope.TenantID.String(), string(scope.Kind), scan.Left, scan.Right)
	}
	if scan.Prefix == "" {
		return []node.Node{}, nil
	}
	return s.selectNodes(ctx, "scan hierarchy descendants", `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = ? AND kind = ? AND path LIKE ? ESCAPE '\'
ORDER BY level, lft, display_order, id
`, scope.TenantID.String(), string(scope.Kind), escapeLike(scan.Prefix)+"%")
}

func (s *SQLiteNodeStore) FindAncestorChain(ctx context.Context, scope node.Scope, id uuid.UUID) ([]node.Node, error) {
	tenant, kind := scope.TenantID.String(), string(scope.Kind)
	chain, err := s.selectNodes(ctx, "load ancestor chain", `
WITH RECURSIVE chain(id, parent_id, depth, seen) AS (
	SELECT id, parent_id, 1, ',' || id || ','
	FROM hierarchy_nodes
	WHERE tenant_id = ? AND kind = ? AND id = ?
	UNION ALL
	SELECT p.id, p.parent_id, c.depth + 1, c.seen || p.id || ','
	FROM chain c
	JOIN hierarchy_nodes p
		ON p.tenant_id = ?
		AND p.kind = ?
		AND p.id = c.parent_id
	WHERE instr(c.seen, ',' || p.id || ',') = 0
		AND c.depth < ?
)
SELECT `+prefixed("n", nodeColumns)+`
FROM chain c
JOIN hierarchy_nodes n
	ON n.tenant_id = ?
	AND n.kind = ?
	AND n.id = c.id
ORDER BY c.depth DESC
`, tenant, kind, id.String(), tenant, kind, maxAncestorDepth, tenant, kind)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errors.Wrapf(node.ErrNotFound, "node %s", id)
	}
	return chain, nil
}

func (s *SQLiteNodeStore) ListByTenant(ctx context.Context, scope node.Scope) ([]node.Node, error) {
	return s.selectNodes(ctx, "list hierarchy nodes", `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = ? AND kind = ?
ORDER BY level, lft, display_order, id
`, scope.TenantID.String(), string(scope.Kind))
}

const sqliteUpsertSQL = `
INSERT INTO hierarchy_nodes (` + nodeColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, kind, id) DO UPDATE SET
	parent_id = excluded.parent_id,
	code = excluded.code,
	name = excluded.name,
	level = excluded.level,
	path = excluded.path,
	lft = excluded.lft,
	rgt = excluded.rgt,
	status = excluded.status,
	display_order = excluded.display_order,
	updated_at = excluded.updated_at
`

func (s *SQLiteNodeStore) BatchUpsert(ctx context.Context, scope node.Scope, nodes []node.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := checkBatch(scope, nodes); err != nil {
		return err
	}
	return s.InTx(ctx, func(txCtx context.Context) error {
		q := s.q(txCtx)
		for _, n := range nodes {
			var parent sql.NullString
			if n.ParentID != nil {
				parent = sql.NullString{String: n.ParentID.String(), Valid: true}
			}
			created := n.CreatedAt
			if created.IsZero() {
				created = n.UpdatedAt
			}
			if _, err := q.ExecContext(txCtx, sqliteUpsertSQL,
				n.ID.String(),
				n.TenantID.String(),
				string(n.Kind),
				parent,
				n.Code,
				n.Name,
				n.Level,
				n.Path,
				n.Left,
				n.Right,
				string(n.Status),
				n.DisplayOrder,
				created.UTC(),
				n.UpdatedAt.UTC(),
			); err != nil {
				return errors.Wrapf(err, "upsert hierarchy node %s", n.ID)
			}
		}
		return nil
	})
}

func (s *SQLiteNodeStore) Delete(ctx context.Context, scope node.Scope, id uuid.UUID) error {
	res, err := s.q(ctx).ExecContext(ctx, `
DELETE FROM hierarchy_nodes
WHERE tenant_id = ? AND kind = ? AND id = ?
`, scope.TenantID.String(), string(scope.Kind), id.String())
	if err != nil {
		return errors.Wrap(err, "delete hierarchy node")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete hierarchy node")
	}
	if affected == 0 {
		return errors.Wrapf(node.ErrNotFound, "node %s", id)
	}
	return nil
}

func (s *SQLiteNodeStore) CountByTenant(ctx context.Context, scope node.Scope) (int, error) {
	var n int
	if err := s.q(ctx).GetContext(ctx, &n, `
SELECT count(*) FROM hierarchy_nodes WHERE tenant_id = ? AND kind = ?
`, scope.TenantID.String(), string(scope.Kind)); err != nil {
		return 0, errors.Wrap(err, "count hierarchy nodes")
	}
	return n, nil
}

func (s *SQLiteNodeStore) ListTenants(ctx context.Context, kind node.Kind) ([]uuid.UUID, error) {
	var raw []string
	if err := s.q(ctx).SelectContext(ctx, &raw, `
SELECT DISTINCT tenant_id FROM hierarchy_nodes WHERE kind = ? ORDER BY tenant_id
`, string(kind)); err != nil {
		return nil, errors.Wrap(err, "list hierarchy tenants")
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, errors.Wrapf(err, "tenant id %q", r)
		}
		out = append(out, id)
	}
	return out, nil
}

package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
)

// maxAncestorDepth bounds the recursive ancestor query on corrupted data.
const maxAncestorDepth = 4096

const nodeColumns = `id, tenant_id, kind, parent_id, code, name, level, path, lft, rgt, status, display_order, created_at, updated_at`

var _ services.NodeStore = (*PgNodeStore)(nil)

type PgNodeStore struct {
	pool *pgxpool.Pool
}

func NewPgNodeStore(pool *pgxpool.Pool) *PgNodeStore {
	return &PgNodeStore{pool: pool}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgNullableUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil || *id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func nullableUUID(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	u := uuid.UUID(v.Bytes)
	return &u
}

// escapeLike quotes the LIKE wildcards of s for use with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *PgNodeStore) querier(ctx context.Context) composables.Querier {
	if q, err := composables.UseTx(ctx); err == nil {
		return q
	}
	return s.pool
}

func (s *PgNodeStore) InTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, err := composables.UsePool(ctx); err != nil {
		ctx = composables.WithPool(ctx, s.pool)
	}
	return composables.InTenantTx(ctx, fn)
}

func scanNode(row pgx.Row) (node.Node, error) {
	var (
		n       node.Node
		parent  pgtype.UUID
		kind    string
		status  string
		created time.Time
		updated time.Time
	)
	if err := row.Scan(&n.ID, &n.TenantID, &kind, &parent, &n.Code, &n.Name, &n.Level,
		&n.Path, &n.Left, &n.Right, &status, &n.DisplayOrder, &created, &updated); err != nil {
		return node.Node{}, err
	}
	n.Kind = node.Kind(kind)
	n.Status = node.Status(status)
	n.ParentID = nullableUUID(parent)
	n.CreatedAt = created.UTC()
	n.UpdatedAt = updated.UTC()
	return n, nil
}

func collectNodes(rows pgx.Rows) ([]node.Node, error) {
	defer rows.Close()
	out := make([]node.Node, 0, 64)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *PgNodeStore) FindByID(ctx context.Context, scope node.Scope, id uuid.UUID) (node.Node, error) {
	n, err := scanNode(s.querier(ctx).QueryRow(ctx, `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = $1 AND kind = $2 AND id = $3
`, pgUUID(scope.TenantID), string(scope.Kind), pgUUID(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return node.Node{}, errors.Wrapf(node.ErrNotFound, "node %s", id)
		}
		return node.Node{}, errors.Wrap(err, "find hierarchy node")
	}
	return n, nil
}

func (s *PgNodeStore) FindByParentID(ctx context.Context, scope node.Scope, parentID uuid.UUID) ([]node.Node, error) {
	rows, err := s.querier(ctx).Query(ctx, `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = $1 AND kind = $2 AND parent_id = $3
ORDER BY level, lft, display_order, id
`, pgUUID(scope.TenantID), string(scope.Kind), pgUUID(parentID))
	if err != nil {
		return nil, errors.Wrap(err, "find hierarchy children")
	}
	return collectNodes(rows)
}

func (s *PgNodeStore) FindDescendantsByPosition(ctx context.Context, scope node.Scope, scan position.Scan) ([]node.Node, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch scan.Encoding {
	case position.EncodingRange:
		rows, err = s.querier(ctx).Query(ctx, `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = $1 AND kind = $2 AND lft > $3 AND rgt < $4
ORDER BY level, lft, display_order, id
`, pgUUID(scope.TenantID), string(scope.Kind), scan.Left, scan.Right)
	default:
		if scan.Prefix == "" {
			return []node.Node{}, nil
		}
		rows, err = s.querier(ctx).Query(ctx, `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = $1 AND kind = $2 AND path LIKE $3 ESCAPE '\'
ORDER BY level, lft, display_order, id
`, pgUUID(scope.TenantID), string(scope.Kind), escapeLike(scan.Prefix)+"%")
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan hierarchy descendants")
	}
	return collectNodes(rows)
}

func (s *PgNodeStore) FindAncestorChain(ctx context.Context, scope node.Scope, id uuid.UUID) ([]node.Node, error) {
	rows, err := s.querier(ctx).Query(ctx, `
WITH RECURSIVE chain AS (
	SELECT n.id, n.parent_id, 1 AS depth, ARRAY[n.id] AS seen
	FROM hierarchy_nodes n
	WHERE n.tenant_id = $1 AND n.kind = $2 AND n.id = $3
	UNION ALL
	SELECT p.id, p.parent_id, c.depth + 1, c.seen || p.id
	FROM chain c
	JOIN hierarchy_nodes p
		ON p.tenant_id = $1
		AND p.kind = $2
		AND p.id = c.parent_id
	WHERE NOT p.id = ANY(c.seen)
		AND c.depth < $4
)
SELECT `+prefixed("n", nodeColumns)+`
FROM chain c
JOIN hierarchy_nodes n
	ON n.tenant_id = $1
	AND n.kind = $2
	AND n.id = c.id
ORDER BY c.depth DESC
`, pgUUID(scope.TenantID), string(scope.Kind), pgUUID(id), maxAncestorDepth)
	if err != nil {
		return nil, errors.Wrap(err, "load ancestor chain")
	}
	chain, err := collectNodes(rows)
	if err != nil {
		return nil, errors.Wrap(err, "load ancestor chain")
	}
	if len(chain) == 0 {
		return nil, errors.Wrapf(node.ErrNotFound, "node %s", id)
	}
	return chain, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (s *PgNodeStore) ListByTenant(ctx context.Context, scope node.Scope) ([]node.Node, error) {
	rows, err := s.querier(ctx).Query(ctx, `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id = $1 AND kind = $2
ORDER BY level, lft, display_order, id
`, pgUUID(scope.TenantID), string(scope.Kind))
	if err != nil {
		return nil, errors.Wrap(err, "list hierarchy nodes")
	}
	return collectNodes(rows)
}

const upsertNodeSQL = `
INSERT INTO hierarchy_nodes (` + nodeColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (tenant_id, kind, id) DO UPDATE SET
	parent_id = EXCLUDED.parent_id,
	code = EXCLUDED.code,
	name = EXCLUDED.name,
	level = EXCLUDED.level,
	path = EXCLUDED.path,
	lft = EXCLUDED.lft,
	rgt = EXCLUDED.rgt,
	status = EXCLUDED.status,
	display_order = EXCLUDED.display_order,
	updated_at = EXCLUDED.updated_at
`

func checkBatch(scope node.Scope, nodes []node.Node) error {
	for _, n := range nodes {
		if n.Scope() != scope {
			return errors.Errorf("node %s belongs to scope %s, not %s", n.ID, n.Scope(), scope)
		}
		if n.ParentID != nil && *n.ParentID == n.ID {
			return errors.Errorf("node %s references itself as parent", n.ID)
		}
	}
	return nil
}

// BatchUpsert sends every row in one pgx batch inside one transaction.
func (s *PgNodeStore) BatchUpsert(ctx context.Context, scope node.Scope, nodes []node.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := checkBatch(scope, nodes); err != nil {
		return err
	}
	ctx = composables.WithTenantID(ctx, scope.TenantID)
	return s.InTx(ctx, func(txCtx context.Context) error {
		b := &pgx.Batch{}
		for _, n := range nodes {
			created := n.CreatedAt
			if created.IsZero() {
				created = n.UpdatedAt
			}
			b.Queue(upsertNodeSQL,
				pgUUID(n.ID),
				pgUUID(n.TenantID),
				string(n.Kind),
				pgNullableUUID(n.ParentID),
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
			)
		}
		br := s.querier(txCtx).SendBatch(txCtx, b)
		for _, n := range nodes {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return errors.Wrapf(err, "upsert hierarchy node %s", n.ID)
			}
		}
		return br.Close()
	})
}

func (s *PgNodeStore) Delete(ctx context.Context, scope node.Scope, id uuid.UUID) error {
	tag, err := s.querier(ctx).Exec(ctx, `
DELETE FROM hierarchy_nodes
WHERE tenant_id = $1 AND kind = $2 AND id = $3
`, pgUUID(scope.TenantID), string(scope.Kind), pgUUID(id))
	if err != nil {
		return errors.Wrap(err, "delete hierarchy node")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(node.ErrNotFound, "node %s", id)
	}
	return nil
}

func (s *PgNodeStore) CountByTenant(ctx context.Context, scope node.Scope) (int, error) {
	var n int
	if err := s.querier(ctx).QueryRow(ctx, `
SELECT count(*)
FROM hierarchy_nodes
WHERE tenant_id = $1 AND kind = $2
`, pgUUID(scope.TenantID), string(scope.Kind)).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count hierarchy nodes")
	}
	return n, nil
}

// ListTenants goes through hierarchy_list_tenants, which runs as the table
// owner, so discovery is not narrowed by row level security.
func (s *PgNodeStore) ListTenants(ctx context.Context, kind node.Kind) ([]uuid.UUID, error) {
	rows, err := s.querier(ctx).Query(ctx, `SELECT t FROM hierarchy_list_tenants($1) AS t`, string(kind))
	if err != nil {
		return nil, errors.Wrap(err, "list hierarchy tenants")
	}
	defer rows.Close()
	out := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

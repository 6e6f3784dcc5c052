package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

func TestTreeCache(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTreeCache(time.Minute, func() time.Time { return now })

	tenant := uuid.New()
	org := node.Scope{TenantID: tenant, Kind: node.KindOrganization}
	dept := node.Scope{TenantID: tenant, Kind: node.KindDepartment}
	orgKey, deptKey := treeCacheKey(org), treeCacheKey(dept)

	c.Set(tenant, orgKey, "org", c.Generation(orgKey))
	c.Set(tenant, deptKey, "dept", c.Generation(deptKey))
	v, ok := c.Get(orgKey)
	require.True(t, ok)
	require.Equal(t, "org", v)

	t.Run("stale generation is dropped", func(t *testing.T) {
		gen := c.Generation(orgKey)
		c.InvalidateScope(org)
		c.Set(tenant, orgKey, "stale", gen)
		_, ok := c.Get(orgKey)
		require.False(t, ok)

		_, ok = c.Get(deptKey)
		require.True(t, ok, "other scopes survive")
	})

	t.Run("tenant invalidation drops every kind", func(t *testing.T) {
		c.Set(tenant, orgKey, "org", c.Generation(orgKey))
		c.InvalidateTenant(tenant)
		_, ok := c.Get(orgKey)
		require.False(t, ok)
		_, ok = c.Get(deptKey)
		require.False(t, ok)
	})

	t.Run("entries expire", func(t *testing.T) {
		c.Set(tenant, orgKey, "org", c.Generation(orgKey))
		now = now.Add(2 * time.Minute)
		_, ok := c.Get(orgKey)
		require.False(t, ok)
	})

	t.Run("nil tenant is not cached", func(t *testing.T) {
		c.Set(uuid.Nil, "tree:x", "x", 0)
		_, ok := c.Get("tree:x")
		require.False(t, ok)
	})
}

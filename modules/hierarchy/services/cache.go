package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// treeCache keeps read models per scope with a fixed TTL. The tenant index
// lets a tenant-wide invalidation drop every kind at once.
type treeCache struct {
	ttl time.Duration
	now func() time.Time

	mu          sync.RWMutex
	entries     map[string]cacheEntry
	tenantIndex map[uuid.UUID]map[string]struct{}
	// generations bump on invalidation so builds started earlier are dropped.
	generations map[string]uint64
}

func newTreeCache(ttl time.Duration, now func() time.Time) *treeCache {
	return &treeCache{
		ttl:         ttl,
		now:         now,
		entries:     make(map[string]cacheEntry),
		tenantIndex: make(map[uuid.UUID]map[string]struct{}),
		generations: make(map[string]uint64),
	}
}

func treeCacheKey(scope node.Scope) string {
	return "tree:" + scope.String()
}

func (c *treeCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *treeCache) Generation(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[key]
}

// Set stores value unless key was invalidated after generation gen was read.
func (c *treeCache) Set(tenantID uuid.UUID, key string, value any, gen uint64) {
	if tenantID == uuid.Nil || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[key] != gen {
		return
	}
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	if _, ok := c.tenantIndex[tenantID]; !ok {
		c.tenantIndex[tenantID] = make(map[string]struct{})
	}
	c.tenantIndex[tenantID][key] = struct{}{}
}

func (c *treeCache) InvalidateScope(scope node.Scope) {
	key := treeCacheKey(scope)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[key]++
	delete(c.entries, key)
	if keys, ok := c.tenantIndex[scope.TenantID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.tenantIndex, scope.TenantID)
		}
	}
}

func (c *treeCache) InvalidateTenant(tenantID uuid.UUID) {
	if tenantID == uuid.Nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.tenantIndex[tenantID] {
		c.generations[key]++
		delete(c.entries, key)
	}
	delete(c.tenantIndex, tenantID)
}

package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/events"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/pkg/composables"
	"github.com/iota-uz/orgtree/pkg/eventbus"
	"github.com/iota-uz/orgtree/pkg/tenantlock"
	"github.com/iota-uz/orgtree/pkg/tracing"
)

const defaultLockWait = 5 * time.Second

// HierarchyService owns every structural change of the trees kept in store.
// Writes to one scope are serialized through the locker; reads are not.
type HierarchyService struct {
	store    NodeStore
	policy   Policy
	locker   tenantlock.Locker
	bus      eventbus.EventBus
	log      *logrus.Logger
	validate *validator.Validate
	now      func() time.Time

	cache  *treeCache
	flight singleflight.Group

	related map[node.Kind][]RelatedCollection
}

type Option func(*HierarchyService)

func WithLocker(l tenantlock.Locker) Option {
	return func(s *HierarchyService) { s.locker = l }
}

func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *HierarchyService) { s.bus = bus }
}

func WithLogger(log *logrus.Logger) Option {
	return func(s *HierarchyService) { s.log = log }
}

// WithCacheTTL sets how long tree reads are cached; 0 disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *HierarchyService) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = newTreeCache(ttl, s.clock)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *HierarchyService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRelated adds a collection that follows cascades started on kind.
func WithRelated(kind node.Kind, c RelatedCollection) Option {
	return func(s *HierarchyService) { s.related[kind] = append(s.related[kind], c) }
}

func NewHierarchyService(store NodeStore, policy Policy, opts ...Option) *HierarchyService {
	s := &HierarchyService{
		store:    store,
		policy:   policy.normalized(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		related:  map[node.Kind][]RelatedCollection{},
	}
	s.cache = newTreeCache(30*time.Second, s.clock)
	for kind, kp := range s.policy.Kinds {
		for _, rel := range kp.Related {
			s.related[kind] = append(s.related[kind], kindCollection{svc: s, kind: rel})
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = tenantlock.NewLocalLocker(defaultLockWait)
	}
	if s.bus == nil {
		s.bus = eventbus.NewEventPublisher(s.log)
	}
	return s
}

func (s *HierarchyService) clock() time.Time {
	return s.now().UTC()
}

func (s *HierarchyService) Policy() Policy {
	return s.policy.clone()
}

func (s *HierarchyService) codec(kind node.Kind) position.Codec {
	return position.NewCodec(s.policy.For(kind).Encoding)
}

func LockKey(scope node.Scope) string {
	return "hierarchy:" + scope.TenantID.String() + ":" + string(scope.Kind)
}

// lock takes the write lock of every scope. Keys are taken in sorted order.
func (s *HierarchyService) lock(ctx context.Context, scopes ...node.Scope) (func(), error) {
	keys := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		keys = append(keys, LockKey(sc))
	}
	release, err := tenantlock.AcquireAll(ctx, s.locker, keys...)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return release, nil
}

// inTx runs fn in one store transaction with tenantID bound to the context
// for row level security.
func inTx[T any](ctx context.Context, store NodeStore, tenantID uuid.UUID, fn func(txCtx context.Context) (T, error)) (T, error) {
	var out T
	ctx = composables.WithTenantID(ctx, tenantID)
	err := store.InTx(ctx, func(txCtx context.Context) error {
		v, err := fn(txCtx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// loadScope reads every node of scope inside a tenant transaction, so row
// level security sees the tenant.
func (s *HierarchyService) loadScope(ctx context.Context, scope node.Scope) ([]node.Node, error) {
	nodes, err := inTx(ctx, s.store, scope.TenantID, func(txCtx context.Context) ([]node.Node, error) {
		return s.store.ListByTenant(txCtx, scope)
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return nodes, nil
}

func startSpan(ctx context.Context, op string, scope node.Scope) (context.Context, trace.Span) {
	return tracing.Start(ctx, "hierarchy."+op,
		attribute.String("tenant_id", scope.TenantID.String()),
		attribute.String("kind", string(scope.Kind)),
	)
}

func (s *HierarchyService) publish(ctx context.Context, scope node.Scope, changeType string, entityID uuid.UUID, affected int, oldValues, newValues any) {
	requestID, _ := composables.UseRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ev := events.HierarchyEventV1{
		EventID:         uuid.New(),
		EventVersion:    events.EventVersionV1,
		Topic:           events.TopicHierarchyChangedV1,
		RequestID:       requestID,
		TenantID:        scope.TenantID,
		Kind:            string(scope.Kind),
		TransactionTime: s.clock(),
		ChangeType:      changeType,
		EntityID:        entityID,
		AffectedCount:   affected,
		OldValues:       mustJSON(oldValues),
		NewValues:       mustJSON(newValues),
	}
	s.bus.Publish(&ev)
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func (s *HierarchyService) invalidate(ctx context.Context, reason string, scopes ...node.Scope) {
	if s.cache == nil || shouldSkipCacheInvalidation(ctx) {
		return
	}
	for _, sc := range scopes {
		s.cache.InvalidateScope(sc)
		recordCacheInvalidate(reason)
	}
}

func stamp(nodes []node.Node, at time.Time) {
	for i := range nodes {
		nodes[i].UpdatedAt = at
	}
}

package services_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/events"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
	"github.com/iota-uz/orgtree/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/eventbus"
)

type fixture struct {
	ctx    context.Context
	tenant uuid.UUID
	store  *persistence.MemoryNodeStore
	svc    *services.HierarchyService

	mu     sync.Mutex
	events []*events.HierarchyEventV1
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newFixture(t *testing.T, policy services.Policy, opts ...services.Option) *fixture {
	t.Helper()

	f := &fixture{
		ctx:    context.Background(),
		tenant: uuid.New(),
		store:  persistence.NewMemoryNodeStore(),
	}
	log := quietLogger()
	bus := eventbus.NewEventPublisher(log)
	bus.Subscribe(func(e *events.HierarchyEventV1) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
	})

	base := []services.Option{services.WithLogger(log), services.WithEventBus(bus)}
	f.svc = services.NewHierarchyService(f.store, policy, append(base, opts...)...)
	return f
}

func (f *fixture) scope(kind node.Kind) node.Scope {
	return node.Scope{TenantID: f.tenant, Kind: kind}
}

func (f *fixture) create(t *testing.T, kind node.Kind, parent *node.Node, name string) node.Node {
	t.Helper()
	in := services.CreateNodeInput{Name: name}
	if parent != nil {
		in.ParentID = node.Ptr(parent.ID)
	}
	n, err := f.svc.CreateUnderParent(f.ctx, f.scope(kind), in)
	require.NoError(t, err)
	return n
}

func (f *fixture) get(t *testing.T, kind node.Kind, id uuid.UUID) node.Node {
	t.Helper()
	n, err := f.store.FindByID(f.ctx, f.scope(kind), id)
	require.NoError(t, err)
	return n
}

// overwrite writes nodes straight to the store, bypassing every check.
func (f *fixture) overwrite(t *testing.T, kind node.Kind, nodes ...node.Node) {
	t.Helper()
	require.NoError(t, f.store.BatchUpsert(f.ctx, f.scope(kind), nodes))
}

func (f *fixture) published(changeType string) []*events.HierarchyEventV1 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*events.HierarchyEventV1, 0, len(f.events))
	for _, e := range f.events {
		if e.ChangeType == changeType {
			out = append(out, e)
		}
	}
	return out
}

// requireConsistent checks every stored level and position against the
// values the parent pointers imply.
func (f *fixture) requireConsistent(t *testing.T, kind node.Kind) {
	t.Helper()
	nodes, err := f.store.ListByTenant(f.ctx, f.scope(kind))
	require.NoError(t, err)

	codec := position.NewCodec(f.svc.Policy().For(kind).Encoding)
	want := position.Expected(codec, position.NewForest(nodes))
	require.Len(t, want, len(nodes), "every node must be reachable from a root")
	for _, n := range nodes {
		w := want[n.ID]
		require.Equal(t, w.Level, n.Level, "level of %s", n.Name)
		require.True(t, codec.Matches(n.Position, w.Position), "position of %s: stored %+v, expected %+v", n.Name, n.Position, w.Position)
	}
}

func requireKind(t *testing.T, err error, kind services.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, services.KindOf(err), "unexpected error: %v", err)
}

func policyWithDepth(kind node.Kind, depth int) services.Policy {
	p := services.DefaultPolicy()
	kp := p.Kinds[kind]
	kp.MaxDepth = depth
	p.Kinds[kind] = kp
	return p
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/events"
	"github.com/iota-uz/orgtree/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
	"github.com/iota-uz/orgtree/pkg/configuration"
	"github.com/iota-uz/orgtree/pkg/eventbus"
	"github.com/iota-uz/orgtree/pkg/tenantlock"
	"github.com/iota-uz/orgtree/pkg/tracing"
)

// runtime wires one service instance for a single command run.
type runtime struct {
	conf    *configuration.Configuration
	log     *logrus.Logger
	store   services.NodeStore
	svc     *services.HierarchyService
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// withRequest binds a request id and a command logger to ctx. Events
// published during the run carry the request id.
func (r *runtime) withRequest(ctx context.Context, cmd string) context.Context {
	requestID := uuid.NewString()
	ctx = composables.WithRequestID(ctx, requestID)
	return composables.WithLogger(ctx, logrus.NewEntry(r.log).WithFields(logrus.Fields{
		"command":    cmd,
		"request_id": requestID,
	}))
}

func openPool(ctx context.Context, conf *configuration.Configuration) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return nil, withCode(exitDB, fmt.Errorf("connect db: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, withCode(exitDB, fmt.Errorf("ping db: %w", err))
	}
	return pool, nil
}

func openStore(ctx context.Context, opts *rootOptions, conf *configuration.Configuration, log *logrus.Logger) (services.NodeStore, func(), error) {
	switch opts.backend {
	case backendMemory:
		return persistence.NewMemoryNodeStore(), func() {}, nil
	case backendSQLite:
		store, err := persistence.OpenSQLiteNodeStore(ctx, opts.sqlitePath, log)
		if err != nil {
			return nil, nil, withCode(exitDB, err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		pool, err := openPool(ctx, conf)
		if err != nil {
			return nil, nil, err
		}
		return persistence.NewPgNodeStore(pool), pool.Close, nil
	}
}

func newLocker(conf *configuration.Configuration, log *logrus.Logger) (tenantlock.Locker, func()) {
	h := conf.Hierarchy
	if h.LockBackend != "redis" {
		return tenantlock.NewLocalLocker(h.LockWait), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: conf.RedisURL})
	return tenantlock.NewRedisLocker(client, h.LockTTL, h.LockWait, log), func() { _ = client.Close() }
}

func openRuntime(ctx context.Context, opts *rootOptions) (*runtime, error) {
	conf := configuration.Use()
	log := conf.Logger()
	r := &runtime{conf: conf, log: log}

	shutdown, err := tracing.Setup(ctx, conf.OpenTelemetry, log)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("tracing: %w", err))
	}
	r.closers = append(r.closers, func() { _ = shutdown(context.Background()) })

	policy, err := services.PolicyFromConfig(conf.Hierarchy)
	if err != nil {
		r.Close()
		return nil, withCode(exitUsage, fmt.Errorf("policy: %w", err))
	}

	store, closeStore, err := openStore(ctx, opts, conf, log)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.store = store
	r.closers = append(r.closers, closeStore)

	locker, closeLocker := newLocker(conf, log)
	r.closers = append(r.closers, closeLocker)

	bus := eventbus.NewEventPublisher(nil)
	if opts.verbose {
		bus.Subscribe(func(e *events.HierarchyEventV1) {
			_ = writeJSONLine(os.Stderr, e)
		})
	}

	cacheTTL := conf.Hierarchy.CacheTTL
	if !conf.Hierarchy.CacheEnabled {
		cacheTTL = 0
	}
	r.svc = services.NewHierarchyService(store, policy,
		services.WithLogger(log),
		services.WithLocker(locker),
		services.WithEventBus(bus),
		services.WithCacheTTL(cacheTTL),
	)
	return r, nil
}

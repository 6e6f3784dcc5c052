package tenantlock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotAcquired is returned when a lock stays held by someone else for the
// whole wait window.
var ErrNotAcquired = errors.New("tenantlock: lock not acquired")

type Locker interface {
	// Acquire blocks until key is held, the wait window ends or ctx is done.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// AcquireAll takes every key in sorted order so that overlapping callers
// cannot deadlock. On failure nothing stays held.
func AcquireAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	uniq := make([]string, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			uniq = append(uniq, k)
		}
	}
	sort.Strings(uniq)

	releases := make([]func(), 0, len(uniq))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, k := range uniq {
		release, err := l.Acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

// LocalLocker serializes holders of the same key inside one process.
type LocalLocker struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*localSlot
}

// NewLocalLocker returns a locker that gives up after wait; zero waits only
// for ctx.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{wait: wait, slots: map[string]*localSlot{}}
}

func (l *LocalLocker) slot(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) drop(key string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	s := l.slot(key)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case s.ch <- struct{}{}:
	case <-timeout:
		l.drop(key, s)
		return nil, ErrNotAcquired
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

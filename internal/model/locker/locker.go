package locker

import (
	"context"
	"sync"
	"time"

	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/model/customerr"
)

// DefaultWait bounds how long Acquire blocks before giving up.
const DefaultWait = 3 * time.Second

// Key identifies the balance a lock protects.
func Key(email string, c grant.Category) string {
	return email + ":" + string(c)
}

type slot struct {
	ch   chan struct{}
	refs int
}

// KeyedLocker serializes holders of the same key within one process.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
	wait  time.Duration
}

func NewKeyedLocker(wait time.Duration) *KeyedLocker {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &KeyedLocker{
		slots: make(map[string]*slot),
		wait:  wait,
	}
}

// Acquire blocks until the key is free, the wait elapses or ctx is done.
// The returned release func is safe to call more than once.
func (l *KeyedLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.slots[key]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = sl
	}
	sl.refs++
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	select {
	case sl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-sl.ch
				l.unref(key, sl)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, sl)
		return nil, customerr.Wrap(customerr.ConcurrencyConflict, ctx.Err(),
			"another submission for this grant is in progress")
	}
}

func (l *KeyedLocker) unref(key string, sl *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.slots, key)
	}
}

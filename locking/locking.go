// Package locking provides named mutual exclusion for shard creation.
//
// LocalLocker serializes goroutines of one process. KVLocker serializes
// processes sharing a transactional KV store by writing a lease record
// under /locks/{key}; the KV store's commit-time conflict detection decides
// which contender wins.
package locking

import (
	"context"
	"errors"
	"sync"
)

// ErrLockTimeout indicates that a lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker acquires named locks.
type Locker interface {
	// Lock blocks until the named lock is held or ctx is done.
	// The returned function releases the lock; calling it twice is a no-op.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) sem(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.sem(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

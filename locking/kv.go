package locking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/poiesic/kbingest/storage"
)

const (
	defaultLeaseTTL    = 30 * time.Second
	defaultWaitTimeout = 60 * time.Second
)

var errLockHeld = errors.New("lock held")

type lease struct {
	Owner   string    `msgpack:"owner"`
	Expires time.Time `msgpack:"expires"`
}

// KVOption configures a KVLocker.
type KVOption func(*KVLocker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) KVOption {
	return func(l *KVLocker) {
		l.logger = logger
	}
}

// WithLeaseTTL sets how long a lease survives without renewal.
func WithLeaseTTL(ttl time.Duration) KVOption {
	return func(l *KVLocker) {
		l.ttl = ttl
	}
}

// WithWaitTimeout bounds how long Lock waits for a held lease.
func WithWaitTimeout(timeout time.Duration) KVOption {
	return func(l *KVLocker) {
		l.wait = timeout
	}
}

// KVLocker is a Locker backed by lease records in a KV store.
// Held leases are renewed every third of their TTL until released.
type KVLocker struct {
	driver storage.Driver
	logger *slog.Logger
	ttl    time.Duration
	wait   time.Duration
	now    func() time.Time
}

var _ Locker = (*KVLocker)(nil)

// NewKVLocker returns a KVLocker writing leases through driver.
func NewKVLocker(driver storage.Driver, opts ...KVOption) *KVLocker {
	l := &KVLocker{
		driver: driver,
		logger: slog.Default(),
		ttl:    defaultLeaseTTL,
		wait:   defaultWaitTimeout,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "kv-locker")
	return l
}

func (l *KVLocker) tryAcquire(ctx context.Context, key, owner string) error {
	return storage.WithTransaction(ctx, l.driver, func(txn storage.Txn) error {
		data, err := txn.Get(ctx, storage.LockKey(key))
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err == nil {
			var current lease
			if err := storage.Unmarshal(data, &current); err != nil {
				return err
			}
			if current.Owner != owner && l.now().Before(current.Expires) {
				return errLockHeld
			}
		}
		data, err = storage.Marshal(lease{Owner: owner, Expires: l.now().Add(l.ttl)})
		if err != nil {
			return err
		}
		return txn.Set(ctx, storage.LockKey(key), data)
	})
}

func (l *KVLocker) release(ctx context.Context, key, owner string) error {
	return storage.WithTransaction(ctx, l.driver, func(txn storage.Txn) error {
		data, err := txn.Get(ctx, storage.LockKey(key))
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var current lease
		if err := storage.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Owner != owner {
			return nil
		}
		return txn.Delete(ctx, storage.LockKey(key))
	})
}

func (l *KVLocker) Lock(ctx context.Context, key string) (func(), error) {
	owner := uuid.NewString()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = l.wait

	err := backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := l.tryAcquire(ctx, key, owner)
		if err == nil || errors.Is(err, errLockHeld) || errors.Is(err, storage.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if errors.Is(err, errLockHeld) || errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, owner, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := l.release(context.Background(), key, owner); err != nil {
				l.logger.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *KVLocker) renew(key, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := l.tryAcquire(context.Background(), key, owner); err != nil {
				l.logger.Warn("failed to renew lock", "key", key, "error", err)
			}
		}
	}
}

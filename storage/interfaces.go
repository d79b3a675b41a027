package storage

import (
	"context"
	"errors"
)

// Txn is a key/value transaction.
// A Txn is not safe for concurrent use; each processing pass owns one.
type Txn interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns every key starting with prefix, in lexicographic order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Commit makes the transaction's writes durable.
	// Returns ErrConflict if a concurrent transaction won a conflicting write.
	Commit(ctx context.Context) error

	// Abort discards the transaction. Aborting a closed transaction is a no-op.
	Abort()

	// Open reports whether the transaction has been neither committed nor aborted.
	Open() bool
}

// Driver opens transactions against a key/value store.
// Implementations must be thread-safe.
type Driver interface {
	// Begin starts a transaction. Read-only transactions reject writes.
	Begin(ctx context.Context, readOnly bool) (Txn, error)

	// Close releases the underlying store.
	Close() error
}

// WithTransaction runs fn inside a read-write transaction.
// If fn returns an error, the transaction is aborted.
// If fn returns nil and left the transaction open, it is committed.
func WithTransaction(ctx context.Context, driver Driver, fn func(txn Txn) error) error {
	txn, err := driver.Begin(ctx, false)
	if err != nil {
		return err
	}
	defer txn.Abort()

	if err := fn(txn); err != nil {
		return err
	}
	if txn.Open() {
		return txn.Commit(ctx)
	}
	return nil
}

// WithReadTransaction runs fn inside a read-only transaction.
func WithReadTransaction(ctx context.Context, driver Driver, fn func(txn Txn) error) error {
	txn, err := driver.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer txn.Abort()
	return fn(txn)
}

// Exists reports whether key is present.
func Exists(ctx context.Context, txn Txn, key string) (bool, error) {
	_, err := txn.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeletePrefix removes every key starting with prefix.
func DeletePrefix(ctx context.Context, txn Txn, prefix string) error {
	keys, err := txn.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := txn.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

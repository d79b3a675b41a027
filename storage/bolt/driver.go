// Package bolt implements storage.Driver on a single bbolt file.
//
// bbolt allows one read-write transaction at a time, so writers never
// conflict; Begin(ctx, false) blocks until the previous writer finishes.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/kbingest/storage"
	bbolt "go.etcd.io/bbolt"
)

var bucketName = []byte("kv")

// Driver wraps a bbolt database.
type Driver struct {
	db *bbolt.DB
}

var _ storage.Driver = (*Driver)(nil)

// Open opens or creates the database file at path.
func Open(path string) (*Driver, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Driver{db: db}, nil
}

// Close closes the database file.
func (d *Driver) Close() error {
	return d.db.Close()
}

// Begin starts a transaction.
func (d *Driver) Begin(ctx context.Context, readOnly bool) (storage.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := d.db.Begin(!readOnly)
	if err != nil {
		if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
			return nil, storage.ErrStorageClosed
		}
		return nil, err
	}
	return &txn{tx: tx, bucket: tx.Bucket(bucketName), readOnly: readOnly, open: true}, nil
}

type txn struct {
	tx       *bbolt.Tx
	bucket   *bbolt.Bucket
	readOnly bool
	open     bool
}

func (t *txn) check(write bool) error {
	if !t.open {
		return storage.ErrTransactionClosed
	}
	if write && t.readOnly {
		return storage.ErrReadOnlyTransaction
	}
	return nil
}

func (t *txn) Get(ctx context.Context, key string) ([]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	value := t.bucket.Get([]byte(key))
	if value == nil {
		return nil, storage.ErrNotFound
	}
	// bbolt values are only valid for the life of the transaction.
	return bytes.Clone(value), nil
}

func (t *txn) Set(ctx context.Context, key string, value []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	return t.bucket.Put([]byte(key), value)
}

func (t *txn) Delete(ctx context.Context, key string) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.bucket.Delete([]byte(key))
}

func (t *txn) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	p := []byte(prefix)
	var keys []string
	c := t.bucket.Cursor()
	for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys = append(keys, string(k))
	}
	return keys, nil
}

func (t *txn) Commit(ctx context.Context) error {
	if err := t.check(false); err != nil {
		return err
	}
	t.open = false
	if t.readOnly {
		return t.tx.Rollback()
	}
	return t.tx.Commit()
}

func (t *txn) Abort() {
	if !t.open {
		return
	}
	t.open = false
	_ = t.tx.Rollback()
}

func (t *txn) Open() bool {
	return t.open
}

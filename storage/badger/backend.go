package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/kbingest/storage"
)

// Backend wraps a BadgerDB instance and implements storage.Driver.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ storage.Driver = (*Backend)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool) (*Backend, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := ensureDir(filePath); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(filePath)
	}

	logger := slog.Default().With("component", "badger")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		db:     db,
		logger: logger,
	}, nil
}

func ensureDir(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(filePath, 0755); err != nil {
			return err
		}
		info, err = os.Stat(filePath)
		if err != nil {
			return err
		}
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filePath)
	}
	return nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// Begin starts a new transaction. Read-write transactions detect
// conflicting concurrent writes at commit time.
func (b *Backend) Begin(ctx context.Context, readOnly bool) (storage.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.db.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	return &txn{
		tx:       b.db.NewTransaction(!readOnly),
		readOnly: readOnly,
		open:     true,
	}, nil
}

type txn struct {
	tx       *badger.Txn
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
	item, err := t.tx.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *txn) Set(ctx context.Context, key string, value []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.tx.Set([]byte(key), value)
}

func (t *txn) Delete(ctx context.Context, key string) error {
	if err := t.check(true); err != nil {
		return err
	}
	return t.tx.Delete([]byte(key))
}

func (t *txn) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	iter := t.tx.NewIterator(opts)
	defer iter.Close()

	var keys []string
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys = append(keys, string(iter.Item().KeyCopy(nil)))
	}
	return keys, nil
}

func (t *txn) Commit(ctx context.Context) error {
	if err := t.check(false); err != nil {
		return err
	}
	t.open = false
	if t.readOnly {
		t.tx.Discard()
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %w", storage.ErrConflict, err)
		}
		return err
	}
	return nil
}

func (t *txn) Abort() {
	if !t.open {
		return
	}
	t.open = false
	t.tx.Discard()
}

func (t *txn) Open() bool {
	return t.open
}

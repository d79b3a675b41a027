// Package badger stores blobs in a dedicated BadgerDB instance for
// single-node deployments and tests.
package badger

import (
	"context"
	"errors"

	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/storage"
	kvbadger "github.com/poiesic/kbingest/storage/badger"
)

const objectPrefix = "/blobs/"

// Store implements blob.Store on a badger backend of its own. It must not
// share a database with the metadata KV.
type Store struct {
	backend *kvbadger.Backend
}

var _ blob.Store = (*Store)(nil)

// Open opens a blob store at path, or in memory when inMemory is set.
func Open(path string, inMemory bool) (*Store, error) {
	backend, err := kvbadger.OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) Upload(ctx context.Context, key string, data []byte) error {
	return storage.WithTransaction(ctx, s.backend, func(txn storage.Txn) error {
		return txn.Set(ctx, objectPrefix+key, data)
	})
}

func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := storage.WithReadTransaction(ctx, s.backend, func(txn storage.Txn) error {
		var err error
		data, err = txn.Get(ctx, objectPrefix+key)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, blob.ErrNotFound
	}
	return data, err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return storage.WithTransaction(ctx, s.backend, func(txn storage.Txn) error {
		return txn.Delete(ctx, objectPrefix+key)
	})
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := storage.WithReadTransaction(ctx, s.backend, func(txn storage.Txn) error {
		var err error
		exists, err = storage.Exists(ctx, txn, objectPrefix+key)
		return err
	})
	return exists, err
}

package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/poiesic/kbingest/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDriver(t *testing.T) *Driver {
	t.Helper()
	driver, err := Open(filepath.Join(t.TempDir(), "data", "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close() })
	return driver
}

func TestDriver_SetGetDelete(t *testing.T) {
	driver := openTestDriver(t)
	ctx := context.Background()

	err := storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
		return txn.Set(ctx, "/kbs/kb1/config", []byte("cfg"))
	})
	require.NoError(t, err)

	err = storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
		value, err := txn.Get(ctx, "/kbs/kb1/config")
		require.NoError(t, err)
		assert.Equal(t, []byte("cfg"), value)
		_, err = txn.Get(ctx, "/kbs/kb2/config")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	err = storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
		return txn.Delete(ctx, "/kbs/kb1/config")
	})
	require.NoError(t, err)

	err = storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
		exists, err := storage.Exists(ctx, txn, "/kbs/kb1/config")
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestDriver_EmptyValue(t *testing.T) {
	driver := openTestDriver(t)
	ctx := context.Background()

	err := storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
		return txn.Set(ctx, "marker", nil)
	})
	require.NoError(t, err)

	err = storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
		value, err := txn.Get(ctx, "marker")
		require.NoError(t, err)
		assert.Empty(t, value)
		return nil
	})
	require.NoError(t, err)
}

func TestDriver_KeysByPrefix(t *testing.T) {
	driver := openTestDriver(t)
	ctx := context.Background()

	err := storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
		for _, key := range []string{"/a/1", "/a/2", "/ab/1", "/b/1"} {
			if err := txn.Set(ctx, key, []byte("x")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
		keys, err := txn.Keys(ctx, "/a/")
		require.NoError(t, err)
		assert.Equal(t, []string{"/a/1", "/a/2"}, keys)
		return nil
	})
	require.NoError(t, err)
}

func TestDriver_RollbackOnError(t *testing.T) {
	driver := openTestDriver(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
		require.NoError(t, txn.Set(ctx, "k", []byte("v")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
		_, err := txn.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestDriver_ReadOnly(t *testing.T) {
	driver := openTestDriver(t)
	ctx := context.Background()

	txn, err := driver.Begin(ctx, true)
	require.NoError(t, err)
	assert.ErrorIs(t, txn.Set(ctx, "k", []byte("v")), storage.ErrReadOnlyTransaction)
	require.NoError(t, txn.Commit(ctx))
	assert.False(t, txn.Open())
	assert.ErrorIs(t, txn.Commit(ctx), storage.ErrTransactionClosed)
}

func TestDriver_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.db")
	ctx := context.Background()

	driver, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
		return storage.SetLastSeqID(ctx, txn, "p1", 9)
	}))
	require.NoError(t, driver.Close())

	driver, err = Open(path)
	require.NoError(t, err)
	defer driver.Close()
	require.NoError(t, storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
		seqid, ok, err := storage.GetLastSeqID(ctx, txn, "p1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(9), seqid)
		return nil
	}))
}

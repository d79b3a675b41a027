package knowledgebox

import (
	"context"
	"testing"

	"github.com/poiesic/kbingest/blob"
	blobbadger "github.com/poiesic/kbingest/blob/badger"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
	"github.com/poiesic/kbingest/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (storage.Driver, blob.Store) {
	t.Helper()
	backend, err := badger.NewMemoryBackend()
	require.NoError(t, err)
	blobs, err := blobbadger.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() {
		blobs.Close()
		backend.Close()
	})
	return backend, blobs
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	driver, _ := setup(t)

	kbid, err := Create(ctx, driver, "docs", Config{Title: "Docs", SemanticModel: "m1"})
	require.NoError(t, err)
	assert.NotEmpty(t, kbid)

	_, err = Create(ctx, driver, "docs", Config{})
	assert.ErrorIs(t, err, ErrKnowledgeBoxConflict)

	_, err = Create(ctx, driver, "", Config{})
	assert.ErrorIs(t, err, ErrInvalidSlug)
	_, err = Create(ctx, driver, "a/b", Config{})
	assert.ErrorIs(t, err, ErrInvalidSlug)

	err = storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
		ok, err := Exists(ctx, txn, kbid)
		require.NoError(t, err)
		assert.True(t, ok)

		config, err := GetConfig(ctx, txn, kbid)
		require.NoError(t, err)
		assert.Equal(t, "docs", config.Slug)
		assert.Equal(t, "Docs", config.Title)
		assert.Equal(t, "m1", config.SemanticModel)
		assert.False(t, config.Created.IsZero())

		id, ok, err := IDBySlug(ctx, txn, "docs")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, kbid, id)

		_, err = GetConfig(ctx, txn, "missing")
		assert.ErrorIs(t, err, ErrKnowledgeBoxNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	driver, _ := setup(t)

	docs, err := Create(ctx, driver, "docs", Config{})
	require.NoError(t, err)
	notes, err := Create(ctx, driver, "notes", Config{})
	require.NoError(t, err)
	require.NoError(t, Delete(ctx, driver, notes))

	err = storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
		ids, err := List(ctx, txn)
		require.NoError(t, err)
		assert.Equal(t, []string{docs}, ids)
		return nil
	})
	require.NoError(t, err)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	driver, blobs := setup(t)

	kbid, err := Create(ctx, driver, "docs", Config{})
	require.NoError(t, err)
	err = storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
		_, err := New(kbid, txn, blobs).AddResource(ctx, "r1", "", nil)
		return err
	})
	require.NoError(t, err)

	require.NoError(t, Delete(ctx, driver, kbid))
	require.NoError(t, Delete(ctx, driver, kbid))

	err = storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
		keys, err := txn.Keys(ctx, storage.KBPrefix(kbid))
		require.NoError(t, err)
		assert.Empty(t, keys)
		_, ok, err := IDBySlug(ctx, txn, "docs")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	_, err = Create(ctx, driver, "docs", Config{})
	assert.NoError(t, err)
}

func TestResources(t *testing.T) {
	ctx := context.Background()
	driver, blobs := setup(t)
	txn, err := driver.Begin(ctx, false)
	require.NoError(t, err)
	defer txn.Abort()

	kb := New("kb1", txn, blobs)
	assert.Equal(t, "kb1", kb.ID())

	missing, err := kb.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	r1, err := kb.AddResource(ctx, "r1", "", &core.Basic{Title: "one"})
	require.NoError(t, err)
	basic, err := r1.GetBasic(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", basic.Slug)
	require.NoError(t, r1.SetSlug(ctx))

	r2, err := kb.AddResource(ctx, "r2", "r1", nil)
	require.NoError(t, err)
	basic2, err := r2.GetBasic(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "r1", basic2.Slug)
	require.NoError(t, r2.SetSlug(ctx))

	rid, err := kb.ResourceUUIDBySlug(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rid)

	_, err = r1.SetField(ctx, core.FieldID{Type: core.FieldText, Field: "body"}, &core.TextField{Body: "hi"})
	require.NoError(t, err)
	require.NoError(t, r1.SetOrigin(ctx, &core.Origin{SourceID: "web"}))

	ids, err := kb.ListResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids)

	require.NoError(t, kb.DeleteResource(ctx, "r1"))
	got, err := kb.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, got)
	keys, err := txn.Keys(ctx, storage.ResourcePrefix("kb1", "r1"))
	require.NoError(t, err)
	assert.Empty(t, keys)
	rid, err = kb.ResourceUUIDBySlug(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, rid)

	ids, err = kb.ListResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, ids)
}

package shards

import (
	"context"
	"testing"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/storage"
	"github.com/poiesic/kbingest/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Manager, *index.MemoryWriter, storage.Txn) {
	t.Helper()
	backend, err := badger.NewMemoryBackend()
	require.NoError(t, err)
	txn, err := backend.Begin(context.Background(), false)
	require.NoError(t, err)
	t.Cleanup(func() {
		txn.Abort()
		backend.Close()
	})
	w := index.NewMemoryWriter()
	return NewManager(w), w, txn
}

func TestCreateShard_BecomesActive(t *testing.T) {
	ctx := context.Background()
	m, w, txn := setup(t)

	active, err := m.GetCurrentActiveShard(ctx, txn, "kb1")
	require.NoError(t, err)
	assert.Nil(t, active)

	first, err := m.CreateShard(ctx, txn, "kb1", "model-a", "stable")
	require.NoError(t, err)
	second, err := m.CreateShard(ctx, txn, "kb1", "model-a", "stable")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active, err = m.GetCurrentActiveShard(ctx, txn, "kb1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, "model-a", active.SemanticModel)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, w.Shards())

	list, err := m.List(ctx, txn, "kb1")
	require.NoError(t, err)
	assert.Len(t, list.Shards, 2)

	found, err := m.GetShard(ctx, txn, "kb1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = m.GetShard(ctx, txn, "kb1", "missing")
	assert.ErrorIs(t, err, ErrShardNotFound)
}

func TestResourceShardID(t *testing.T) {
	ctx := context.Background()
	m, _, txn := setup(t)

	_, ok, err := m.GetResourceShardID(ctx, txn, "kb1", "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.SetResourceShardID(ctx, txn, "kb1", "r1", "s1"))
	id, ok, err := m.GetResourceShardID(ctx, txn, "kb1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s1", id)
}

func TestAddAndDeleteResource(t *testing.T) {
	ctx := context.Background()
	m, w, txn := setup(t)
	shard, err := m.CreateShard(ctx, txn, "kb1", "", "")
	require.NoError(t, err)

	msg := &core.IndexMessage{
		ResourceID: "r1",
		Paragraphs: map[string]map[string]core.IndexParagraph{
			"t/body": {"r1/t/body/0-5": {Start: 0, End: 5}},
		},
	}
	require.NoError(t, m.AddResource(ctx, shard, msg, index.Txid{SeqID: 1, KBID: "kb1"}))
	assert.Equal(t, shard.ID, msg.Shard)

	count, err := m.ParagraphCount(ctx, shard)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, m.DeleteResource(ctx, shard, "r1", index.Txid{SeqID: 2}))
	assert.Empty(t, w.Paragraphs(shard.ID))

	err = m.AddResource(ctx, &Shard{ID: "ghost"}, msg, index.Txid{})
	assert.ErrorIs(t, err, index.ErrShardNotFound)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	m, _, txn := setup(t)

	first, err := m.CreateShard(ctx, txn, "kb1", "model-a", "stable")
	require.NoError(t, err)
	second, err := m.CreateShard(ctx, txn, "kb1", "model-a", "stable")
	require.NoError(t, err)

	fresh := index.NewMemoryWriter()
	restored := NewManager(fresh)
	require.NoError(t, restored.Restore(ctx, txn, "kb1"))
	assert.ElementsMatch(t, []string{first.ID, second.ID}, fresh.Shards())

	require.NoError(t, restored.Restore(ctx, txn, "empty"))
	assert.Len(t, fresh.Shards(), 2)
}

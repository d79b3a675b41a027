package kbingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/kbingest/config"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/ingestion"
	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/notify"
	"github.com/poiesic/kbingest/reindex"
	"github.com/poiesic/kbingest/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := New(context.Background(), config.NewConfig(config.WithInMemory()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestNew(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		e := newTestEngine(t)
		assert.NotNil(t, e.Driver())
		assert.NotNil(t, e.Blobs())
		assert.NotNil(t, e.Shards())
		assert.NotNil(t, e.Processor())
		assert.NotNil(t, e.PubSub())
		assert.Nil(t, e.Deadletters(), "in-memory nodes keep no archive")
	})

	t.Run("on disk with bolt", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.NewConfig(config.WithDataDir(dir))
		cfg.Storage.Driver = config.StorageBolt
		cfg.Storage.Path = filepath.Join(dir, "kv.bolt")

		e, err := New(context.Background(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, e.Deadletters())
		assert.Equal(t, config.LockLocal, e.Config().Processor.Locking)
		require.NoError(t, e.Close())
		assert.FileExists(t, filepath.Join(dir, "deadletter.db"))
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.NewConfig(config.WithInMemory())
		cfg.Index.Backend = "elastic"
		e, err := New(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, e)
	})

	t.Run("storage path is a file", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.NewConfig(config.WithDataDir(dir))
		require.NoError(t, os.WriteFile(cfg.Storage.Path, []byte("test"), 0o644))

		e, err := New(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, e)
	})
}

func TestEngine_Close(t *testing.T) {
	e, err := New(context.Background(), config.NewConfig(config.WithInMemory()))
	require.NoError(t, err)
	assert.NoError(t, e.Close())
	assert.NoError(t, e.Close(), "closing twice is a no-op")
}

func TestEngine_ApplyAndShow(t *testing.T) {
	ctx := context.Background()
	writer := index.NewMemoryWriter()
	bus := notify.NewMemory()
	e := newTestEngine(t, WithIndexWriter(writer), WithPubSub(bus))

	kbid, err := e.CreateKnowledgeBox(ctx, "docs", knowledgebox.Config{SemanticModel: "multilingual"})
	require.NoError(t, err)
	resolved, err := e.ResolveKnowledgeBox(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, kbid, resolved)
	notes, cancel := bus.Subscribe(notify.Channel(kbid))
	defer cancel()

	err = e.Apply(ctx, &core.BrokerMessage{
		KBID:  kbid,
		UUID:  "r1",
		Slug:  "first",
		Texts: map[string]*core.TextField{"title": {Body: "Hello"}},
	})
	require.NoError(t, err)

	select {
	case data := <-notes:
		n, err := notify.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, core.WriteCreated, n.WriteType)
		assert.Equal(t, LocalPartition, n.Partition)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	view, err := e.Resource(ctx, kbid, "first")
	require.NoError(t, err)
	assert.Equal(t, "r1", view.UUID)
	assert.NotEmpty(t, view.Shard)
	require.NotNil(t, view.Basic)
	assert.Equal(t, "first", view.Basic.Slug)

	var title *FieldView
	for i := range view.Fields {
		if view.Fields[i].ID.Key() == "t/title" {
			title = &view.Fields[i]
		}
	}
	require.NotNil(t, title)
	assert.Equal(t, "Hello", title.Value.(*core.TextField).Body)
	assert.NotNil(t, writer.Resource(view.Shard, "r1"))

	_, err = e.Resource(ctx, kbid, "nope")
	assert.ErrorIs(t, err, resource.ErrResourceNotFound)

	result, err := e.Reindex(ctx, kbid, &reindex.Config{BatchSize: 10, Concurrency: 1, ReportInterval: 10, MaxRetries: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)

	require.NoError(t, e.DeleteKnowledgeBox(ctx, kbid))
	_, err = e.ResolveKnowledgeBox(ctx, "docs")
	assert.ErrorIs(t, err, knowledgebox.ErrKnowledgeBoxNotFound)
}

func TestEngine_ReopenRestoresShards(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.NewConfig(config.WithDataDir(dir))

	e, err := New(ctx, cfg)
	require.NoError(t, err)
	kbid, err := e.CreateKnowledgeBox(ctx, "docs", knowledgebox.Config{})
	require.NoError(t, err)
	require.NoError(t, e.Apply(ctx, &core.BrokerMessage{
		KBID:  kbid,
		UUID:  "r1",
		Texts: map[string]*core.TextField{"title": {Body: "Hello"}},
	}))
	require.NoError(t, e.Close())

	e, err = New(ctx, config.NewConfig(config.WithDataDir(dir)))
	require.NoError(t, err)
	defer e.Close()

	view, err := e.Resource(ctx, kbid, "r1")
	require.NoError(t, err)
	assert.Contains(t, e.Shards().Writer().(*index.MemoryWriter).Shards(), view.Shard)

	require.NoError(t, e.Apply(ctx, &core.BrokerMessage{
		KBID:  kbid,
		UUID:  "r1",
		Texts: map[string]*core.TextField{"title": {Body: "Again"}},
	}))
}

func TestEngine_NewConsumer(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	kbid, err := e.CreateKnowledgeBox(ctx, "docs", knowledgebox.Config{})
	require.NoError(t, err)

	c, err := e.NewConsumer(ingestion.WithWorkers(1))
	require.NoError(t, err)
	defer c.Release()

	deliveries := make(chan ingestion.Delivery, 1)
	deliveries <- ingestion.Delivery{SeqID: 1, Message: &core.BrokerMessage{
		KBID:  kbid,
		UUID:  "r1",
		Texts: map[string]*core.TextField{"title": {Body: "Hello"}},
	}}
	close(deliveries)
	require.NoError(t, c.Run(ctx, map[string]<-chan ingestion.Delivery{"0": deliveries}))

	families, err := e.Gatherer().Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "kbingest_processor_messages_total")
	assert.Contains(t, names, "go_goroutines")
}

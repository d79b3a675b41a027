package reindex

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	blobbadger "github.com/poiesic/kbingest/blob/badger"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/ingestion"
	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/shards"
	"github.com/poiesic/kbingest/storage"
	"github.com/poiesic/kbingest/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seeded struct {
	driver storage.Driver
	blobs  *blobbadger.Store
	kbid   string
	shards []string
}

// seed ingests resources r1 and r2, each with a text field carrying two
// paragraphs, through a processor bound to a throwaway index.
func seed(t *testing.T) *seeded {
	t.Helper()
	ctx := context.Background()
	backend, err := badger.NewMemoryBackend()
	require.NoError(t, err)
	blobs, err := blobbadger.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() {
		blobs.Close()
		backend.Close()
	})

	kbid, err := knowledgebox.Create(ctx, backend, "kb", knowledgebox.Config{})
	require.NoError(t, err)

	writer := index.NewMemoryWriter()
	proc, err := ingestion.NewProcessor(backend, blobs, shards.NewManager(writer))
	require.NoError(t, err)

	body := core.FieldID{Type: core.FieldText, Field: "body"}
	seqid := int64(0)
	for _, rid := range []string{"r1", "r2"} {
		seqid++
		require.NoError(t, proc.Process(ctx, &core.BrokerMessage{
			KBID:  kbid,
			UUID:  rid,
			Texts: map[string]*core.TextField{"body": {Body: "first second"}},
		}, seqid, "1"))
		seqid++
		require.NoError(t, proc.Process(ctx, &core.BrokerMessage{
			Source:        core.SourceProcessor,
			KBID:          kbid,
			UUID:          rid,
			ExtractedText: []core.ExtractedTextWrapper{{Field: body, Body: &core.ExtractedText{Text: "first second"}}},
			FieldMetadata: []core.FieldComputedMetadataWrapper{{
				Field: body,
				Metadata: &core.FieldComputedMetadata{Metadata: core.FieldMetadata{
					Paragraphs: []core.Paragraph{{Start: 0, End: 5}, {Start: 6, End: 12}},
				}},
			}},
		}, seqid, "1"))
	}
	return &seeded{driver: backend, blobs: blobs, kbid: kbid, shards: writer.Shards()}
}

// freshIndex returns a manager over an empty index holding the seeded shards.
func (s *seeded) freshIndex(t *testing.T) (*index.MemoryWriter, *shards.Manager) {
	t.Helper()
	writer := index.NewMemoryWriter()
	for _, id := range s.shards {
		require.NoError(t, writer.CreateShard(context.Background(), id))
	}
	return writer, shards.NewManager(writer)
}

func testConfig() *Config {
	return &Config{BatchSize: 1, Concurrency: 2, ReportInterval: 1, MaxRetries: 3, RetryDelay: time.Millisecond}
}

func TestReindexer_Run(t *testing.T) {
	s := seed(t)
	require.Len(t, s.shards, 1)
	writer, manager := s.freshIndex(t)

	var out bytes.Buffer
	r := NewReindexer(s.driver, s.blobs, manager, testConfig(), &out, nil)
	result, err := r.Run(context.Background(), s.kbid)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Indexed)
	assert.Zero(t, result.Skipped)
	assert.Len(t, writer.Paragraphs(s.shards[0]), 4)
	for _, rid := range []string{"r1", "r2"} {
		msg := writer.Resource(s.shards[0], rid)
		require.NotNil(t, msg, rid)
		assert.Equal(t, core.StatusProcessed, msg.Status)
		assert.Contains(t, msg.Texts, "t/body")
	}
	assert.Contains(t, out.String(), "Starting reindex of 2 resources")
	assert.Contains(t, out.String(), "Reindex complete")
}

func TestReindexer_SkipsUnplacedResources(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	err := storage.WithTransaction(ctx, s.driver, func(txn storage.Txn) error {
		_, err := knowledgebox.New(s.kbid, txn, s.blobs).AddResource(ctx, "r3", "", nil)
		return err
	})
	require.NoError(t, err)
	_, manager := s.freshIndex(t)

	var out bytes.Buffer
	result, err := NewReindexer(s.driver, s.blobs, manager, testConfig(), &out, nil).Run(ctx, s.kbid)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 1, result.Skipped)
	assert.Contains(t, out.String(), "Indexed 2 resources, skipped 1")
	assert.Contains(t, out.String(), "Skipped (no shard or deleted): r3")
}

func TestReindexer_UnknownKnowledgeBox(t *testing.T) {
	s := seed(t)
	_, manager := s.freshIndex(t)

	_, err := NewReindexer(s.driver, s.blobs, manager, nil, nil, nil).Run(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKnowledgeBoxNotFound)
}

func TestReindexer_EmptyKnowledgeBox(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	kbid, err := knowledgebox.Create(ctx, s.driver, "empty", knowledgebox.Config{})
	require.NoError(t, err)
	_, manager := s.freshIndex(t)

	var out bytes.Buffer
	result, err := NewReindexer(s.driver, s.blobs, manager, testConfig(), &out, nil).Run(ctx, kbid)
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Contains(t, out.String(), "No resources found")
}

// failingWriter fails the first n Index calls.
type failingWriter struct {
	*index.MemoryWriter
	n int
}

func (w *failingWriter) Index(ctx context.Context, shardID string, msg *core.IndexMessage, txid index.Txid) error {
	if w.n > 0 {
		w.n--
		return errors.New("index unavailable")
	}
	return w.MemoryWriter.Index(ctx, shardID, msg, txid)
}

func TestBatchProcessor_Retries(t *testing.T) {
	s := seed(t)
	writer, _ := s.freshIndex(t)
	flaky := &failingWriter{MemoryWriter: writer, n: 2}
	bp := NewBatchProcessor(s.driver, s.blobs, shards.NewManager(flaky), nil, 1, 3, time.Millisecond)

	indexed, skipped, err := bp.Process(context.Background(), s.kbid, []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, 1, indexed)
	assert.Empty(t, skipped)
	assert.NotNil(t, writer.Resource(s.shards[0], "r1"))
}

func TestBatchProcessor_GivesUp(t *testing.T) {
	s := seed(t)
	writer, _ := s.freshIndex(t)
	flaky := &failingWriter{MemoryWriter: writer, n: 10}
	bp := NewBatchProcessor(s.driver, s.blobs, shards.NewManager(flaky), nil, 1, 2, time.Millisecond)

	_, _, err := bp.Process(context.Background(), s.kbid, []string{"r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reindex resource r1")
	assert.Equal(t, 8, flaky.n)
}

func TestBatchProcessor_UnknownShard(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	writer, manager := s.freshIndex(t)
	err := storage.WithTransaction(ctx, s.driver, func(txn storage.Txn) error {
		return manager.SetResourceShardID(ctx, txn, s.kbid, "r1", "gone")
	})
	require.NoError(t, err)
	flaky := &failingWriter{MemoryWriter: writer}
	bp := NewBatchProcessor(s.driver, s.blobs, shards.NewManager(flaky), nil, 1, 5, time.Millisecond)

	_, _, err = bp.Process(ctx, s.kbid, []string{"r1"})
	assert.ErrorIs(t, err, shards.ErrShardNotFound)
}

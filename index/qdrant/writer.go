// Package qdrant stores shards in a Qdrant vector database.
//
// Each shard maps to the collection "shard_{id}". Paragraphs and sentences are
// points in that collection: sentences carry the "sentence" named vector,
// paragraphs carry no vector. User vectors go to one collection per vectorset,
// "shard_{id}__{vectorset}", created on first use with the vector's size.
//
// Every point carries a "keys" payload holding each segment prefix of its
// key, so a delete of "r1/t/body" is a single keyword filter.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/index"
	"github.com/qdrant/go-client/qdrant"
)

const (
	sentenceVector = "sentence"

	kindParagraph  = "paragraph"
	kindSentence   = "sentence"
	kindUserVector = "user_vector"

	upsertBatchSize = 256
)

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithDimension sets the size of sentence vectors.
func WithDimension(dim uint64) Option {
	return func(w *Writer) {
		w.dimension = dim
	}
}

// Writer implements index.Writer on top of a Qdrant client.
type Writer struct {
	client    *qdrant.Client
	logger    *slog.Logger
	dimension uint64

	mu    sync.Mutex
	known map[string]bool
}

var _ index.Writer = (*Writer)(nil)

// Connect dials Qdrant over gRPC and returns a Writer.
func Connect(ctx context.Context, host string, port int, opts ...Option) (*Writer, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	if _, err := client.ListCollections(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach qdrant: %w", err)
	}
	return New(client, opts...), nil
}

// New wraps an existing client.
func New(client *qdrant.Client, opts ...Option) *Writer {
	w := &Writer{
		client:    client,
		logger:    slog.Default(),
		dimension: 768,
		known:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "qdrant-writer")
	return w
}

// Close releases the client connection.
func (w *Writer) Close() error {
	return w.client.Close()
}

// CollectionName returns the collection that holds a shard.
func CollectionName(shardID string) string {
	return "shard_" + shardID
}

// VectorsetCollectionName returns the collection that holds one vectorset of a shard.
func VectorsetCollectionName(shardID, vectorset string) string {
	return CollectionName(shardID) + "__" + vectorset
}

// PointID derives a stable point id from an index key.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

func (w *Writer) collectionExists(ctx context.Context, name string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.known[name] {
		return true, nil
	}
	exists, err := w.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if exists {
		w.known[name] = true
	}
	return exists, nil
}

func (w *Writer) ensureCollection(ctx context.Context, name string, config *qdrant.VectorsConfig) error {
	exists, err := w.collectionExists(ctx, name)
	if err != nil || exists {
		return err
	}
	err = w.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig:  config,
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	w.mu.Lock()
	w.known[name] = true
	w.mu.Unlock()
	w.logger.Info("created collection", "collection", name)
	return nil
}

func (w *Writer) CreateShard(ctx context.Context, shardID string) error {
	return w.ensureCollection(ctx, CollectionName(shardID), qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
		sentenceVector: {
			Size:     w.dimension,
			Distance: qdrant.Distance_Cosine,
		},
	}))
}

func (w *Writer) requireShard(ctx context.Context, shardID string) error {
	exists, err := w.collectionExists(ctx, CollectionName(shardID))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", index.ErrShardNotFound, shardID)
	}
	return nil
}

func (w *Writer) Index(ctx context.Context, shardID string, msg *core.IndexMessage, txid index.Txid) error {
	if err := w.requireShard(ctx, shardID); err != nil {
		return err
	}
	collection := CollectionName(shardID)

	for _, key := range msg.ParagraphsToDelete {
		if err := w.deleteByKey(ctx, collection, key); err != nil {
			return err
		}
	}
	for _, key := range msg.SentencesToDelete {
		if err := w.deleteByKey(ctx, collection, key, kindSentence); err != nil {
			return err
		}
	}
	for vectorset, keys := range msg.VectorsToDelete {
		name := VectorsetCollectionName(shardID, vectorset)
		exists, err := w.collectionExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		for _, key := range keys {
			if err := w.deleteByKey(ctx, name, key); err != nil {
				return err
			}
		}
	}

	points := BuildPoints(msg, txid)
	if err := w.upsert(ctx, collection, points); err != nil {
		return err
	}

	for vectorset, vectors := range msg.UserVectors {
		if len(vectors) == 0 {
			continue
		}
		name := VectorsetCollectionName(shardID, vectorset)
		var size uint64
		for _, uv := range vectors {
			size = uint64(len(uv.Vector))
			break
		}
		err := w.ensureCollection(ctx, name, qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}))
		if err != nil {
			return err
		}
		if err := w.upsert(ctx, name, BuildUserVectorPoints(msg.ResourceID, vectors, txid)); err != nil {
			return err
		}
	}

	w.logger.Debug("indexed resource",
		"shard", shardID,
		"rid", msg.ResourceID,
		"points", len(points),
		"seqid", txid.SeqID)
	return nil
}

func (w *Writer) upsert(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))
		_, err := w.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points[start:end],
		})
		if err != nil {
			return fmt.Errorf("failed to upsert points into %s: %w", collection, err)
		}
	}
	return nil
}

func (w *Writer) deleteByKey(ctx context.Context, collection, key string, kinds ...string) error {
	_, err := w.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: keyFilter(key, kinds...),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from %s: %w", key, collection, err)
	}
	return nil
}

func keyFilter(key string, kinds ...string) *qdrant.Filter {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("keys", key)},
	}
	for _, kind := range kinds {
		filter.Should = append(filter.Should, qdrant.NewMatch("kind", kind))
	}
	return filter
}

func (w *Writer) DeleteResource(ctx context.Context, shardID, rid string, txid index.Txid) error {
	if err := w.requireShard(ctx, shardID); err != nil {
		return err
	}
	if err := w.deleteByKey(ctx, CollectionName(shardID), rid); err != nil {
		return err
	}

	collections, err := w.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	prefix := CollectionName(shardID) + "__"
	for _, name := range collections {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			if err := w.deleteByKey(ctx, name, rid); err != nil {
				return err
			}
		}
	}
	w.logger.Debug("deleted resource", "shard", shardID, "rid", rid, "seqid", txid.SeqID)
	return nil
}

func (w *Writer) ParagraphCount(ctx context.Context, shardID string) (int, error) {
	if err := w.requireShard(ctx, shardID); err != nil {
		return 0, err
	}
	count, err := w.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: CollectionName(shardID),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("kind", kindParagraph)},
		},
		Exact: qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count paragraphs in %s: %w", shardID, err)
	}
	return int(count), nil
}

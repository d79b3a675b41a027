// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package kbingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/poiesic/kbingest/blob"
	blobbadger "github.com/poiesic/kbingest/blob/badger"
	"github.com/poiesic/kbingest/blob/gcs"
	"github.com/poiesic/kbingest/blob/s3"
	"github.com/poiesic/kbingest/config"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/deadletter"
	dlsqlite "github.com/poiesic/kbingest/deadletter/sqlite"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/index/qdrant"
	"github.com/poiesic/kbingest/ingestion"
	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/locking"
	"github.com/poiesic/kbingest/metrics"
	"github.com/poiesic/kbingest/notify"
	"github.com/poiesic/kbingest/reindex"
	"github.com/poiesic/kbingest/resource"
	"github.com/poiesic/kbingest/shards"
	"github.com/poiesic/kbingest/storage"
	"github.com/poiesic/kbingest/storage/badger"
	"github.com/poiesic/kbingest/storage/bolt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// LocalPartition is the partition used for messages applied directly
// through Engine.Apply.
const LocalPartition = "local"

// Engine wires the stores, the index and the processor of one ingest node.
type Engine struct {
	config    *config.Config
	driver    storage.Driver
	blobs     blob.Store
	writer    index.Writer
	shards    *shards.Manager
	pubsub    notify.PubSub
	archive   *dlsqlite.Archive
	registry  *prometheus.Registry
	metrics   *metrics.Processor
	processor *ingestion.Processor
	logger    *slog.Logger

	closers []io.Closer
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger *slog.Logger
	pubsub notify.PubSub
	writer index.Writer
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPubSub publishes notifications on pubsub instead of the in-process bus.
func WithPubSub(pubsub notify.PubSub) EngineOption {
	return func(o *engineOptions) {
		o.pubsub = pubsub
	}
}

// WithIndexWriter bypasses the configured index backend.
func WithIndexWriter(w index.Writer) EngineOption {
	return func(o *engineOptions) {
		o.writer = w
	}
}

// New opens every component described by cfg. A nil cfg uses the defaults.
func New(ctx context.Context, cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{config: cfg, logger: options.logger}
	if err := e.open(ctx, options); err != nil {
		if cerr := e.Close(); cerr != nil {
			e.logger.Error("error closing partially opened engine", "err", cerr)
		}
		return nil, err
	}
	return e, nil
}

func (e *Engine) open(ctx context.Context, options *engineOptions) error {
	cfg := e.config

	switch cfg.Storage.Driver {
	case config.StorageBolt:
		driver, err := bolt.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open bolt: %w", err)
		}
		e.driver = driver
		e.closers = append(e.closers, driver)
	default:
		backend, err := badger.OpenBackend(cfg.Storage.Path, cfg.Storage.InMemory)
		if err != nil {
			return fmt.Errorf("open badger: %w", err)
		}
		e.driver = backend
		e.closers = append(e.closers, backend)
	}

	switch cfg.Blob.Backend {
	case config.BlobS3:
		store, err := s3.New(ctx, cfg.Blob.S3)
		if err != nil {
			return err
		}
		e.blobs = store
	case config.BlobGCS:
		store, err := gcs.New(ctx, cfg.Blob.GCS)
		if err != nil {
			return err
		}
		e.blobs = store
		e.closers = append(e.closers, store)
	default:
		store, err := blobbadger.Open(cfg.Blob.Path, cfg.Storage.InMemory)
		if err != nil {
			return fmt.Errorf("open local blobs: %w", err)
		}
		e.blobs = store
		e.closers = append(e.closers, store)
	}

	restore := false
	switch {
	case options.writer != nil:
		e.writer = options.writer
	case cfg.Index.Backend == config.IndexQdrant:
		w, err := qdrant.Connect(ctx, cfg.Index.QdrantHost, cfg.Index.QdrantPort,
			qdrant.WithDimension(cfg.Index.VectorDimension), qdrant.WithLogger(e.logger))
		if err != nil {
			return err
		}
		e.writer = w
		e.closers = append(e.closers, w)
	default:
		e.writer = index.NewMemoryWriter()
		restore = true
	}
	e.shards = shards.NewManager(e.writer, shards.WithLogger(e.logger))
	if restore {
		if err := e.restoreShards(ctx); err != nil {
			return fmt.Errorf("restore shards: %w", err)
		}
	}

	var locker locking.Locker = locking.NewLocalLocker()
	if cfg.Processor.Locking == config.LockKV {
		locker = locking.NewKVLocker(e.driver, locking.WithLogger(e.logger))
	}

	sink := deadletter.Tee{deadletter.NewBlobSink(e.blobs, e.logger)}
	if cfg.Processor.DeadletterPath != "" {
		archive, err := dlsqlite.Open(cfg.Processor.DeadletterPath)
		if err != nil {
			return fmt.Errorf("open deadletter archive: %w", err)
		}
		e.archive = archive
		e.closers = append(e.closers, archive)
		sink = append(sink, archive)
	}

	e.pubsub = options.pubsub
	if e.pubsub == nil {
		e.pubsub = notify.NewMemory()
	}

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.metrics = metrics.NewProcessor(e.registry)

	processor, err := ingestion.NewProcessor(e.driver, e.blobs, e.shards,
		ingestion.WithLogger(e.logger),
		ingestion.WithMetrics(e.metrics),
		ingestion.WithLocker(locker),
		ingestion.WithPubSub(e.pubsub),
		ingestion.WithDeadletter(sink),
		ingestion.WithMaxResourceParagraphs(cfg.Processor.MaxResourceParagraphs),
		ingestion.WithMaxShardParagraphs(cfg.Processor.MaxShardParagraphs),
	)
	if err != nil {
		return err
	}
	e.processor = processor
	return nil
}

func (e *Engine) restoreShards(ctx context.Context) error {
	return storage.WithReadTransaction(ctx, e.driver, func(txn storage.Txn) error {
		kbids, err := knowledgebox.List(ctx, txn)
		if err != nil {
			return err
		}
		for _, kbid := range kbids {
			if err := e.shards.Restore(ctx, txn, kbid); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases every component. All closers run; failures are aggregated.
func (e *Engine) Close() error {
	var result *multierror.Error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			e.logger.Error("error closing component", "err", err)
			result = multierror.Append(result, err)
		}
	}
	e.closers = nil
	return result.ErrorOrNil()
}

func (e *Engine) Config() *config.Config {
	return e.config
}

func (e *Engine) Driver() storage.Driver {
	return e.driver
}

func (e *Engine) Blobs() blob.Store {
	return e.blobs
}

func (e *Engine) Shards() *shards.Manager {
	return e.shards
}

func (e *Engine) PubSub() notify.PubSub {
	return e.pubsub
}

func (e *Engine) Processor() *ingestion.Processor {
	return e.processor
}

// Gatherer exposes the engine's metrics, e.g. to promhttp.
func (e *Engine) Gatherer() prometheus.Gatherer {
	return e.registry
}

// Deadletters returns the SQLite archive, or nil when none is configured.
func (e *Engine) Deadletters() *dlsqlite.Archive {
	return e.archive
}

// NewConsumer returns a partition consumer configured from the consumer section.
func (e *Engine) NewConsumer(opts ...ingestion.ConsumerOption) (*ingestion.PartitionConsumer, error) {
	c := e.config.Consumer
	base := []ingestion.ConsumerOption{
		ingestion.WithWorkers(c.Workers),
		ingestion.WithRetry(c.MaxRetries, c.InitialBackoff, c.MaxBackoff),
		ingestion.WithConsumerLogger(e.logger),
		ingestion.WithConsumerMetrics(e.metrics),
	}
	return ingestion.NewPartitionConsumer(e.processor, append(base, opts...)...)
}

// CreateKnowledgeBox registers a knowledge box and returns its id.
func (e *Engine) CreateKnowledgeBox(ctx context.Context, slug string, cfg knowledgebox.Config) (string, error) {
	kbid, err := knowledgebox.Create(ctx, e.driver, slug, cfg)
	if err != nil {
		return "", err
	}
	e.logger.Info("knowledge box created", "kbid", kbid, "slug", slug)
	return kbid, nil
}

// DeleteKnowledgeBox removes a knowledge box and every key under it.
// Messages still in flight for it are skipped by the processor.
func (e *Engine) DeleteKnowledgeBox(ctx context.Context, kbid string) error {
	if err := knowledgebox.Delete(ctx, e.driver, kbid); err != nil {
		return err
	}
	e.logger.Info("knowledge box deleted", "kbid", kbid)
	return nil
}

// ResolveKnowledgeBox accepts a knowledge box id or slug and returns the id.
func (e *Engine) ResolveKnowledgeBox(ctx context.Context, idOrSlug string) (string, error) {
	var kbid string
	err := storage.WithReadTransaction(ctx, e.driver, func(txn storage.Txn) error {
		exists, err := knowledgebox.Exists(ctx, txn, idOrSlug)
		if err != nil {
			return err
		}
		if exists {
			kbid = idOrSlug
			return nil
		}
		id, ok, err := knowledgebox.IDBySlug(ctx, txn, idOrSlug)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", knowledgebox.ErrKnowledgeBoxNotFound, idOrSlug)
		}
		kbid = id
		return nil
	})
	return kbid, err
}

// Apply processes msg synchronously. Failures are returned as they happened.
func (e *Engine) Apply(ctx context.Context, msg *core.BrokerMessage) error {
	return e.processor.Process(ctx, msg, ingestion.NoSeqID, LocalPartition)
}

// LastSeqID returns the last committed seqid of partition, or 0 when none
// was committed yet.
func (e *Engine) LastSeqID(ctx context.Context, partition string) (int64, error) {
	var seqid int64
	err := storage.WithReadTransaction(ctx, e.driver, func(txn storage.Txn) error {
		var err error
		seqid, _, err = storage.GetLastSeqID(ctx, txn, partition)
		return err
	})
	return seqid, err
}

// Reindex regenerates the index entries of every resource in kbid.
func (e *Engine) Reindex(ctx context.Context, kbid string, cfg *reindex.Config, progress io.Writer) (*reindex.Result, error) {
	r := reindex.NewReindexer(e.driver, e.blobs, e.shards, cfg, progress, e.logger)
	return r.Run(ctx, kbid)
}

// FieldView is the stored state of one field.
type FieldView struct {
	ID    core.FieldID     `yaml:"id"`
	Value core.FieldValue  `yaml:"value"`
	Error *core.FieldError `yaml:"error,omitempty"`
}

// ResourceView is the stored state of a resource.
type ResourceView struct {
	KBID   string      `yaml:"kbid"`
	UUID   string      `yaml:"uuid"`
	Shard  string      `yaml:"shard"`
	Basic  *core.Basic `yaml:"basic"`
	Fields []FieldView `yaml:"fields"`
}

// Resource returns the stored state of a resource, resolving rid as a slug
// when no resource has that uuid.
func (e *Engine) Resource(ctx context.Context, kbid, rid string) (*ResourceView, error) {
	var view *ResourceView
	err := storage.WithReadTransaction(ctx, e.driver, func(txn storage.Txn) error {
		kb := knowledgebox.New(kbid, txn, e.blobs, knowledgebox.WithLogger(e.logger))
		res, err := kb.GetResource(ctx, rid)
		if err != nil {
			return err
		}
		if res == nil {
			owner, err := kb.ResourceUUIDBySlug(ctx, rid)
			if err != nil {
				return err
			}
			if owner == "" {
				return fmt.Errorf("%w: %s", resource.ErrResourceNotFound, rid)
			}
			rid = owner
			if res, err = kb.GetResource(ctx, rid); err != nil {
				return err
			}
			if res == nil {
				return fmt.Errorf("%w: %s", resource.ErrResourceNotFound, rid)
			}
		}
		defer res.Clean()

		basic, err := res.GetBasic(ctx)
		if err != nil {
			return err
		}
		shardID, _, err := e.shards.GetResourceShardID(ctx, txn, kbid, rid)
		if err != nil {
			return err
		}
		view = &ResourceView{KBID: kbid, UUID: rid, Shard: shardID, Basic: basic}

		ids, err := res.GetFields(ctx, true)
		if err != nil {
			return err
		}
		for _, id := range ids {
			f, err := res.GetField(ctx, id, false)
			if err != nil {
				return err
			}
			value, err := f.GetValue(ctx)
			if err != nil {
				return err
			}
			fieldErr, err := f.GetError(ctx)
			if err != nil {
				return err
			}
			view.Fields = append(view.Fields, FieldView{ID: id, Value: value, Error: fieldErr})
		}
		return nil
	})
	return view, err
}

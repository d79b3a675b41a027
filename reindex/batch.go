package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/resource"
	"github.com/poiesic/kbingest/shards"
	"github.com/poiesic/kbingest/storage"
	"golang.org/x/sync/errgroup"
)

// BatchProcessor regenerates and resubmits the index messages of a batch of
// resources.
type BatchProcessor struct {
	driver         storage.Driver
	blobs          blob.Store
	shards         *shards.Manager
	logger         *slog.Logger
	concurrency    int
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// concurrency: resources reindexed at once within a batch
// maxRetries: maximum number of attempts per resource
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(driver storage.Driver, blobs blob.Store, shardManager *shards.Manager, logger *slog.Logger, concurrency, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchProcessor{
		driver:         driver,
		blobs:          blobs,
		shards:         shardManager,
		logger:         logger,
		concurrency:    concurrency,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process reindexes every resource of the batch. Resources that vanished or
// were never placed on a shard are skipped and returned by id.
func (bp *BatchProcessor) Process(ctx context.Context, kbid string, rids []string) (indexed int, skipped []string, err error) {
	if len(rids) == 0 {
		return 0, nil, nil
	}

	var nIndexed atomic.Int64
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)
	for _, rid := range rids {
		g.Go(func() error {
			var done bool
			err := RetryWithBackoff(gctx, func() error {
				var err error
				done, err = bp.reindexResource(gctx, kbid, rid)
				return err
			}, bp.maxRetries, bp.retryBaseDelay)
			if err != nil {
				return fmt.Errorf("reindex resource %s: %w", rid, err)
			}
			if done {
				nIndexed.Add(1)
				return nil
			}
			mu.Lock()
			skipped = append(skipped, rid)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	slices.Sort(skipped)
	return int(nIndexed.Load()), skipped, err
}

// reindexResource reports false when the resource has nothing to reindex.
func (bp *BatchProcessor) reindexResource(ctx context.Context, kbid, rid string) (bool, error) {
	var msgShard *shards.Shard
	var res *resource.Resource
	indexed := false
	err := storage.WithReadTransaction(ctx, bp.driver, func(txn storage.Txn) error {
		shardID, ok, err := bp.shards.GetResourceShardID(ctx, txn, kbid, rid)
		if err != nil {
			return err
		}
		if !ok {
			bp.logger.Info("resource has no shard, skipping", "kbid", kbid, "uuid", rid)
			return nil
		}
		msgShard, err = bp.shards.GetShard(ctx, txn, kbid, shardID)
		if err != nil {
			return backoff.Permanent(err)
		}

		res = resource.New(kbid, rid, txn, bp.blobs, resource.WithLogger(bp.logger))
		b, err := res.GenerateIndexMessage(ctx)
		if errors.Is(err, resource.ErrResourceNotFound) {
			bp.logger.Info("resource deleted, skipping", "kbid", kbid, "uuid", rid)
			return nil
		}
		if err != nil {
			return err
		}
		txid := index.Txid{KBID: kbid}
		if err := bp.shards.AddResource(ctx, msgShard, b.Build(), txid); err != nil {
			return err
		}
		indexed = true
		return nil
	})
	if res != nil {
		res.Clean()
	}
	return indexed, err
}

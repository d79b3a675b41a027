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


package reindex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/shards"
	"github.com/poiesic/kbingest/storage"
)

// Config holds configuration for the reindex operation.
type Config struct {
	// BatchSize is the number of resources to process in each batch
	BatchSize int

	// Concurrency is how many resources of a batch are reindexed at once
	Concurrency int

	// ReportInterval is how often to report progress (number of resources)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per resource
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		Concurrency:    4,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Result summarizes a finished reindex.
type Result struct {
	Total   int
	Indexed int
	Skipped int
	Elapsed time.Duration
}

// Reindexer orchestrates the reindex of every resource in a knowledge box.
type Reindexer struct {
	driver    storage.Driver
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr)
func NewReindexer(driver storage.Driver, blobs blob.Store, shardManager *shards.Manager, config *Config, progress io.Writer, logger *slog.Logger) *Reindexer {
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Reindexer{
		driver:    driver,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(driver, blobs, shardManager, logger, config.Concurrency, config.MaxRetries, config.RetryDelay),
	}
}

// Run reindexes every resource of kbid.
func (r *Reindexer) Run(ctx context.Context, kbid string) (*Result, error) {
	var exists bool
	err := storage.WithReadTransaction(ctx, r.driver, func(txn storage.Txn) error {
		var err error
		exists, err = knowledgebox.Exists(ctx, txn, kbid)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBoxNotFound, kbid)
	}

	iterator := NewResourceIterator(r.driver, kbid, r.config.BatchSize)
	ids, err := iterator.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	result := &Result{Total: len(ids)}
	if result.Total == 0 {
		fmt.Fprintf(r.progress, "No resources found in knowledge box %s\n", kbid)
		return result, nil
	}

	fmt.Fprintf(r.progress, "Starting reindex of %d resources (batch size: %d)\n",
		result.Total, r.config.BatchSize)

	progress := NewProgress(r.progress, result.Total, r.config.ReportInterval)
	err = iterator.ForEach(ctx, func(rids []string) error {
		indexed, skipped, err := r.processor.Process(ctx, kbid, rids)
		progress.Record(indexed, skipped)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return progress.Result(), err
	}
	return progress.Finish(), nil
}

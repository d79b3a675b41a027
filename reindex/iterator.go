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

	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/storage"
)

const (
	// DefaultBatchSize is the default number of resources handed out per batch
	DefaultBatchSize = 100
)

// ResourceIterator iterates over the resource ids of a knowledge box in batches.
type ResourceIterator struct {
	driver    storage.Driver
	kbid      string
	batchSize int
}

// NewResourceIterator creates a new resource iterator.
// batchSize: number of resource ids per batch (defaults when <= 0)
func NewResourceIterator(driver storage.Driver, kbid string, batchSize int) *ResourceIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ResourceIterator{
		driver:    driver,
		kbid:      kbid,
		batchSize: batchSize,
	}
}

// List returns every resource id, in key order.
func (it *ResourceIterator) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := storage.WithReadTransaction(ctx, it.driver, func(txn storage.Txn) error {
		var err error
		ids, err = knowledgebox.New(it.kbid, txn, nil).ListResources(ctx)
		return err
	})
	return ids, err
}

// ForEach calls fn for each batch of resource ids.
// Iteration stops on first error from fn or when all resources are visited.
// Context cancellation is checked between batches.
func (it *ResourceIterator) ForEach(ctx context.Context, fn func([]string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The id list is a snapshot; resources created afterwards are not visited.
	ids, err := it.List(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < len(ids); i += it.batchSize {
		end := min(i+it.batchSize, len(ids))
		if err := fn(ids[i:end]); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/metrics"
	"github.com/poiesic/kbingest/shards"
	"github.com/poiesic/kbingest/storage"
)

type fieldWarning struct {
	field   string
	message string
}

func (p *Processor) indexResource(ctx context.Context, txn storage.Txn, kb *knowledgebox.KnowledgeBox, rid string, msg *core.IndexMessage, pass *txnPass) ([]fieldWarning, error) {
	var warnings []fieldWarning
	err := p.metrics.Wrap(metrics.OpIndexResource, func() error {
		if err := validateIndexable(msg, p.maxResourceParagraphs); err != nil {
			return err
		}
		warnings = trimEntityFacets(msg, p.maxEntityFacets)

		shard, err := p.resourceShard(ctx, txn, kb, rid)
		if err != nil {
			return err
		}
		txid := index.Txid{SeqID: pass.seqid, Partition: pass.partition, KBID: kb.ID(), Source: pass.source}
		return p.shards.AddResource(ctx, shard, msg, txid)
	})
	return warnings, err
}

// resourceShard returns the shard a resource lives on, placing it on the
// active shard, or on a new one, when it has none yet.
func (p *Processor) resourceShard(ctx context.Context, txn storage.Txn, kb *knowledgebox.KnowledgeBox, rid string) (*shards.Shard, error) {
	shardID, ok, err := p.resourceShardID(ctx, txn, kb.ID(), rid)
	if err != nil {
		return nil, err
	}
	if ok {
		shard, err := p.shards.GetShard(ctx, txn, kb.ID(), shardID)
		if errors.Is(err, shards.ErrShardNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrShardNotAvailable, shardID)
		}
		return shard, err
	}

	shard, err := p.activeShard(ctx, kb.ID())
	if err != nil {
		return nil, err
	}
	if err := p.shards.SetResourceShardID(ctx, txn, kb.ID(), rid, shard.ID); err != nil {
		return nil, err
	}
	return shard, nil
}

// activeShard returns the shard new resources are placed on, creating one
// when the knowledge box has none or its active shard is full. The shard
// list is read and written in transactions of its own, and a new shard is
// committed before the shard-create lock is released.
func (p *Processor) activeShard(ctx context.Context, kbid string) (*shards.Shard, error) {
	shard, err := p.usableShard(ctx, kbid)
	if err != nil || shard != nil {
		return shard, err
	}

	unlock, err := p.locker.Lock(ctx, shardLockKey(kbid))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another pass may have created the shard while we waited.
	shard, err = p.usableShard(ctx, kbid)
	if err != nil || shard != nil {
		return shard, err
	}
	err = storage.WithTransaction(ctx, p.driver, func(txn storage.Txn) error {
		config, err := knowledgebox.GetConfig(ctx, txn, kbid)
		if err != nil {
			return err
		}
		shard, err = p.shards.CreateShard(ctx, txn, kbid, config.SemanticModel, config.ReleaseChannel)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.ShardCreated()
	return shard, nil
}

// usableShard returns the committed active shard of kbid, or nil when there
// is none or it holds maxShardParagraphs paragraphs.
func (p *Processor) usableShard(ctx context.Context, kbid string) (*shards.Shard, error) {
	var shard *shards.Shard
	err := storage.WithReadTransaction(ctx, p.driver, func(txn storage.Txn) error {
		var err error
		shard, err = p.shards.GetCurrentActiveShard(ctx, txn, kbid)
		return err
	})
	if err != nil || shard == nil {
		return nil, err
	}
	if p.maxShardParagraphs > 0 {
		count, err := p.shards.ParagraphCount(ctx, shard)
		if err != nil {
			return nil, err
		}
		if count >= p.maxShardParagraphs {
			p.logger.Info("active shard is full", "kbid", kbid, "shard", shard.ID, "paragraphs", count)
			return nil, nil
		}
	}
	return shard, nil
}

// resourceShardID reads the placement of a resource under the resource lock,
// so a concurrent move cannot be observed half way.
func (p *Processor) resourceShardID(ctx context.Context, txn storage.Txn, kbid, rid string) (string, bool, error) {
	unlock, err := p.locker.Lock(ctx, resourceLockKey(kbid, rid))
	if err != nil {
		return "", false, err
	}
	defer unlock()
	return p.shards.GetResourceShardID(ctx, txn, kbid, rid)
}

// validateIndexable rejects a message whose paragraph total exceeds limit,
// naming the last field counted before the total went over.
func validateIndexable(msg *core.IndexMessage, limit int) error {
	if limit <= 0 {
		return nil
	}
	total := 0
	exceeded := ""
	for _, field := range slices.Sorted(maps.Keys(msg.Paragraphs)) {
		total += len(msg.Paragraphs[field])
		if total > limit && exceeded == "" {
			exceeded = field
		}
	}
	if total > limit {
		return &ResourceNotIndexableError{Field: exceeded, Paragraphs: total, Limit: limit}
	}
	return nil
}

// trimEntityFacets keeps the first limit entity labels of every field text.
func trimEntityFacets(msg *core.IndexMessage, limit int) []fieldWarning {
	var warnings []fieldWarning
	for _, field := range slices.Sorted(maps.Keys(msg.Texts)) {
		info := msg.Texts[field]
		if len(info.Labels) <= limit {
			continue
		}
		kept := make([]string, 0, len(info.Labels))
		entities := 0
		for _, label := range info.Labels {
			if strings.HasPrefix(label, entityLabelPrefix) {
				entities++
				if entities > limit {
					continue
				}
			}
			kept = append(kept, label)
		}
		if entities > limit {
			info.Labels = kept
			msg.Texts[field] = info
			warnings = append(warnings, fieldWarning{
				field:   field,
				message: fmt.Sprintf("too many detected entities; only the first %d are available as facets for filtering", limit),
			})
		}
	}
	return warnings
}

func shardLockKey(kbid string) string {
	return "shard-create/" + kbid
}

func resourceLockKey(kbid, rid string) string {
	return "resource-index/" + kbid + "/" + rid
}

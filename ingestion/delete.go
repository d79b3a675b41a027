package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/metrics"
	"github.com/poiesic/kbingest/shards"
	"github.com/poiesic/kbingest/storage"
)

func (p *Processor) deleteResource(ctx context.Context, msg *core.BrokerMessage, seqid int64, partition string) error {
	return p.metrics.Wrap(metrics.OpDeleteResource, func() error {
		txn, err := p.driver.Begin(ctx, false)
		if err != nil {
			return err
		}
		defer txn.Abort()

		kb := knowledgebox.New(msg.KBID, txn, p.blobs, knowledgebox.WithLogger(p.logger))
		rid, err := p.resourceUUID(ctx, kb, msg)
		if err != nil {
			return err
		}

		err = p.removeResource(ctx, txn, kb, rid, msg, seqid, partition)
		if err == nil {
			err = advanceSequence(ctx, txn, seqid, partition)
		}
		if err == nil {
			err = txn.Commit(ctx)
		}
		if err != nil {
			txn.Abort()
			p.notifyAbort(ctx, partition, seqid, msg.MultiID, msg.KBID, rid, msg.Source)
			p.metrics.Message(msg.Source.String(), metrics.OutcomeAborted)
			return err
		}

		p.notifyCommit(ctx, partition, seqid, msg.MultiID, rid, msg, core.WriteDeleted, len(msg.Errors) > 0)
		p.metrics.Message(msg.Source.String(), metrics.OutcomeDeleted)
		return nil
	})
}

func (p *Processor) removeResource(ctx context.Context, txn storage.Txn, kb *knowledgebox.KnowledgeBox, rid string, msg *core.BrokerMessage, seqid int64, partition string) error {
	shardID, ok, err := p.resourceShardID(ctx, txn, kb.ID(), rid)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Warn("resource does not exist", "kbid", kb.ID(), "uuid", rid)
		return nil
	}
	shard, err := p.shards.GetShard(ctx, txn, kb.ID(), shardID)
	if errors.Is(err, shards.ErrShardNotFound) {
		return fmt.Errorf("%w: %s", ErrShardNotAvailable, shardID)
	}
	if err != nil {
		return err
	}
	txid := index.Txid{SeqID: seqid, Partition: partition, KBID: kb.ID(), Source: msg.Source}
	if err := p.shards.DeleteResource(ctx, shard, rid, txid); err != nil {
		return err
	}
	return kb.DeleteResource(ctx, rid)
}

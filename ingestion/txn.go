package ingestion

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/metrics"
	"github.com/poiesic/kbingest/resource"
	"github.com/poiesic/kbingest/storage"
)

func (p *Processor) commitSlug(ctx context.Context, res *resource.Resource) error {
	return p.metrics.Wrap(metrics.OpCommitSlug, func() error {
		prev := res.Txn()
		defer res.SetTxn(prev)
		return storage.WithTransaction(ctx, p.driver, func(txn storage.Txn) error {
			res.SetTxn(txn)
			return res.SetSlug(ctx)
		})
	})
}

func (p *Processor) txn(ctx context.Context, messages []*core.BrokerMessage, seqid int64, partition string) error {
	if len(messages) == 0 {
		return nil
	}
	return p.metrics.Wrap(metrics.OpTxn, func() error {
		return p.runTxn(ctx, messages, seqid, partition)
	})
}

func (p *Processor) runTxn(ctx context.Context, messages []*core.BrokerMessage, seqid int64, partition string) error {
	first := messages[0]
	kbid := first.KBID
	source := messagesSource(messages)

	var exists bool
	err := storage.WithReadTransaction(ctx, p.driver, func(txn storage.Txn) error {
		var err error
		exists, err = knowledgebox.Exists(ctx, txn, kbid)
		return err
	})
	if err != nil {
		return err
	}
	if !exists {
		p.logger.Info("knowledge box is deleted, skipping txn", "kbid", kbid, "seqid", seqid)
		err := storage.WithTransaction(ctx, p.driver, func(txn storage.Txn) error {
			return advanceSequence(ctx, txn, seqid, partition)
		})
		if err != nil {
			return err
		}
		p.metrics.Message(source.String(), metrics.OutcomeSkipped)
		return nil
	}

	txn, err := p.driver.Begin(ctx, false)
	if err != nil {
		return err
	}
	defer txn.Abort()

	kb := knowledgebox.New(kbid, txn, p.blobs, knowledgebox.WithLogger(p.logger))
	pass := &txnPass{messages: messages, seqid: seqid, partition: partition, source: source}
	defer func() {
		if pass.res != nil {
			pass.res.Clean()
		}
	}()

	err = p.applyAndIndex(ctx, txn, kb, pass)
	if err == nil {
		return nil
	}

	txn.Abort()
	last := messages[len(messages)-1]
	p.notifyAbort(ctx, partition, seqid, first.MultiID, kbid, pass.rid, last.Source)
	if IsTransient(err) || errors.Is(err, ErrSequenceOrderViolation) {
		p.metrics.Message(source.String(), metrics.OutcomeAborted)
		return err
	}

	p.deadletterMessages(ctx, messages, seqid, partition)
	p.metrics.Message(source.String(), metrics.OutcomeDeadlettered)
	if pass.res != nil {
		p.markResourceError(ctx, kbid, pass.rid, seqid, partition, source)
	}
	if seqid == NoSeqID {
		return err
	}
	return &DeadletteredError{Err: err}
}

type txnPass struct {
	messages  []*core.BrokerMessage
	seqid     int64
	partition string
	source    core.MessageSource

	rid         string
	res         *resource.Resource
	created     bool
	fieldErrors bool
}

// applyAndIndex runs one pass over the messages. It commits txn, or leaves
// it open when the pass fails or modifies nothing.
func (p *Processor) applyAndIndex(ctx context.Context, txn storage.Txn, kb *knowledgebox.KnowledgeBox, pass *txnPass) error {
	first := pass.messages[0]
	rid, err := p.resourceUUID(ctx, kb, first)
	if err != nil {
		return err
	}
	pass.rid = rid

	reindex := false
	for _, msg := range pass.messages {
		if msg.UUID != "" && msg.UUID != rid {
			return fmt.Errorf("%w: messages for %s and %s in one transaction", core.ErrInvalidBrokerMessage, rid, msg.UUID)
		}
		switch msg.Source {
		case core.SourceWriter:
			if pass.res == nil {
				if pass.res, err = kb.GetResource(ctx, rid); err != nil {
					return err
				}
			}
			if pass.res == nil {
				if pass.res, err = kb.AddResource(ctx, rid, msg.Slug, msg.Basic); err != nil {
					return err
				}
				pass.created = true
			}
		case core.SourceProcessor:
			if pass.res == nil {
				if pass.res, err = kb.GetResource(ctx, rid); err != nil {
					return err
				}
			}
			if pass.res == nil {
				p.logger.Info("secondary message for missing resource, ignoring", "kbid", kb.ID(), "uuid", rid)
				continue
			}
		default:
			return fmt.Errorf("%w: unknown message source %d", core.ErrInvalidBrokerMessage, msg.Source)
		}

		if err := p.applyResource(ctx, msg, pass.res, !pass.created); err != nil {
			return err
		}
		reindex = reindex || msg.Reindex
	}

	res := pass.res
	if res == nil {
		p.metrics.Message(pass.source.String(), metrics.OutcomeSkipped)
		return nil
	}
	if !res.Modified {
		txn.Abort()
		p.notifyAbort(ctx, pass.partition, pass.seqid, first.MultiID, kb.ID(), rid, pass.source)
		p.metrics.Message(pass.source.String(), metrics.OutcomeAborted)
		p.logger.Info("message did not modify the resource", "kbid", kb.ID(), "uuid", rid, "seqid", pass.seqid)
		return nil
	}

	msg, err := p.indexMessage(ctx, res, reindex)
	if err != nil {
		return err
	}
	warnings, err := p.indexResource(ctx, txn, kb, rid, msg, pass)
	var notIndexable *ResourceNotIndexableError
	switch {
	case errors.As(err, &notIndexable):
		p.logger.Warn("resource not indexable", "kbid", kb.ID(), "uuid", rid, "field", notIndexable.Field,
			"paragraphs", notIndexable.Paragraphs)
		if err := p.addFieldError(ctx, res, notIndexable.Field, notIndexable.Message(), core.SeverityError); err != nil {
			return err
		}
		if err := res.SetBasic(ctx, &core.Basic{Metadata: core.Metadata{Status: core.StatusError}}, "", nil); err != nil {
			return err
		}
		pass.fieldErrors = true
	case err != nil:
		return err
	}
	for _, w := range warnings {
		if err := p.addFieldError(ctx, res, w.field, w.message, core.SeverityWarning); err != nil {
			return err
		}
	}

	if err := advanceSequence(ctx, txn, pass.seqid, pass.partition); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}

	if pass.created || res.SlugChanged() {
		if err := p.commitSlug(ctx, res); err != nil {
			p.logger.Warn("failed to commit slug", "kbid", kb.ID(), "uuid", rid, "error", err)
		}
	}

	writeType := core.WriteModified
	if pass.created {
		writeType = core.WriteCreated
	}
	last := pass.messages[len(pass.messages)-1]
	processingErrors := pass.fieldErrors || hasProcessingErrors(pass.messages)
	p.notifyCommit(ctx, pass.partition, pass.seqid, first.MultiID, rid, last, writeType, processingErrors)
	p.metrics.Message(pass.source.String(), metrics.OutcomeCommitted)
	return nil
}

func (p *Processor) applyResource(ctx context.Context, msg *core.BrokerMessage, res *resource.Resource, update bool) error {
	return p.metrics.Wrap(metrics.OpApplyResource, func() error {
		if update && (msg.Basic != nil || len(msg.DeleteFields) > 0) {
			if err := res.SetBasic(ctx, msg.Basic, "", msg.DeleteFields); err != nil {
				return err
			}
		}
		if msg.Origin != nil {
			if err := res.SetOrigin(ctx, msg.Origin); err != nil {
				return err
			}
		}
		if msg.Extra != nil {
			if err := res.SetExtra(ctx, msg.Extra); err != nil {
				return err
			}
		}
		if msg.Security != nil {
			if err := res.SetSecurity(ctx, msg.Security); err != nil {
				return err
			}
		}
		if err := res.ApplyFields(ctx, msg); err != nil {
			return err
		}
		return res.ApplyExtracted(ctx, msg)
	})
}

// indexMessage finishes the pass's index builder. A reindex regenerates
// from every field and keeps only the delete lists of the incremental builder.
func (p *Processor) indexMessage(ctx context.Context, res *resource.Resource, reindex bool) (*core.IndexMessage, error) {
	if reindex {
		b, err := res.GenerateIndexMessage(ctx)
		if err != nil {
			return nil, err
		}
		b.MergeDeletes(res.Brain())
		res.SetBrain(b)
		return b.Build(), nil
	}
	if err := res.ComputeGlobalText(ctx); err != nil {
		return nil, err
	}
	if err := res.ComputeGlobalTags(ctx); err != nil {
		return nil, err
	}
	if err := res.ComputeSecurity(ctx); err != nil {
		return nil, err
	}
	return res.Brain().Build(), nil
}

func (p *Processor) addFieldError(ctx context.Context, res *resource.Resource, fieldKey, message string, severity core.Severity) error {
	id, err := core.ParseFieldID(fieldKey)
	if err != nil {
		return err
	}
	f, err := res.GetField(ctx, id, false)
	if err != nil {
		return err
	}
	return f.SetError(ctx, core.FieldError{Field: id, Error: message, Severity: severity})
}

// markResourceError flags a resource as failed in a new transaction, then
// pushes its error state to the index. Failures are logged only.
func (p *Processor) markResourceError(ctx context.Context, kbid, rid string, seqid int64, partition string, source core.MessageSource) {
	marked := false
	err := storage.WithTransaction(ctx, p.driver, func(txn storage.Txn) error {
		res := resource.New(kbid, rid, txn, p.blobs, resource.WithLogger(p.logger))
		basic, err := res.GetBasic(ctx)
		if err != nil {
			return err
		}
		if basic == nil {
			p.logger.Info("skip marking error on resource without basic metadata", "kbid", kbid, "uuid", rid)
			return nil
		}
		basic.Metadata.Status = core.StatusError
		marked = true
		return res.SetBasic(ctx, basic, "", nil)
	})
	if err != nil {
		p.logger.Warn("failed to mark resource as error", "kbid", kbid, "uuid", rid, "error", err)
		return
	}
	if !marked {
		return
	}

	err = storage.WithReadTransaction(ctx, p.driver, func(txn storage.Txn) error {
		shardID, ok, err := p.shards.GetResourceShardID(ctx, txn, kbid, rid)
		if err != nil || !ok {
			return err
		}
		shard, err := p.shards.GetShard(ctx, txn, kbid, shardID)
		if err != nil {
			return err
		}
		res := resource.New(kbid, rid, txn, p.blobs, resource.WithLogger(p.logger))
		b, err := res.GenerateIndexMessage(ctx)
		if err != nil {
			return err
		}
		msg := b.Build()
		msg.Labels = markErrorStatus(msg.Labels)
		txid := index.Txid{SeqID: seqid, Partition: partition, KBID: kbid, Source: source}
		return p.shards.AddResource(ctx, shard, msg, txid)
	})
	if err != nil {
		p.logger.Warn("failed to index resource error state", "kbid", kbid, "uuid", rid, "error", err)
	}
}

func markErrorStatus(labels []string) []string {
	out := slices.DeleteFunc(slices.Clone(labels), func(label string) bool {
		return strings.HasPrefix(label, statusLabelPrefix)
	})
	return append(out, statusLabelPrefix+core.StatusError.String())
}

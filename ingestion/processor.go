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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/deadletter"
	"github.com/poiesic/kbingest/knowledgebox"
	"github.com/poiesic/kbingest/locking"
	"github.com/poiesic/kbingest/metrics"
	"github.com/poiesic/kbingest/notify"
	"github.com/poiesic/kbingest/shards"
	"github.com/poiesic/kbingest/storage"
)

// NoSeqID marks a synchronous call. The sequence check is skipped, the
// partition counter is left untouched and failures are returned unwrapped.
const NoSeqID int64 = -1

const (
	defaultMaxResourceParagraphs = 250000
	defaultMaxShardParagraphs    = 5000000
	defaultMaxEntityFacets       = 50

	statusLabelPrefix = "/n/s/"
	entityLabelPrefix = "/e/"
)

// Option configures a Processor.
type Option func(*Processor) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMetrics records operation metrics. A nil collector disables them.
func WithMetrics(m *metrics.Processor) Option {
	return func(p *Processor) error {
		p.metrics = m
		return nil
	}
}

// WithLocker sets the lock used around shard creation and placement.
// Default is an in-process locker.
func WithLocker(locker locking.Locker) Option {
	return func(p *Processor) error {
		if locker == nil {
			return errors.New("locker cannot be nil")
		}
		p.locker = locker
		return nil
	}
}

// WithPubSub publishes commit and abort notifications on pubsub.
func WithPubSub(pubsub notify.PubSub) Option {
	return func(p *Processor) error {
		p.pubsub = pubsub
		return nil
	}
}

// WithDeadletter sets where failed messages are archived.
// Default writes them to the blob store.
func WithDeadletter(sink deadletter.Sink) Option {
	return func(p *Processor) error {
		p.deadletter = sink
		return nil
	}
}

// WithMaxResourceParagraphs sets the per-resource paragraph limit.
// 0 disables the check.
func WithMaxResourceParagraphs(n int) Option {
	return func(p *Processor) error {
		if n < 0 {
			return fmt.Errorf("max resource paragraphs must not be negative: %d", n)
		}
		p.maxResourceParagraphs = n
		return nil
	}
}

// WithMaxShardParagraphs sets the paragraph count at which new resources
// go to a fresh shard. 0 disables rollover.
func WithMaxShardParagraphs(n int) Option {
	return func(p *Processor) error {
		if n < 0 {
			return fmt.Errorf("max shard paragraphs must not be negative: %d", n)
		}
		p.maxShardParagraphs = n
		return nil
	}
}

// WithMaxEntityFacets caps the entity labels kept per field text.
func WithMaxEntityFacets(n int) Option {
	return func(p *Processor) error {
		if n < 1 {
			n = 1
		}
		p.maxEntityFacets = n
		return nil
	}
}

// WithPartition pins the processor to one partition; the partition passed
// to Process is then ignored.
func WithPartition(partition string) Option {
	return func(p *Processor) error {
		p.partition = partition
		return nil
	}
}

// Processor applies broker messages to resources and keeps the partition
// sequence. It is safe for concurrent use across partitions; the caller must
// deliver the messages of one partition sequentially.
type Processor struct {
	driver     storage.Driver
	blobs      blob.Store
	shards     *shards.Manager
	locker     locking.Locker
	pubsub     notify.PubSub
	notifier   *notify.Notifier
	deadletter deadletter.Sink
	metrics    *metrics.Processor
	logger     *slog.Logger

	partition             string
	maxResourceParagraphs int
	maxShardParagraphs    int
	maxEntityFacets       int

	mu     sync.Mutex
	multis map[string][]*core.BrokerMessage
}

// NewProcessor creates a processor over the given stores.
func NewProcessor(driver storage.Driver, blobs blob.Store, shardManager *shards.Manager, opts ...Option) (*Processor, error) {
	if driver == nil {
		return nil, ErrDriverRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if shardManager == nil {
		return nil, ErrShardManagerRequired
	}

	p := &Processor{
		driver:                driver,
		blobs:                 blobs,
		shards:                shardManager,
		locker:                locking.NewLocalLocker(),
		logger:                slog.Default(),
		maxResourceParagraphs: defaultMaxResourceParagraphs,
		maxShardParagraphs:    defaultMaxShardParagraphs,
		maxEntityFacets:       defaultMaxEntityFacets,
		multis:                make(map[string][]*core.BrokerMessage),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.deadletter == nil {
		p.deadletter = deadletter.NewBlobSink(blobs, p.logger)
	}
	p.notifier = notify.NewNotifier(p.pubsub, p.logger)
	return p, nil
}

// Process applies msg, delivered with seqid on partition.
//
// A seqid not above the partition's last committed seqid fails with
// *SequenceOrderViolation and has no effect. Failures while applying or
// indexing are deadlettered and returned as *DeadletteredError, except
// transient ones (see IsTransient), which are returned as is so the caller
// can retry the message.
func (p *Processor) Process(ctx context.Context, msg *core.BrokerMessage, seqid int64, partition string) error {
	if p.partition != "" {
		partition = p.partition
	}
	if partition == "" {
		return ErrUnknownPartition
	}
	if err := core.ValidateBrokerMessage(msg); err != nil {
		return err
	}

	if seqid != NoSeqID {
		if err := p.checkSequence(ctx, seqid, partition); err != nil {
			return err
		}
	}

	switch msg.Type {
	case core.MessageDelete:
		return p.deleteResource(ctx, msg, seqid, partition)
	case core.MessageAutocommit:
		return p.txn(ctx, []*core.BrokerMessage{msg}, seqid, partition)
	case core.MessageMulti:
		p.multi(msg)
		return nil
	case core.MessageCommit:
		return p.commit(ctx, msg, seqid, partition)
	case core.MessageRollback:
		p.rollback(ctx, msg, seqid, partition)
		return nil
	}
	return fmt.Errorf("%w: unknown message type %s", core.ErrInvalidBrokerMessage, msg.Type)
}

func (p *Processor) checkSequence(ctx context.Context, seqid int64, partition string) error {
	return storage.WithReadTransaction(ctx, p.driver, func(txn storage.Txn) error {
		return sequenceViolation(ctx, txn, seqid, partition)
	})
}

func sequenceViolation(ctx context.Context, txn storage.Txn, seqid int64, partition string) error {
	last, ok, err := storage.GetLastSeqID(ctx, txn, partition)
	if err != nil {
		return err
	}
	if ok && seqid <= last {
		return &SequenceOrderViolation{Partition: partition, SeqID: seqid, LastSeqID: last}
	}
	return nil
}

// advanceSequence records seqid as the last seqid of partition within txn.
// The previous value is read through txn first, so txn conflicts with any
// other commit of the partition made since it began.
func advanceSequence(ctx context.Context, txn storage.Txn, seqid int64, partition string) error {
	if seqid == NoSeqID {
		return nil
	}
	if err := sequenceViolation(ctx, txn, seqid, partition); err != nil {
		return err
	}
	return storage.SetLastSeqID(ctx, txn, partition, seqid)
}

func (p *Processor) multi(msg *core.BrokerMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.multis[msg.MultiID] = append(p.multis[msg.MultiID], msg)
}

func (p *Processor) takeMulti(multiID string) ([]*core.BrokerMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch, ok := p.multis[multiID]
	delete(p.multis, multiID)
	return batch, ok
}

func (p *Processor) commit(ctx context.Context, msg *core.BrokerMessage, seqid int64, partition string) error {
	batch, ok := p.takeMulti(msg.MultiID)
	if !ok {
		p.logger.Error("commit for closed multi", "multi", msg.MultiID, "kbid", msg.KBID, "seqid", seqid)
		p.deadletterMessages(ctx, []*core.BrokerMessage{msg}, seqid, partition)
		p.metrics.Message(msg.Source.String(), metrics.OutcomeDeadlettered)
		return nil
	}
	return p.txn(ctx, batch, seqid, partition)
}

func (p *Processor) rollback(ctx context.Context, msg *core.BrokerMessage, seqid int64, partition string) {
	p.logger.Info("rolling back multi", "multi", msg.MultiID, "kbid", msg.KBID)
	p.takeMulti(msg.MultiID)
	p.notifyAbort(ctx, partition, seqid, msg.MultiID, msg.KBID, msg.UUID, msg.Source)
	p.metrics.Message(msg.Source.String(), metrics.OutcomeAborted)
}

// resourceUUID returns the uuid of the message, resolving the slug when no
// uuid is given. A slug nobody owns yields a fresh uuid.
func (p *Processor) resourceUUID(ctx context.Context, kb *knowledgebox.KnowledgeBox, msg *core.BrokerMessage) (string, error) {
	if msg.UUID != "" {
		return msg.UUID, nil
	}
	rid, err := kb.ResourceUUIDBySlug(ctx, msg.Slug)
	if err != nil {
		return "", err
	}
	if rid == "" {
		rid = core.ContentDigest([]byte(msg.KBID + "/" + msg.Slug))
	}
	return rid, nil
}

func (p *Processor) deadletterMessages(ctx context.Context, messages []*core.BrokerMessage, seqid int64, partition string) {
	for seq, msg := range messages {
		if err := p.deadletter.Deadletter(ctx, msg, seq, seqid, partition); err != nil {
			p.logger.Error("failed to deadletter message",
				"kbid", msg.KBID, "uuid", msg.UUID, "seqid", seqid, "seq", seq, "error", err)
		}
	}
}

// hasProcessingErrors reports whether any message carries field errors.
func hasProcessingErrors(messages []*core.BrokerMessage) bool {
	return slices.ContainsFunc(messages, func(msg *core.BrokerMessage) bool {
		return len(msg.Errors) > 0
	})
}

func (p *Processor) notifyCommit(ctx context.Context, partition string, seqid int64, multi, rid string, msg *core.BrokerMessage, writeType core.WriteType, processingErrors bool) {
	p.notifier.Notify(ctx, &core.Notification{
		Partition:        partition,
		SeqID:            seqid,
		Multi:            multi,
		UUID:             rid,
		KBID:             msg.KBID,
		Action:           core.ActionCommit,
		WriteType:        writeType,
		Source:           msg.Source,
		Message:          msg,
		ProcessingErrors: processingErrors,
	})
}

func (p *Processor) notifyAbort(ctx context.Context, partition string, seqid int64, multi, kbid, rid string, source core.MessageSource) {
	p.notifier.Notify(ctx, &core.Notification{
		Partition: partition,
		SeqID:     seqid,
		Multi:     multi,
		UUID:      rid,
		KBID:      kbid,
		Action:    core.ActionAbort,
		Source:    source,
	})
}

// messagesSource is PROCESSOR only when every message comes from processing.
func messagesSource(messages []*core.BrokerMessage) core.MessageSource {
	for _, msg := range messages {
		if msg.Source != core.SourceProcessor {
			return core.SourceWriter
		}
	}
	return core.SourceProcessor
}

package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/metrics"
	"golang.org/x/sync/errgroup"
)

// Delivery is a broker message as handed over by the transport.
type Delivery struct {
	Message *core.BrokerMessage
	SeqID   int64
}

// ConsumerOption configures a PartitionConsumer.
type ConsumerOption func(*PartitionConsumer) error

// WithWorkers sets how many partitions are consumed at once.
// Default is runtime.NumCPU().
func WithWorkers(n int) ConsumerOption {
	return func(c *PartitionConsumer) error {
		if n < 1 {
			n = 1
		}
		c.workers = n
		return nil
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(maxRetries uint64, initial, maxInterval time.Duration) ConsumerOption {
	return func(c *PartitionConsumer) error {
		c.maxRetries = maxRetries
		c.initialBackoff = initial
		c.maxBackoff = maxInterval
		return nil
	}
}

// WithConsumerLogger sets a custom logger.
// Default is slog.Default().
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *PartitionConsumer) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// WithConsumerMetrics counts retries per partition.
func WithConsumerMetrics(m *metrics.Processor) ConsumerOption {
	return func(c *PartitionConsumer) error {
		c.metrics = m
		return nil
	}
}

// PartitionConsumer feeds deliveries to a Processor, one goroutine of the
// worker pool per partition.
type PartitionConsumer struct {
	processor *Processor
	pool      *ants.Pool
	logger    *slog.Logger
	metrics   *metrics.Processor

	workers        int
	maxRetries     uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPartitionConsumer creates a consumer for processor.
func NewPartitionConsumer(processor *Processor, opts ...ConsumerOption) (*PartitionConsumer, error) {
	c := &PartitionConsumer{
		processor:      processor,
		logger:         slog.Default(),
		workers:        runtime.NumCPU(),
		maxRetries:     5,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(c.workers)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return c, nil
}

// Run consumes every partition until its channel is closed or ctx is done.
// Partitions beyond the worker count wait for a free worker.
func (c *PartitionConsumer) Run(ctx context.Context, partitions map[string]<-chan Delivery) error {
	g, gctx := errgroup.WithContext(ctx)
	for partition, deliveries := range partitions {
		g.Go(func() error {
			done := make(chan error, 1)
			if err := c.pool.Submit(func() {
				done <- c.consume(gctx, partition, deliveries)
			}); err != nil {
				return err
			}
			return <-done
		})
	}
	return g.Wait()
}

func (c *PartitionConsumer) consume(ctx context.Context, partition string, deliveries <-chan Delivery) error {
	c.logger.Info("consuming partition", "partition", partition)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Info("partition drained", "partition", partition)
				return nil
			}
			if d.Message == nil {
				c.logger.Warn("empty delivery", "partition", partition, "seqid", d.SeqID)
				continue
			}
			if err := c.Handle(ctx, d, partition); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("dropping message",
					"partition", partition,
					"seqid", d.SeqID,
					"kbid", d.Message.KBID,
					"uuid", d.Message.UUID,
					"error", err)
			}
		}
	}
}

// Handle processes one delivery. Transient failures are retried with
// exponential backoff. Stale and deadlettered messages count as handled.
func (c *PartitionConsumer) Handle(ctx context.Context, d Delivery, partition string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0

	operation := func() error {
		err := c.processor.Process(ctx, d.Message, d.SeqID, partition)
		if err == nil || (IsTransient(err) && ctx.Err() == nil) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		c.metrics.Retry(partition)
		c.logger.Warn("retrying message", "partition", partition, "seqid", d.SeqID, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx), notify)

	var violation *SequenceOrderViolation
	switch {
	case err == nil:
		return nil
	case errors.As(err, &violation):
		c.logger.Info("skipping stale message", "partition", partition, "seqid", d.SeqID, "last_seqid", violation.LastSeqID)
		return nil
	case errors.Is(err, ErrDeadlettered):
		c.logger.Warn("message deadlettered", "partition", partition, "seqid", d.SeqID, "error", err)
		return nil
	}
	return err
}

// Release stops the worker pool.
func (c *PartitionConsumer) Release() {
	if c.pool != nil {
		c.pool.Release()
	}
}

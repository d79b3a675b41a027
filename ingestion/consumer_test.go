package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(t *testing.T, p *Processor, opts ...ConsumerOption) *PartitionConsumer {
	t.Helper()
	opts = append([]ConsumerOption{WithRetry(3, time.Millisecond, time.Millisecond)}, opts...)
	c, err := NewPartitionConsumer(p, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Release)
	return c
}

// counterValue sums the counter samples of name whose labels include labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			got := make(map[string]string, len(metric.GetLabel()))
			for _, pair := range metric.GetLabel() {
				got[pair.GetName()] = pair.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestPartitionConsumer_Run(t *testing.T) {
	fx := newFixture(t)
	c := newTestConsumer(t, fx.proc, WithWorkers(2))

	one := make(chan Delivery, 3)
	two := make(chan Delivery, 3)
	one <- Delivery{Message: fx.writerMessage("r1", "first"), SeqID: 1}
	one <- Delivery{}
	one <- Delivery{Message: fx.writerMessage("r1", "stale"), SeqID: 1}
	two <- Delivery{Message: fx.writerMessage("r2", "second"), SeqID: 1}
	two <- Delivery{Message: fx.writerMessage("r2", "again"), SeqID: 2}
	close(one)
	close(two)

	err := c.Run(fx.ctx, map[string]<-chan Delivery{"one": one, "two": two})
	require.NoError(t, err)

	assert.Equal(t, "first", fx.title(t, "r1"))
	assert.Equal(t, "again", fx.title(t, "r2"))
}

func TestPartitionConsumer_RunStopsOnCancel(t *testing.T) {
	fx := newFixture(t)
	c := newTestConsumer(t, fx.proc)

	ctx, cancel := context.WithCancel(fx.ctx)
	deliveries := make(chan Delivery)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, map[string]<-chan Delivery{partition: deliveries})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestPartitionConsumer_HandleRetriesTransient(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewProcessor(reg)
	fx := newFixture(t)
	c := newTestConsumer(t, fx.proc, WithConsumerMetrics(m))

	require.NoError(t, c.Handle(fx.ctx, Delivery{Message: fx.writerMessage("r1", "Hello"), SeqID: 1}, partition))

	fx.writer.fail(context.DeadlineExceeded, 2)
	err := c.Handle(fx.ctx, Delivery{Message: fx.processedMessage("r1", 1), SeqID: 2}, partition)
	require.NoError(t, err)

	seqid, _ := fx.lastSeqID(t)
	assert.Equal(t, int64(2), seqid)
	assert.Equal(t, core.StatusProcessed, fx.basic(t, "r1").Metadata.Status)
	assert.Equal(t, 2.0, counterValue(t, reg, "kbingest_consumer_retries_total", map[string]string{"partition": partition}))
	assert.Empty(t, fx.sink.all())
}

func TestPartitionConsumer_HandleGivesUp(t *testing.T) {
	fx := newFixture(t)
	c := newTestConsumer(t, fx.proc)
	require.NoError(t, c.Handle(fx.ctx, Delivery{Message: fx.writerMessage("r1", "Hello"), SeqID: 1}, partition))

	fx.writer.fail(context.DeadlineExceeded, -1)
	err := c.Handle(fx.ctx, Delivery{Message: fx.processedMessage("r1", 1), SeqID: 2}, partition)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 5, fx.writer.indexCalls())
}

func TestPartitionConsumer_HandleSwallowsHandledFailures(t *testing.T) {
	fx := newFixture(t)
	c := newTestConsumer(t, fx.proc)
	require.NoError(t, c.Handle(fx.ctx, Delivery{Message: fx.writerMessage("r1", "Hello"), SeqID: 1}, partition))

	// Stale.
	require.NoError(t, c.Handle(fx.ctx, Delivery{Message: fx.writerMessage("r1", "Hello"), SeqID: 1}, partition))

	// Deadlettered.
	fx.writer.fail(errBoom, -1)
	require.NoError(t, c.Handle(fx.ctx, Delivery{Message: fx.processedMessage("r1", 1), SeqID: 2}, partition))
	assert.Len(t, fx.sink.all(), 1)
}

func TestPartitionConsumer_HandleInvalidMessage(t *testing.T) {
	fx := newFixture(t)
	c := newTestConsumer(t, fx.proc)

	err := c.Handle(fx.ctx, Delivery{Message: &core.BrokerMessage{UUID: "r1"}, SeqID: 1}, partition)
	assert.ErrorIs(t, err, core.ErrInvalidBrokerMessage)
}

// Package metrics exposes Prometheus instrumentation for the ingest processor.
//
// A nil *Processor is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kbingest"

// Operation types observed by the processor.
const (
	OpTxn            = "txn"
	OpIndexResource  = "index_resource"
	OpDeleteResource = "delete_resource"
	OpCommitSlug     = "commit_slug"
	OpApplyResource  = "apply_resource"
)

// Message outcomes.
const (
	OutcomeCommitted    = "committed"
	OutcomeAborted      = "aborted"
	OutcomeDeleted      = "deleted"
	OutcomeDeadlettered = "deadlettered"
	OutcomeSkipped      = "skipped"
)

// Processor holds the processor's collectors.
type Processor struct {
	duration      *prometheus.HistogramVec
	operations    *prometheus.CounterVec
	messages      *prometheus.CounterVec
	shardsCreated prometheus.Counter
	retries       *prometheus.CounterVec
}

// NewProcessor registers the processor collectors on reg.
// Returns nil when reg is nil.
func NewProcessor(reg prometheus.Registerer) *Processor {
	if reg == nil {
		return nil
	}
	return &Processor{
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "duration_seconds",
			Help:      "Duration of processor operations",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"type"}),
		operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "operations_total",
			Help:      "Processor operations by type and status",
		}, []string{"type", "status"}),
		messages: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "messages_total",
			Help:      "Broker messages by source and outcome",
		}, []string{"source", "outcome"}),
		shardsCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "shards_created_total",
			Help:      "Shards created by the processor",
		}),
		retries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "retries_total",
			Help:      "Message retries by partition",
		}, []string{"partition"}),
	}
}

// Wrap runs fn and records its duration and outcome under op.
func (p *Processor) Wrap(op string, fn func() error) error {
	if p == nil {
		return fn()
	}
	start := time.Now()
	err := fn()
	p.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	p.operations.WithLabelValues(op, status).Inc()
	return err
}

// Message counts a processed broker message.
func (p *Processor) Message(source, outcome string) {
	if p == nil {
		return
	}
	p.messages.WithLabelValues(source, outcome).Inc()
}

// ShardCreated counts a new shard.
func (p *Processor) ShardCreated() {
	if p == nil {
		return
	}
	p.shardsCreated.Inc()
}

// Retry counts a consumer retry on a partition.
func (p *Processor) Retry(partition string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(partition).Inc()
}

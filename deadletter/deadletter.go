// Package deadletter archives broker messages that could not be processed.
package deadletter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/core"
	"github.com/vmihailenco/msgpack/v5"
)

// Sink stores a failed message for later inspection or replay.
// seq is the message's position within its batch.
type Sink interface {
	Deadletter(ctx context.Context, msg *core.BrokerMessage, seq int, seqid int64, partition string) error
}

// Encode serializes a broker message for archiving.
func Encode(msg *core.BrokerMessage) ([]byte, error) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode broker message: %w", err)
	}
	return data, nil
}

// Decode deserializes an archived broker message.
func Decode(data []byte) (*core.BrokerMessage, error) {
	var msg core.BrokerMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode broker message: %w", err)
	}
	return &msg, nil
}

// BlobSink writes messages to an object store under
// deadletter/{partition}/{seqid}/{seq}.
type BlobSink struct {
	store  blob.Store
	logger *slog.Logger
}

var _ Sink = (*BlobSink)(nil)

// NewBlobSink returns a sink writing to store. A nil store drops messages
// with an error log.
func NewBlobSink(store blob.Store, logger *slog.Logger) *BlobSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobSink{store: store, logger: logger}
}

func (s *BlobSink) Deadletter(ctx context.Context, msg *core.BrokerMessage, seq int, seqid int64, partition string) error {
	if s.store == nil {
		s.logger.Error("no deadletter store configured, message dropped",
			"kbid", msg.KBID, "uuid", msg.UUID, "seqid", seqid)
		return nil
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return s.store.Upload(ctx, blob.DeadletterKey(partition, seqid, seq), data)
}

// Tee fans a message out to several sinks. Every sink is attempted; the
// failures are aggregated.
type Tee []Sink

var _ Sink = Tee(nil)

func (t Tee) Deadletter(ctx context.Context, msg *core.BrokerMessage, seq int, seqid int64, partition string) error {
	var result *multierror.Error
	for _, sink := range t {
		if err := sink.Deadletter(ctx, msg, seq, seqid, partition); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/poiesic/kbingest/locking"
	"github.com/poiesic/kbingest/storage"
)

var (
	// ErrDriverRequired is returned when a KV driver is not provided.
	ErrDriverRequired = errors.New("storage driver required")

	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrShardManagerRequired is returned when a shard manager is not provided.
	ErrShardManagerRequired = errors.New("shard manager required")

	// ErrUnknownPartition is returned when neither the processor nor the caller names a partition.
	ErrUnknownPartition = errors.New("message from unknown partition")

	// ErrSequenceOrderViolation indicates a stale or duplicate delivery.
	ErrSequenceOrderViolation = errors.New("sequence order violation")

	// ErrDeadlettered indicates that a message failed and was archived.
	ErrDeadlettered = errors.New("message deadlettered")

	// ErrResourceNotIndexable indicates a resource over the paragraph limit.
	ErrResourceNotIndexable = errors.New("resource not indexable")

	// ErrShardNotAvailable indicates that a resource points to a shard the
	// knowledge box no longer lists.
	ErrShardNotAvailable = errors.New("shard not available")

	// ErrUnknownMulti indicates a COMMIT for a multi that was never opened.
	ErrUnknownMulti = errors.New("unknown multi")
)

// SequenceOrderViolation is returned when a message's seqid is not greater
// than the last seqid committed for its partition. Nothing was written.
type SequenceOrderViolation struct {
	Partition string
	SeqID     int64
	LastSeqID int64
}

func (e *SequenceOrderViolation) Error() string {
	return fmt.Sprintf("%s: partition %s seqid %d <= last %d",
		ErrSequenceOrderViolation, e.Partition, e.SeqID, e.LastSeqID)
}

func (e *SequenceOrderViolation) Unwrap() error {
	return ErrSequenceOrderViolation
}

// DeadletteredError wraps the failure of a message that was deadlettered.
// Both ErrDeadlettered and the cause match with errors.Is.
type DeadletteredError struct {
	Err error
}

func (e *DeadletteredError) Error() string {
	return fmt.Sprintf("%s: %v", ErrDeadlettered, e.Err)
}

func (e *DeadletteredError) Unwrap() []error {
	return []error{ErrDeadlettered, e.Err}
}

// ResourceNotIndexableError reports the field at which a resource went over
// the paragraph limit.
type ResourceNotIndexableError struct {
	Field      string
	Paragraphs int
	Limit      int
}

func (e *ResourceNotIndexableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrResourceNotIndexable, e.Message())
}

func (e *ResourceNotIndexableError) Unwrap() error {
	return ErrResourceNotIndexable
}

// Message is the text recorded as the field error.
func (e *ResourceNotIndexableError) Message() string {
	return fmt.Sprintf("resource has too many paragraphs (%d) and cannot be indexed; the maximum per resource is %d",
		e.Paragraphs, e.Limit)
}

// IsTransient reports whether err is a coordination or transport failure.
// Transient failures are never deadlettered; the consumer retries them.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrStorageClosed) {
		return true
	}
	if errors.Is(err, locking.ErrLockTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

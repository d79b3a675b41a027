package storage

import (
	"context"
	"errors"
)

// GetLastSeqID returns the last committed sequence id of a partition.
// ok is false when the partition has never committed.
func GetLastSeqID(ctx context.Context, txn Txn, partition string) (seqid int64, ok bool, err error) {
	data, err := txn.Get(ctx, LastSeqIDKey(partition))
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	seqid, err = UnmarshalSeqID(data)
	if err != nil {
		return 0, false, err
	}
	return seqid, true, nil
}

// SetLastSeqID records seqid as the last committed sequence id of a partition.
func SetLastSeqID(ctx context.Context, txn Txn, partition string, seqid int64) error {
	return txn.Set(ctx, LastSeqIDKey(partition), MarshalSeqID(seqid))
}

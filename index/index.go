// Package index defines how index messages reach a shard of the search engine.
//
// A Writer applies a core.IndexMessage to one shard. Every implementation
// applies the message's delete lists before its paragraphs and sentences, and
// matches delete keys by whole path segments: deleting "r1/t/body" removes
// "r1/t/body/0-5" and "r1/t/body/0/0-5" but not "r1/t/bodyx/0-5".
package index

import (
	"context"
	"errors"
	"strings"

	"github.com/poiesic/kbingest/core"
)

// ErrShardNotFound indicates that the shard does not exist in the writer.
var ErrShardNotFound = errors.New("shard not found")

// Txid identifies the broker message an index operation comes from.
type Txid struct {
	SeqID     int64
	Partition string
	KBID      string
	Source    core.MessageSource
}

// Writer applies index operations to shards.
// Implementations must be thread-safe.
type Writer interface {
	// CreateShard provisions an empty shard. Creating an existing shard is a no-op.
	CreateShard(ctx context.Context, shardID string) error

	// Index applies msg to the shard.
	Index(ctx context.Context, shardID string, msg *core.IndexMessage, txid Txid) error

	// DeleteResource removes every entry of resource rid from the shard.
	DeleteResource(ctx context.Context, shardID, rid string, txid Txid) error

	// ParagraphCount returns the number of paragraphs indexed in the shard.
	ParagraphCount(ctx context.Context, shardID string) (int, error)
}

// MatchesKey reports whether key equals prefix or lies under it by whole
// path segments.
func MatchesKey(key, prefix string) bool {
	if key == prefix {
		return true
	}
	return strings.HasPrefix(key, prefix) && strings.HasPrefix(key[len(prefix):], "/")
}

// KeyPrefixes returns every segment prefix of key, shortest first.
// "r1/t/body/0-5" yields "r1", "r1/t", "r1/t/body" and "r1/t/body/0-5".
func KeyPrefixes(key string) []string {
	var out []string
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			out = append(out, key[:i])
		}
	}
	return append(out, key)
}

package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/kbingest/core"
)

type memoryShard struct {
	paragraphs  map[string]core.IndexParagraph
	sentences   map[string]core.IndexSentence
	userVectors map[string]map[string]core.UserVector
	resources   map[string]*core.IndexMessage
	last        Txid
}

func newMemoryShard() *memoryShard {
	return &memoryShard{
		paragraphs:  make(map[string]core.IndexParagraph),
		sentences:   make(map[string]core.IndexSentence),
		userVectors: make(map[string]map[string]core.UserVector),
		resources:   make(map[string]*core.IndexMessage),
	}
}

func (s *memoryShard) deleteMatching(prefix string, paragraphs, sentences bool) {
	if paragraphs {
		for key := range s.paragraphs {
			if MatchesKey(key, prefix) {
				delete(s.paragraphs, key)
			}
		}
	}
	if sentences {
		for key := range s.sentences {
			if MatchesKey(key, prefix) {
				delete(s.sentences, key)
			}
		}
	}
}

// MemoryWriter keeps shards in process memory. It backs single-node
// deployments without a search engine and tests.
type MemoryWriter struct {
	mu     sync.RWMutex
	shards map[string]*memoryShard
}

var _ Writer = (*MemoryWriter)(nil)

// NewMemoryWriter returns an empty writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{shards: make(map[string]*memoryShard)}
}

func (w *MemoryWriter) CreateShard(ctx context.Context, shardID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.shards[shardID]; !ok {
		w.shards[shardID] = newMemoryShard()
	}
	return nil
}

func (w *MemoryWriter) shard(shardID string) (*memoryShard, error) {
	s, ok := w.shards[shardID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShardNotFound, shardID)
	}
	return s, nil
}

func (w *MemoryWriter) Index(ctx context.Context, shardID string, msg *core.IndexMessage, txid Txid) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.shard(shardID)
	if err != nil {
		return err
	}

	// A sentence is dropped along with its paragraph.
	for _, key := range msg.ParagraphsToDelete {
		s.deleteMatching(key, true, true)
	}
	for _, key := range msg.SentencesToDelete {
		s.deleteMatching(key, false, true)
	}
	for vectorset, ids := range msg.VectorsToDelete {
		for _, id := range ids {
			for key := range s.userVectors[vectorset] {
				if MatchesKey(key, id) {
					delete(s.userVectors[vectorset], key)
				}
			}
		}
	}

	for _, paragraphs := range msg.Paragraphs {
		for key, p := range paragraphs {
			for skey, sentence := range p.Sentences {
				s.sentences[skey] = sentence
			}
			p.Sentences = nil
			s.paragraphs[key] = p
		}
	}
	for vectorset, vectors := range msg.UserVectors {
		if s.userVectors[vectorset] == nil {
			s.userVectors[vectorset] = make(map[string]core.UserVector)
		}
		for key, uv := range vectors {
			s.userVectors[vectorset][key] = uv
		}
	}
	s.resources[msg.ResourceID] = msg
	s.last = txid
	return nil
}

func (w *MemoryWriter) DeleteResource(ctx context.Context, shardID, rid string, txid Txid) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.shard(shardID)
	if err != nil {
		return err
	}
	s.deleteMatching(rid, true, true)
	for _, vectors := range s.userVectors {
		for key := range vectors {
			if MatchesKey(key, rid) {
				delete(vectors, key)
			}
		}
	}
	delete(s.resources, rid)
	s.last = txid
	return nil
}

func (w *MemoryWriter) ParagraphCount(ctx context.Context, shardID string) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, err := w.shard(shardID)
	if err != nil {
		return 0, err
	}
	return len(s.paragraphs), nil
}

// Shards returns the ids of every shard.
func (w *MemoryWriter) Shards() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.shards))
	for id := range w.shards {
		ids = append(ids, id)
	}
	return ids
}

// Paragraphs returns the paragraph keys indexed in a shard.
func (w *MemoryWriter) Paragraphs(shardID string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.shards[shardID]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(s.paragraphs))
	for key := range s.paragraphs {
		keys = append(keys, key)
	}
	return keys
}

// Sentences returns the sentence keys indexed in a shard.
func (w *MemoryWriter) Sentences(shardID string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.shards[shardID]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(s.sentences))
	for key := range s.sentences {
		keys = append(keys, key)
	}
	return keys
}

// Resource returns the last index message applied for rid, or nil.
func (w *MemoryWriter) Resource(shardID, rid string) *core.IndexMessage {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.shards[shardID]
	if !ok {
		return nil
	}
	return s.resources[rid]
}

// LastTxid returns the txid of the last operation applied to a shard.
func (w *MemoryWriter) LastTxid(shardID string) (Txid, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.shards[shardID]
	if !ok {
		return Txid{}, false
	}
	return s.last, true
}

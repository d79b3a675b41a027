// Package shards places resources of a knowledge box on index shards.
//
// A knowledge box owns an ordered list of shards. One of them is active and
// receives new resources; a resource stays on the shard it was first indexed
// to. The list lives in the KV store under /kbs/{kbid}/shards and every
// resource records its shard id under /kbs/{kbid}/r/{uuid}/shard.
package shards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/index"
	"github.com/poiesic/kbingest/storage"
)

// ErrShardNotFound indicates that a shard id is not listed for the knowledge box.
var ErrShardNotFound = errors.New("shard not found")

// Shard describes one index shard.
type Shard struct {
	ID             string    `msgpack:"id"`
	SemanticModel  string    `msgpack:"semantic_model"`
	ReleaseChannel string    `msgpack:"release_channel"`
	Created        time.Time `msgpack:"created"`
}

// KBShards is the persisted shard list of a knowledge box.
type KBShards struct {
	KBID   string  `msgpack:"kbid"`
	Shards []Shard `msgpack:"shards"`
	Actual int     `msgpack:"actual"`
}

// Active returns the active shard, or nil when the list is empty.
func (s *KBShards) Active() *Shard {
	if s == nil || s.Actual < 0 || s.Actual >= len(s.Shards) {
		return nil
	}
	return &s.Shards[s.Actual]
}

// Find returns the shard with the given id, or nil.
func (s *KBShards) Find(id string) *Shard {
	if s == nil {
		return nil
	}
	for i := range s.Shards {
		if s.Shards[i].ID == id {
			return &s.Shards[i]
		}
	}
	return nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager tracks shard placement and forwards index operations to a writer.
type Manager struct {
	writer index.Writer
	logger *slog.Logger
}

// NewManager returns a Manager that writes through w.
func NewManager(w index.Writer, opts ...Option) *Manager {
	m := &Manager{
		writer: w,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "shards")
	return m
}

// Writer returns the index writer shards are written through.
func (m *Manager) Writer() index.Writer {
	return m.writer
}

// List returns the shard list of a knowledge box. A knowledge box without
// shards yields an empty list.
func (m *Manager) List(ctx context.Context, txn storage.Txn, kbid string) (*KBShards, error) {
	data, err := txn.Get(ctx, storage.KBShardsKey(kbid))
	if errors.Is(err, storage.ErrNotFound) {
		return &KBShards{KBID: kbid, Actual: -1}, nil
	}
	if err != nil {
		return nil, err
	}
	var list KBShards
	if err := storage.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (m *Manager) save(ctx context.Context, txn storage.Txn, list *KBShards) error {
	data, err := storage.Marshal(list)
	if err != nil {
		return err
	}
	return txn.Set(ctx, storage.KBShardsKey(list.KBID), data)
}

// GetCurrentActiveShard returns the active shard of a knowledge box, or nil.
func (m *Manager) GetCurrentActiveShard(ctx context.Context, txn storage.Txn, kbid string) (*Shard, error) {
	list, err := m.List(ctx, txn, kbid)
	if err != nil {
		return nil, err
	}
	return list.Active(), nil
}

// GetShard returns a shard of a knowledge box by id.
func (m *Manager) GetShard(ctx context.Context, txn storage.Txn, kbid, id string) (*Shard, error) {
	list, err := m.List(ctx, txn, kbid)
	if err != nil {
		return nil, err
	}
	shard := list.Find(id)
	if shard == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrShardNotFound, kbid, id)
	}
	return shard, nil
}

// CreateShard provisions a new shard in the writer, appends it to the list
// and makes it active. The list is written through txn, so callers must
// commit txn for the shard to become visible to other processes.
func (m *Manager) CreateShard(ctx context.Context, txn storage.Txn, kbid, semanticModel, releaseChannel string) (*Shard, error) {
	list, err := m.List(ctx, txn, kbid)
	if err != nil {
		return nil, err
	}
	shard := Shard{
		ID:             uuid.NewString(),
		SemanticModel:  semanticModel,
		ReleaseChannel: releaseChannel,
		Created:        time.Now().UTC(),
	}
	if err := m.writer.CreateShard(ctx, shard.ID); err != nil {
		return nil, fmt.Errorf("failed to create shard for %s: %w", kbid, err)
	}
	list.Shards = append(list.Shards, shard)
	list.Actual = len(list.Shards) - 1
	if err := m.save(ctx, txn, list); err != nil {
		return nil, err
	}
	m.logger.Info("created shard", "kbid", kbid, "shard", shard.ID, "count", len(list.Shards))
	return &shard, nil
}

// Restore provisions every recorded shard of kbid in the writer. Writers
// that keep no state across restarts need this before serving a knowledge box.
func (m *Manager) Restore(ctx context.Context, txn storage.Txn, kbid string) error {
	list, err := m.List(ctx, txn, kbid)
	if err != nil {
		return err
	}
	for _, shard := range list.Shards {
		if err := m.writer.CreateShard(ctx, shard.ID); err != nil {
			return fmt.Errorf("failed to restore shard %s of %s: %w", shard.ID, kbid, err)
		}
	}
	return nil
}

// GetResourceShardID returns the shard a resource was placed on.
// ok is false when the resource has not been indexed yet.
func (m *Manager) GetResourceShardID(ctx context.Context, txn storage.Txn, kbid, rid string) (id string, ok bool, err error) {
	data, err := txn.Get(ctx, storage.ResourceShardKey(kbid, rid))
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// SetResourceShardID records the shard a resource was placed on.
func (m *Manager) SetResourceShardID(ctx context.Context, txn storage.Txn, kbid, rid, shardID string) error {
	return txn.Set(ctx, storage.ResourceShardKey(kbid, rid), []byte(shardID))
}

// AddResource submits an index message to a shard.
func (m *Manager) AddResource(ctx context.Context, shard *Shard, msg *core.IndexMessage, txid index.Txid) error {
	msg.Shard = shard.ID
	if err := m.writer.Index(ctx, shard.ID, msg, txid); err != nil {
		return fmt.Errorf("failed to index %s on shard %s: %w", msg.ResourceID, shard.ID, err)
	}
	return nil
}

// DeleteResource removes a resource from a shard.
func (m *Manager) DeleteResource(ctx context.Context, shard *Shard, rid string, txid index.Txid) error {
	if err := m.writer.DeleteResource(ctx, shard.ID, rid, txid); err != nil {
		return fmt.Errorf("failed to delete %s from shard %s: %w", rid, shard.ID, err)
	}
	return nil
}

// ParagraphCount returns the number of paragraphs on a shard.
func (m *Manager) ParagraphCount(ctx context.Context, shard *Shard) (int, error) {
	return m.writer.ParagraphCount(ctx, shard.ID)
}

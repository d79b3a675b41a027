// Package knowledgebox administers knowledge boxes and the resources in them.
package knowledgebox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/fields"
	"github.com/poiesic/kbingest/resource"
	"github.com/poiesic/kbingest/storage"
)

const deleteChunkSize = 1000

var (
	// ErrKnowledgeBoxConflict indicates that the slug or id is already taken.
	ErrKnowledgeBoxConflict = errors.New("knowledge box already exists")

	// ErrKnowledgeBoxNotFound indicates that the knowledge box does not exist.
	ErrKnowledgeBoxNotFound = errors.New("knowledge box not found")

	// ErrInvalidSlug indicates an empty or malformed slug.
	ErrInvalidSlug = errors.New("invalid knowledge box slug")
)

// Config is the persisted configuration of a knowledge box.
type Config struct {
	Slug           string    `msgpack:"slug" yaml:"slug"`
	Title          string    `msgpack:"title" yaml:"title"`
	Description    string    `msgpack:"description" yaml:"description"`
	SemanticModel  string    `msgpack:"semantic_model" yaml:"semantic_model"`
	ReleaseChannel string    `msgpack:"release_channel" yaml:"release_channel"`
	Created        time.Time `msgpack:"created" yaml:"-"`
}

// Create registers a new knowledge box and returns its id.
func Create(ctx context.Context, driver storage.Driver, slug string, config Config) (string, error) {
	if slug == "" || strings.Contains(slug, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	kbid := uuid.NewString()
	config.Slug = slug
	config.Created = time.Now().UTC()

	err := storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
		taken, err := storage.Exists(ctx, txn, storage.KBSlugIndexKey(slug))
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", ErrKnowledgeBoxConflict, slug)
		}
		data, err := storage.Marshal(&config)
		if err != nil {
			return err
		}
		if err := txn.Set(ctx, storage.KBSlugIndexKey(slug), []byte(kbid)); err != nil {
			return err
		}
		return txn.Set(ctx, storage.KBConfigKey(kbid), data)
	})
	if err != nil {
		return "", err
	}
	return kbid, nil
}

// Exists reports whether a knowledge box is registered.
func Exists(ctx context.Context, txn storage.Txn, kbid string) (bool, error) {
	return storage.Exists(ctx, txn, storage.KBConfigKey(kbid))
}

// GetConfig returns the configuration of a knowledge box.
func GetConfig(ctx context.Context, txn storage.Txn, kbid string) (*Config, error) {
	data, err := txn.Get(ctx, storage.KBConfigKey(kbid))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBoxNotFound, kbid)
	}
	if err != nil {
		return nil, err
	}
	var config Config
	if err := storage.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// IDBySlug resolves a knowledge box slug.
func IDBySlug(ctx context.Context, txn storage.Txn, slug string) (string, bool, error) {
	data, err := txn.Get(ctx, storage.KBSlugIndexKey(slug))
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// List returns the ids of every registered knowledge box.
func List(ctx context.Context, txn storage.Txn) ([]string, error) {
	keys, err := txn.Keys(ctx, storage.KBSlugsPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		data, err := txn.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, string(data))
	}
	return ids, nil
}

// Delete unregisters a knowledge box and removes every key under it.
// Keys are removed in chunks so large boxes do not exceed transaction limits.
// Deleting a missing knowledge box is a no-op.
func Delete(ctx context.Context, driver storage.Driver, kbid string) error {
	var exists bool
	err := storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
		config, err := GetConfig(ctx, txn, kbid)
		if errors.Is(err, ErrKnowledgeBoxNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		if err := txn.Delete(ctx, storage.KBSlugIndexKey(config.Slug)); err != nil {
			return err
		}
		return txn.Delete(ctx, storage.KBConfigKey(kbid))
	})
	if err != nil || !exists {
		return err
	}

	for {
		var keys []string
		err := storage.WithReadTransaction(ctx, driver, func(txn storage.Txn) error {
			var err error
			keys, err = txn.Keys(ctx, storage.KBPrefix(kbid))
			return err
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		for start := 0; start < len(keys); start += deleteChunkSize {
			chunk := keys[start:min(start+deleteChunkSize, len(keys))]
			err := storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
				for _, key := range chunk {
					if err := txn.Delete(ctx, key); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
}

// Option configures a KnowledgeBox.
type Option func(*KnowledgeBox)

// WithLogger sets the logger handed to resources.
func WithLogger(logger *slog.Logger) Option {
	return func(kb *KnowledgeBox) {
		kb.logger = logger
	}
}

// KnowledgeBox gives access to the resources of one knowledge box inside a
// transaction.
type KnowledgeBox struct {
	kbid   string
	txn    storage.Txn
	blobs  blob.Store
	logger *slog.Logger
}

// New binds a knowledge box to a transaction.
func New(kbid string, txn storage.Txn, blobs blob.Store, opts ...Option) *KnowledgeBox {
	kb := &KnowledgeBox{
		kbid:   kbid,
		txn:    txn,
		blobs:  blobs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(kb)
	}
	return kb
}

// ID returns the knowledge box id.
func (kb *KnowledgeBox) ID() string { return kb.kbid }

// GetResource loads a resource, or returns nil if it has no basic record.
func (kb *KnowledgeBox) GetResource(ctx context.Context, rid string) (*resource.Resource, error) {
	r := resource.New(kb.kbid, rid, kb.txn, kb.blobs, resource.WithLogger(kb.logger))
	basic, err := r.GetBasic(ctx)
	if err != nil {
		return nil, err
	}
	if basic == nil {
		return nil, nil
	}
	return r, nil
}

// AddResource creates a resource. An empty slug defaults to the uuid; the
// slug is made unique within the knowledge box.
func (kb *KnowledgeBox) AddResource(ctx context.Context, rid, slug string, basic *core.Basic) (*resource.Resource, error) {
	if slug == "" {
		slug = rid
	}
	if basic == nil {
		basic = &core.Basic{}
	}
	r := resource.New(kb.kbid, rid, kb.txn, kb.blobs, resource.WithLogger(kb.logger))
	if err := r.SetBasic(ctx, basic, slug, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteResource removes every key and artifact blob of a resource.
// Blob failures are logged, not returned.
func (kb *KnowledgeBox) DeleteResource(ctx context.Context, rid string) error {
	r := resource.New(kb.kbid, rid, kb.txn, kb.blobs, resource.WithLogger(kb.logger))
	basic, err := r.GetBasic(ctx)
	if err != nil {
		return err
	}
	ids, err := r.GetFields(ctx, true)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, id := range ids {
		if err := fields.New(kb.kbid, rid, id, kb.txn, kb.blobs).Delete(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("field %s: %w", id.Key(), err))
		}
	}
	if err := storage.DeletePrefix(ctx, kb.txn, storage.ResourcePrefix(kb.kbid, rid)); err != nil {
		return err
	}
	if err := kb.txn.Delete(ctx, storage.ResourceBasicKey(kb.kbid, rid)); err != nil {
		return err
	}
	if basic != nil && basic.Slug != "" {
		owner, err := kb.ResourceUUIDBySlug(ctx, basic.Slug)
		if err != nil {
			return err
		}
		if owner == rid {
			if err := kb.txn.Delete(ctx, storage.ResourceSlugKey(kb.kbid, basic.Slug)); err != nil {
				return err
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		kb.logger.Warn("resource blobs not fully deleted", "kbid", kb.kbid, "rid", rid, "error", err)
	}
	return nil
}

// ResourceUUIDBySlug resolves a resource slug. Returns "" when unknown.
func (kb *KnowledgeBox) ResourceUUIDBySlug(ctx context.Context, slug string) (string, error) {
	data, err := kb.txn.Get(ctx, storage.ResourceSlugKey(kb.kbid, slug))
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListResources returns the uuid of every resource, in key order.
func (kb *KnowledgeBox) ListResources(ctx context.Context) ([]string, error) {
	keys, err := kb.txn.Keys(ctx, storage.ResourcesPrefix(kb.kbid))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, key := range keys {
		if rid, ok := storage.ParseResourceKey(kb.kbid, key); ok {
			ids = append(ids, rid)
		}
	}
	return ids, nil
}

package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/brain"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/fields"
	"github.com/poiesic/kbingest/storage"
)

// Resource is one document of a knowledge box bound to a KV transaction.
// A Resource is not safe for concurrent use.
type Resource struct {
	kbid   string
	uuid   string
	txn    storage.Txn
	blobs  blob.Store
	logger *slog.Logger

	basic          *core.Basic
	basicLoaded    bool
	previousStatus *core.Status
	previousSlug   string
	origin         *core.Origin
	relations      []core.Relation

	fields        map[core.FieldID]*fields.Field
	allFieldsKeys []core.FieldID
	modifiedText  []core.FieldID

	indexer *brain.Builder

	// Modified is set by every write made through the resource.
	Modified bool
}

// Option configures a Resource.
type Option func(*Resource)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resource) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBasic seeds the resource with an already loaded basic record.
func WithBasic(basic *core.Basic) Option {
	return func(r *Resource) {
		if basic != nil {
			r.basic = basic
			r.basicLoaded = true
			status := basic.Metadata.Status
			r.previousStatus = &status
		}
	}
}

// New returns a handle on resource uuid of knowledge box kbid.
// Nothing is read until requested.
func New(kbid, uuid string, txn storage.Txn, blobs blob.Store, opts ...Option) *Resource {
	r := &Resource{
		kbid:   kbid,
		uuid:   uuid,
		txn:    txn,
		blobs:  blobs,
		logger: slog.Default(),
		fields: make(map[core.FieldID]*fields.Field),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// KBID returns the knowledge box id.
func (r *Resource) KBID() string { return r.kbid }

// UUID returns the resource id.
func (r *Resource) UUID() string { return r.uuid }

// Txn returns the transaction the resource writes through.
func (r *Resource) Txn() storage.Txn { return r.txn }

// SetTxn rebinds the resource to another transaction.
// Cached fields stay bound to the previous one.
func (r *Resource) SetTxn(txn storage.Txn) {
	r.txn = txn
}

// Brain returns the index builder of the current pass, creating it on first use.
func (r *Resource) Brain() *brain.Builder {
	if r.indexer == nil {
		r.indexer = brain.New(r.uuid, brain.WithLogger(r.logger))
	}
	return r.indexer
}

// SetBrain replaces the index builder of the current pass.
func (r *Resource) SetBrain(b *brain.Builder) {
	r.indexer = b
}

// Clean drops per-pass state.
func (r *Resource) Clean() {
	r.indexer = nil
	r.fields = make(map[core.FieldID]*fields.Field)
	r.modifiedText = nil
}

// Exists reports whether the resource has a basic record.
func (r *Resource) Exists(ctx context.Context) (bool, error) {
	basic, err := r.GetBasic(ctx)
	if err != nil {
		return false, err
	}
	return basic != nil, nil
}

func (r *Resource) get(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.txn.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := storage.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return true, nil
}

func (r *Resource) set(ctx context.Context, key string, v any) error {
	data, err := storage.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.txn.Set(ctx, key, data); err != nil {
		return err
	}
	r.Modified = true
	return nil
}

// GetBasic returns the basic record, or nil if the resource has none.
func (r *Resource) GetBasic(ctx context.Context) (*core.Basic, error) {
	if r.basicLoaded {
		return r.basic, nil
	}
	var basic core.Basic
	found, err := r.get(ctx, storage.ResourceBasicKey(r.kbid, r.uuid), &basic)
	if err != nil {
		return nil, err
	}
	r.basicLoaded = true
	if found {
		r.basic = &basic
		status := basic.Metadata.Status
		r.previousStatus = &status
	}
	return r.basic, nil
}

// PreviousStatus returns the status the resource had when it was loaded,
// or nil for a resource created in this pass.
func (r *Resource) PreviousStatus() *core.Status {
	return r.previousStatus
}

// SetBasic merges basic into the stored record and persists it. A non-empty
// slug, or a slug changed through basic, is made unique within the knowledge
// box. User annotations of deletedFields are dropped.
func (r *Resource) SetBasic(ctx context.Context, basic *core.Basic, slug string, deletedFields []core.FieldID) error {
	current, err := r.GetBasic(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		current = &core.Basic{}
	}
	stored := current.Slug
	if basic != nil && basic != current {
		current.MergeFrom(basic)
	}
	if slug == "" && stored != "" && current.Slug != stored {
		slug = current.Slug
	}
	if len(deletedFields) > 0 {
		current.FieldMetadata = slices.DeleteFunc(current.FieldMetadata, func(fm core.UserFieldMetadata) bool {
			return slices.Contains(deletedFields, fm.Field)
		})
	}
	if slug != "" {
		unique, err := UniqueSlug(ctx, r.txn, r.kbid, r.uuid, slug)
		if err != nil {
			return err
		}
		current.Slug = unique
	}
	if stored != "" && current.Slug != stored && r.previousSlug == "" {
		r.previousSlug = stored
	}
	if err := r.set(ctx, storage.ResourceBasicKey(r.kbid, r.uuid), current); err != nil {
		return err
	}
	r.basic = current
	r.basicLoaded = true
	return nil
}

// GetOrigin returns the origin, or nil.
func (r *Resource) GetOrigin(ctx context.Context) (*core.Origin, error) {
	if r.origin != nil {
		return r.origin, nil
	}
	var origin core.Origin
	found, err := r.get(ctx, storage.ResourceOriginKey(r.kbid, r.uuid), &origin)
	if err != nil || !found {
		return nil, err
	}
	r.origin = &origin
	return r.origin, nil
}

// SetOrigin replaces the origin.
func (r *Resource) SetOrigin(ctx context.Context, origin *core.Origin) error {
	if err := r.set(ctx, storage.ResourceOriginKey(r.kbid, r.uuid), origin); err != nil {
		return err
	}
	r.origin = origin
	return nil
}

// GetExtra returns the extra metadata, or nil.
func (r *Resource) GetExtra(ctx context.Context) (*core.Extra, error) {
	var extra core.Extra
	found, err := r.get(ctx, storage.ResourceExtraKey(r.kbid, r.uuid), &extra)
	if err != nil || !found {
		return nil, err
	}
	return &extra, nil
}

// SetExtra replaces the extra metadata.
func (r *Resource) SetExtra(ctx context.Context, extra *core.Extra) error {
	return r.set(ctx, storage.ResourceExtraKey(r.kbid, r.uuid), extra)
}

// GetSecurity returns the access groups, or nil.
func (r *Resource) GetSecurity(ctx context.Context) (*core.Security, error) {
	var security core.Security
	found, err := r.get(ctx, storage.ResourceSecurityKey(r.kbid, r.uuid), &security)
	if err != nil || !found {
		return nil, err
	}
	return &security, nil
}

// SetSecurity replaces the access groups.
func (r *Resource) SetSecurity(ctx context.Context, security *core.Security) error {
	return r.set(ctx, storage.ResourceSecurityKey(r.kbid, r.uuid), security)
}

// GetRelations returns the stored relations.
func (r *Resource) GetRelations(ctx context.Context) ([]core.Relation, error) {
	if r.relations != nil {
		return r.relations, nil
	}
	var relations []core.Relation
	if _, err := r.get(ctx, storage.ResourceRelationsKey(r.kbid, r.uuid), &relations); err != nil {
		return nil, err
	}
	r.relations = relations
	return relations, nil
}

// SetRelations replaces the stored relations.
func (r *Resource) SetRelations(ctx context.Context, relations []core.Relation) error {
	if err := r.set(ctx, storage.ResourceRelationsKey(r.kbid, r.uuid), relations); err != nil {
		return err
	}
	r.relations = relations
	return nil
}

// SlugChanged reports whether SetBasic gave an existing resource a new slug.
func (r *Resource) SlugChanged() bool {
	return r.previousSlug != "" && r.basic != nil && r.basic.Slug != r.previousSlug
}

// SetSlug writes the slug index entry for the current basic slug and drops
// the entry of the slug it replaced, if that entry still points at the
// resource.
func (r *Resource) SetSlug(ctx context.Context) error {
	basic, err := r.GetBasic(ctx)
	if err != nil {
		return err
	}
	if basic == nil || basic.Slug == "" {
		return nil
	}
	if r.SlugChanged() {
		key := storage.ResourceSlugKey(r.kbid, r.previousSlug)
		owner, err := r.txn.Get(ctx, key)
		switch {
		case err == nil && string(owner) == r.uuid:
			if err := r.txn.Delete(ctx, key); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return err
		}
	}
	return r.txn.Set(ctx, storage.ResourceSlugKey(r.kbid, basic.Slug), []byte(r.uuid))
}

// GetFields returns the ids of every field of the resource plus the generic
// fields every resource carries. force rescans the store.
func (r *Resource) GetFields(ctx context.Context, force bool) ([]core.FieldID, error) {
	if r.allFieldsKeys != nil && !force {
		return r.allFieldsKeys, nil
	}
	keys, err := r.txn.Keys(ctx, storage.ResourceFieldsPrefix(r.kbid, r.uuid))
	if err != nil {
		return nil, err
	}
	var ids []core.FieldID
	for _, key := range keys {
		id, ok := storage.ParseFieldKey(r.kbid, r.uuid, key)
		if !ok {
			r.logger.Warn("unparseable field key", "key", key)
			continue
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, generic := range core.GenericFieldIDs {
		id := core.FieldID{Type: core.FieldGeneric, Field: generic}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	r.allFieldsKeys = ids
	return ids, nil
}

// GetField returns the cached handle of a field. load reads its value.
func (r *Resource) GetField(ctx context.Context, id core.FieldID, load bool) (*fields.Field, error) {
	f, ok := r.fields[id]
	if !ok {
		f = fields.New(r.kbid, r.uuid, id, r.txn, r.blobs)
		r.fields[id] = f
	}
	if load {
		if _, err := f.GetValue(ctx); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// SetField stores a field value.
func (r *Resource) SetField(ctx context.Context, id core.FieldID, value core.FieldValue) (*fields.Field, error) {
	f, err := r.GetField(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if err := f.SetValue(ctx, value); err != nil {
		return nil, err
	}
	if r.allFieldsKeys != nil && !slices.Contains(r.allFieldsKeys, id) {
		r.allFieldsKeys = append(r.allFieldsKeys, id)
	}
	r.Modified = true
	return f, nil
}

// DeleteField removes a field and tells the index to drop its paragraphs and
// sentences.
func (r *Resource) DeleteField(ctx context.Context, id core.FieldID) error {
	f, ok := r.fields[id]
	if !ok {
		f = fields.New(r.kbid, r.uuid, id, r.txn, r.blobs)
	}
	delete(r.fields, id)

	vo, err := f.GetVectors(ctx, false)
	if err != nil {
		return err
	}
	r.Brain().DeleteVectors(id.Key(), vo)

	metadata, err := f.GetFieldMetadata(ctx, false)
	if err != nil {
		return err
	}
	r.Brain().DeleteMetadata(id.Key(), metadata)

	if err := f.Delete(ctx); err != nil {
		return err
	}
	if r.allFieldsKeys != nil {
		r.allFieldsKeys = slices.DeleteFunc(r.allFieldsKeys, func(k core.FieldID) bool { return k == id })
	}
	r.Modified = true
	return nil
}

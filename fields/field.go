package fields

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
)

// Field is one field of a resource bound to a KV transaction.
// A Field is not safe for concurrent use.
type Field struct {
	kbid  string
	uuid  string
	id    core.FieldID
	txn   storage.Txn
	blobs blob.Store

	value           core.FieldValue
	extractedText   *core.ExtractedText
	vectors         *core.VectorObject
	metadata        *core.FieldComputedMetadata
	largeMetadata   *core.LargeComputedMetadata
	userVectors     *core.UserVectorSet
	questionAnswers *core.QuestionAnswers
	fileData        *core.FileExtractedData
	linkData        *core.LinkExtractedData
}

// New returns a handle on a field. Nothing is read until requested.
func New(kbid, uuid string, id core.FieldID, txn storage.Txn, blobs blob.Store) *Field {
	return &Field{
		kbid:  kbid,
		uuid:  uuid,
		id:    id,
		txn:   txn,
		blobs: blobs,
	}
}

// ID returns the field id.
func (f *Field) ID() core.FieldID {
	return f.id
}

// Type returns the field type.
func (f *Field) Type() core.FieldType {
	return f.id.Type
}

// Key returns the "{type}/{field}" key used by the index.
func (f *Field) Key() string {
	return f.id.Key()
}

func (f *Field) kvKey() string {
	return storage.FieldKey(f.kbid, f.uuid, f.id.Type, f.id.Field)
}

func (f *Field) blobKey(kind blob.Kind) string {
	return blob.FieldKey(f.kbid, f.uuid, f.id.Type, f.id.Field, kind)
}

// GetValue returns the stored value, or nil if the field has none.
func (f *Field) GetValue(ctx context.Context) (core.FieldValue, error) {
	if f.value != nil {
		return f.value, nil
	}
	data, err := f.txn.Get(ctx, f.kvKey())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	value, err := newValue(f.id.Type)
	if err != nil {
		return nil, err
	}
	if err := storage.Unmarshal(data, value); err != nil {
		return nil, err
	}
	f.value = value
	return value, nil
}

// SetValue stores the field's value.
func (f *Field) SetValue(ctx context.Context, value core.FieldValue) error {
	if value == nil || value.FieldType() != f.id.Type {
		return fmt.Errorf("%w: field %s", ErrFieldTypeMismatch, f.id.Key())
	}
	data, err := storage.Marshal(value)
	if err != nil {
		return err
	}
	if err := f.txn.Set(ctx, f.kvKey(), data); err != nil {
		return err
	}
	f.value = value
	return nil
}

// GetError returns the last processing error recorded for the field, or nil.
func (f *Field) GetError(ctx context.Context) (*core.FieldError, error) {
	data, err := f.txn.Get(ctx, storage.FieldErrorKey(f.kbid, f.uuid, f.id.Type, f.id.Field))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var fieldErr core.FieldError
	if err := storage.Unmarshal(data, &fieldErr); err != nil {
		return nil, err
	}
	return &fieldErr, nil
}

// SetError records a processing error for the field.
func (f *Field) SetError(ctx context.Context, fieldErr core.FieldError) error {
	data, err := storage.Marshal(fieldErr)
	if err != nil {
		return err
	}
	return f.txn.Set(ctx, storage.FieldErrorKey(f.kbid, f.uuid, f.id.Type, f.id.Field), data)
}

// Delete removes the field's keys from the transaction and every artifact
// blob. Missing blobs are ignored; other blob failures are collected and
// returned after all deletions were attempted.
func (f *Field) Delete(ctx context.Context) error {
	if err := f.txn.Delete(ctx, f.kvKey()); err != nil {
		return err
	}
	if err := storage.DeletePrefix(ctx, f.txn, f.kvKey()+"/"); err != nil {
		return err
	}

	var result *multierror.Error
	for _, kind := range blob.Kinds {
		err := f.blobs.Delete(ctx, f.blobKey(kind))
		if err != nil && !errors.Is(err, blob.ErrNotFound) {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", kind, err))
		}
	}
	f.clear()
	return result.ErrorOrNil()
}

func (f *Field) clear() {
	f.value = nil
	f.extractedText = nil
	f.vectors = nil
	f.metadata = nil
	f.largeMetadata = nil
	f.userVectors = nil
	f.questionAnswers = nil
	f.fileData = nil
	f.linkData = nil
}

package fields

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/storage"
)

// newValue returns an empty value of the concrete type stored for ft.
func newValue(ft core.FieldType) (core.FieldValue, error) {
	switch ft {
	case core.FieldText:
		return &core.TextField{}, nil
	case core.FieldFile:
		return &core.FileField{}, nil
	case core.FieldLink:
		return &core.LinkField{}, nil
	case core.FieldLayout:
		return &core.LayoutField{}, nil
	case core.FieldConversation:
		return &core.ConversationField{}, nil
	case core.FieldKeywordset:
		return &core.KeywordsetField{}, nil
	case core.FieldDatetime:
		return &core.DatetimeField{}, nil
	case core.FieldGeneric:
		return &core.GenericField{}, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrInvalidFieldType, ft)
}

// download fetches and decodes the object at key. A missing object yields nil.
func download[T any](ctx context.Context, blobs blob.Store, key string) (*T, error) {
	data, err := blobs.Download(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := storage.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func upload(ctx context.Context, blobs blob.Store, key string, v any) error {
	data, err := storage.Marshal(v)
	if err != nil {
		return err
	}
	return blobs.Upload(ctx, key, data)
}

// resolve returns the payload of a wrapper, downloading it when the wrapper
// points at a blob instead of carrying the value inline.
func resolve[T any](ctx context.Context, blobs blob.Store, inline *T, file *core.CloudFile) (*T, error) {
	if file != nil && file.URI != "" {
		data, err := blobs.Download(ctx, file.URI)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", file.URI, err)
		}
		var v T
		if err := storage.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", file.URI, err)
		}
		return &v, nil
	}
	if inline == nil {
		return nil, ErrMissingPayload
	}
	return inline, nil
}

func paragraphRanges(paragraphs []core.Paragraph) []string {
	ranges := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		ranges = append(ranges, p.Range())
	}
	return ranges
}

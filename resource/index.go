package resource

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/poiesic/kbingest/brain"
	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/fields"
)

// globalText joins the field text with every split, in split order.
func globalText(extracted *core.ExtractedText) string {
	var sb strings.Builder
	sb.WriteString(extracted.Text)
	for _, split := range sortedNames(extracted.SplitText) {
		sb.WriteString(" ")
		sb.WriteString(extracted.SplitText[split])
		sb.WriteString(" ")
	}
	return sb.String()
}

func (r *Resource) computeFieldText(ctx context.Context, id core.FieldID, b *brain.Builder) error {
	f, err := r.GetField(ctx, id, false)
	if err != nil {
		return err
	}
	extracted, err := f.GetExtractedText(ctx, false)
	if err != nil {
		return err
	}
	if extracted == nil {
		return nil
	}
	b.ApplyFieldText(id.Key(), globalText(extracted))
	return nil
}

// ComputeGlobalText sets the global text of every field whose extracted text
// changed in this pass.
func (r *Resource) ComputeGlobalText(ctx context.Context) error {
	seen := make(map[core.FieldID]bool, len(r.modifiedText))
	for _, id := range r.modifiedText {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := r.computeFieldText(ctx, id, r.Brain()); err != nil {
			return err
		}
	}
	return nil
}

// ComputeGlobalTags derives resource labels, relations and the index status
// from the basic record, the origin and every field's metadata.
func (r *Resource) ComputeGlobalTags(ctx context.Context) error {
	return r.computeGlobalTags(ctx, r.Brain())
}

func (r *Resource) computeGlobalTags(ctx context.Context, b *brain.Builder) error {
	basic, err := r.GetBasic(ctx)
	if err != nil {
		return err
	}
	if basic == nil {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, r.uuid)
	}
	origin, err := r.GetOrigin(ctx)
	if err != nil {
		return err
	}
	b.SetGlobalTags(basic, r.uuid, origin)
	b.SetProcessingStatus(basic, r.previousStatus)

	ids, err := r.GetFields(ctx, false)
	if err != nil {
		return err
	}
	for _, id := range ids {
		f, err := r.GetField(ctx, id, false)
		if err != nil {
			return err
		}
		metadata, err := f.GetFieldMetadata(ctx, false)
		if err != nil {
			return err
		}
		userField := basic.UserFieldMetadataFor(id)
		if metadata != nil || userField != nil {
			b.ApplyFieldTagsGlobally(id.Key(), metadata, r.uuid, basic.UserMetadata, userField)
		}
		if id.Type == core.FieldKeywordset {
			if err := r.processKeywordset(ctx, f, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resource) processKeywordset(ctx context.Context, f *fields.Field, b *brain.Builder) error {
	value, err := f.GetValue(ctx)
	if err != nil {
		return err
	}
	if ks, ok := value.(*core.KeywordsetField); ok {
		b.ProcessKeywordsetField(f.Key(), ks)
	}
	return nil
}

// ComputeSecurity copies the stored access groups into the index builder.
func (r *Resource) ComputeSecurity(ctx context.Context) error {
	security, err := r.GetSecurity(ctx)
	if err != nil {
		return err
	}
	r.Brain().SetSecurity(security)
	return nil
}

// GenerateIndexMessage rebuilds the index representation from every stored
// field. Each field's previous index entries are dropped first.
func (r *Resource) GenerateIndexMessage(ctx context.Context) (*brain.Builder, error) {
	b := brain.New(r.uuid, brain.WithLogger(r.logger))

	basic, err := r.GetBasic(ctx)
	if err != nil {
		return nil, err
	}
	if basic == nil {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, r.uuid)
	}
	security, err := r.GetSecurity(ctx)
	if err != nil {
		return nil, err
	}
	b.SetSecurity(security)

	ids, err := r.GetFields(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		key := id.Key()
		f, err := r.GetField(ctx, id, false)
		if err != nil {
			return nil, err
		}
		b.DeleteField(key)

		if err := r.computeFieldText(ctx, id, b); err != nil {
			return nil, err
		}

		metadata, err := f.GetFieldMetadata(ctx, false)
		if err != nil {
			return nil, err
		}
		if metadata != nil {
			pages, err := f.PagePositions(ctx)
			if err != nil {
				return nil, err
			}
			extracted, err := f.GetExtractedText(ctx, false)
			if err != nil {
				return nil, err
			}
			b.ApplyFieldMetadata(key, metadata, nil, nil, pages, extracted, basic.UserFieldMetadataFor(id))
		}

		vo, err := f.GetVectors(ctx, false)
		if err != nil {
			return nil, err
		}
		if vo != nil {
			b.ApplyFieldVectors(key, vo, false, nil)
		}

		uv, err := f.GetUserVectors(ctx, false)
		if err != nil {
			return nil, err
		}
		if uv != nil {
			b.ApplyUserVectors(key, uv, nil)
		}
	}

	if err := r.computeGlobalTags(ctx, b); err != nil {
		return nil, err
	}
	relations, err := r.GetRelations(ctx)
	if err != nil {
		return nil, err
	}
	b.AddRelations(relations...)
	return b, nil
}

func sortedNames[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

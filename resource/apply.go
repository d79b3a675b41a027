package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/kbingest/core"
)

const linkIcon = "application/stf-link"

// ApplyFields writes the field values carried by msg and removes its deleted
// fields.
func (r *Resource) ApplyFields(ctx context.Context, msg *core.BrokerMessage) error {
	type entry struct {
		ft     core.FieldType
		values map[string]core.FieldValue
	}
	groups := []entry{
		{core.FieldLayout, asValues(msg.Layouts)},
		{core.FieldText, asValues(msg.Texts)},
		{core.FieldKeywordset, asValues(msg.Keywordsets)},
		{core.FieldDatetime, asValues(msg.Datetimes)},
		{core.FieldLink, asValues(msg.Links)},
		{core.FieldFile, asValues(msg.Files)},
		{core.FieldConversation, asValues(msg.Conversations)},
	}
	for _, g := range groups {
		for _, name := range sortedNames(g.values) {
			id := core.FieldID{Type: g.ft, Field: name}
			if _, err := r.SetField(ctx, id, g.values[name]); err != nil {
				return fmt.Errorf("set field %s: %w", id.Key(), err)
			}
		}
	}
	for _, id := range msg.DeleteFields {
		if err := r.DeleteField(ctx, id); err != nil {
			return fmt.Errorf("delete field %s: %w", id.Key(), err)
		}
	}
	return nil
}

// ApplyExtracted writes everything processing computed for the resource and
// feeds the index builder. Field metadata is applied before vectors so
// sentences attach to fresh paragraphs.
func (r *Resource) ApplyExtracted(ctx context.Context, msg *core.BrokerMessage) error {
	for _, fieldErr := range msg.Errors {
		f, err := r.GetField(ctx, fieldErr.Field, false)
		if err != nil {
			return err
		}
		if err := f.SetError(ctx, fieldErr); err != nil {
			return err
		}
		r.Modified = true
	}

	basic, err := r.GetBasic(ctx)
	if err != nil {
		return err
	}
	if basic == nil {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, r.uuid)
	}

	basicModified := false
	if len(msg.Errors) > 0 {
		basic.Metadata.Status = core.StatusError
		basicModified = true
	} else if msg.Source == core.SourceProcessor {
		basic.Metadata.Status = core.StatusProcessed
		basicModified = true
	}

	for _, w := range msg.ExtractedText {
		f, err := r.GetField(ctx, w.Field, false)
		if err != nil {
			return err
		}
		if _, err := f.SetExtractedText(ctx, w); err != nil {
			return fmt.Errorf("extracted text %s: %w", w.Field.Key(), err)
		}
		r.modifiedText = append(r.modifiedText, w.Field)
		r.Modified = true
	}

	for _, data := range msg.LinkExtractedData {
		f, err := r.GetField(ctx, core.FieldID{Type: core.FieldLink, Field: data.Field}, false)
		if err != nil {
			return err
		}
		if data.Thumbnail != "" && basic.Thumbnail == "" {
			basic.Thumbnail = data.Thumbnail
			basicModified = true
		}
		if err := f.SetLinkExtractedData(ctx, data); err != nil {
			return err
		}
		if basic.Icon == "" {
			basic.Icon = linkIcon
			basicModified = true
		}
		if data.Title != "" && (basic.Title == "" || strings.HasPrefix(basic.Title, "http")) {
			basic.Title = data.Title
			basicModified = true
		}
		if basic.Summary == "" && data.Description != "" {
			basic.Summary = data.Description
			basicModified = true
		}
		r.Modified = true
	}

	for _, data := range msg.FileExtractedData {
		f, err := r.GetField(ctx, core.FieldID{Type: core.FieldFile, Field: data.Field}, false)
		if err != nil {
			return err
		}
		if data.Icon != "" && basic.Icon == "" {
			basic.Icon = data.Icon
			basicModified = true
		}
		if data.Thumbnail != "" && basic.Thumbnail == "" {
			basic.Thumbnail = data.Thumbnail
			basicModified = true
		}
		if err := f.SetFileExtractedData(ctx, data); err != nil {
			return err
		}
		r.Modified = true
	}

	for _, w := range msg.FieldMetadata {
		f, err := r.GetField(ctx, w.Field, false)
		if err != nil {
			return err
		}
		metadata, replaceField, replaceSplits, err := f.SetFieldMetadata(ctx, w)
		if err != nil {
			return fmt.Errorf("field metadata %s: %w", w.Field.Key(), err)
		}
		pages, err := f.PagePositions(ctx)
		if err != nil {
			return err
		}
		extracted, err := f.GetExtractedText(ctx, false)
		if err != nil {
			return err
		}
		r.Brain().ApplyFieldMetadata(w.Field.Key(), metadata, replaceField, replaceSplits,
			pages, extracted, basic.UserFieldMetadataFor(w.Field))

		if metadata.Metadata.Thumbnail != "" && basic.Thumbnail == "" {
			basic.Thumbnail = metadata.Metadata.Thumbnail
			basicModified = true
		}
		r.Modified = true
	}

	for _, w := range msg.FieldVectors {
		f, err := r.GetField(ctx, w.Field, false)
		if err != nil {
			return err
		}
		vo, replaceField, replaceSplits, err := f.SetVectors(ctx, w)
		if err != nil {
			return fmt.Errorf("vectors %s: %w", w.Field.Key(), err)
		}
		r.Brain().ApplyFieldVectors(w.Field.Key(), vo, replaceField, replaceSplits)
		r.Modified = true
	}

	for _, w := range msg.FieldLargeMetadata {
		f, err := r.GetField(ctx, w.Field, false)
		if err != nil {
			return err
		}
		if _, err := f.SetLargeMetadata(ctx, w); err != nil {
			return fmt.Errorf("large metadata %s: %w", w.Field.Key(), err)
		}
		r.Modified = true
	}

	for _, w := range msg.UserVectors {
		f, err := r.GetField(ctx, w.Field, false)
		if err != nil {
			return err
		}
		set, toDelete, err := f.SetUserVectors(ctx, w)
		if err != nil {
			return fmt.Errorf("user vectors %s: %w", w.Field.Key(), err)
		}
		r.Brain().ApplyUserVectors(w.Field.Key(), set, toDelete)
		r.Modified = true
	}

	for _, w := range msg.QuestionAnswers {
		f, err := r.GetField(ctx, w.Field, false)
		if err != nil {
			return err
		}
		if _, err := f.SetQuestionAnswers(ctx, w); err != nil {
			return fmt.Errorf("question answers %s: %w", w.Field.Key(), err)
		}
		r.Modified = true
	}

	if len(msg.Relations) > 0 {
		r.Brain().AddRelations(msg.Relations...)
		if err := r.SetRelations(ctx, msg.Relations); err != nil {
			return err
		}
	}

	if basicModified {
		return r.SetBasic(ctx, basic, "", nil)
	}
	return nil
}

func asValues[V core.FieldValue](m map[string]V) map[string]core.FieldValue {
	out := make(map[string]core.FieldValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

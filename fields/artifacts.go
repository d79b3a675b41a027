package fields

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/poiesic/kbingest/blob"
	"github.com/poiesic/kbingest/core"
)

// GetExtractedText returns the field's extracted text, or nil.
func (f *Field) GetExtractedText(ctx context.Context, force bool) (*core.ExtractedText, error) {
	if f.extractedText == nil || force {
		v, err := download[core.ExtractedText](ctx, f.blobs, f.blobKey(blob.KindExtractedText))
		if err != nil {
			return nil, err
		}
		if v != nil {
			f.extractedText = v
		}
	}
	return f.extractedText, nil
}

// SetExtractedText merges w into the stored extracted text and returns the result.
func (f *Field) SetExtractedText(ctx context.Context, w core.ExtractedTextWrapper) (*core.ExtractedText, error) {
	delta, err := resolve(ctx, f.blobs, w.Body, w.File)
	if err != nil {
		return nil, err
	}

	merged := delta
	if f.id.Type.SplitCapable() {
		previous, err := f.GetExtractedText(ctx, true)
		if err != nil {
			return nil, err
		}
		if previous == nil {
			previous = &core.ExtractedText{}
		}
		merged = mergeExtractedText(previous, delta)
	}

	if err := upload(ctx, f.blobs, f.blobKey(blob.KindExtractedText), merged); err != nil {
		return nil, err
	}
	f.extractedText = merged
	return merged, nil
}

func mergeExtractedText(base, delta *core.ExtractedText) *core.ExtractedText {
	if base.SplitText == nil {
		base.SplitText = make(map[string]string, len(delta.SplitText))
	}
	for split, text := range delta.SplitText {
		base.SplitText[split] = text
	}
	for _, split := range delta.DeletedSplits {
		delete(base.SplitText, split)
	}
	if delta.Text != "" {
		base.Text = delta.Text
	}
	return base
}

// GetVectors returns the field's sentence vectors, or nil.
func (f *Field) GetVectors(ctx context.Context, force bool) (*core.VectorObject, error) {
	if f.vectors == nil || force {
		v, err := download[core.VectorObject](ctx, f.blobs, f.blobKey(blob.KindExtractedVectors))
		if err != nil {
			return nil, err
		}
		if v != nil {
			f.vectors = v
		}
	}
	return f.vectors, nil
}

// SetVectors merges w into the stored vectors. It returns the incoming
// vectors, whether the field-level sentences were replaced, and the splits
// that were removed.
func (f *Field) SetVectors(ctx context.Context, w core.ExtractedVectorsWrapper) (*core.VectorObject, bool, []string, error) {
	delta, err := resolve(ctx, f.blobs, w.Vectors, w.File)
	if err != nil {
		return nil, false, nil, err
	}

	if !f.id.Type.SplitCapable() {
		if err := upload(ctx, f.blobs, f.blobKey(blob.KindExtractedVectors), delta); err != nil {
			return nil, false, nil, err
		}
		f.vectors = delta
		return delta, true, nil, nil
	}

	previous, err := f.GetVectors(ctx, true)
	if err != nil {
		return nil, false, nil, err
	}
	replaceField := previous == nil || len(delta.Vectors.Vectors) > 0
	if previous == nil {
		previous = &core.VectorObject{}
	}

	merged := previous
	if merged.SplitVectors == nil {
		merged.SplitVectors = make(map[string]core.Vectors, len(delta.SplitVectors))
	}
	for split, vectors := range delta.SplitVectors {
		merged.SplitVectors[split] = vectors
	}
	var replaceSplits []string
	for _, split := range delta.DeletedSplits {
		if _, ok := merged.SplitVectors[split]; ok {
			replaceSplits = append(replaceSplits, split)
			delete(merged.SplitVectors, split)
		}
	}
	if len(delta.Vectors.Vectors) > 0 {
		merged.Vectors = delta.Vectors
	}

	if err := upload(ctx, f.blobs, f.blobKey(blob.KindExtractedVectors), merged); err != nil {
		return nil, false, nil, err
	}
	f.vectors = merged
	return delta, replaceField, replaceSplits, nil
}

// GetFieldMetadata returns the field's computed metadata, or nil.
func (f *Field) GetFieldMetadata(ctx context.Context, force bool) (*core.FieldComputedMetadata, error) {
	if f.metadata == nil || force {
		v, err := download[core.FieldComputedMetadata](ctx, f.blobs, f.blobKey(blob.KindMetadata))
		if err != nil {
			return nil, err
		}
		if v != nil {
			f.metadata = v
		}
	}
	return f.metadata, nil
}

// SetFieldMetadata merges w into the stored computed metadata. Besides the
// merged metadata it returns the previous field-level paragraph ranges when
// the field-level metadata was replaced, and the previous paragraph ranges
// of every removed split.
func (f *Field) SetFieldMetadata(ctx context.Context, w core.FieldComputedMetadataWrapper) (*core.FieldComputedMetadata, []string, map[string][]string, error) {
	resolved, err := resolve(ctx, f.blobs, w.Metadata, w.File)
	if err != nil {
		return nil, nil, nil, err
	}
	delta := cloneComputedMetadata(resolved)

	now := time.Now().UTC()
	delta.Metadata.LastIndex = now
	for split, metadata := range delta.SplitMetadata {
		metadata.LastIndex = now
		delta.SplitMetadata[split] = metadata
	}

	previous, err := f.GetFieldMetadata(ctx, true)
	if err != nil {
		return nil, nil, nil, err
	}

	var replaceField []string
	replaceSplits := make(map[string][]string)
	if previous != nil && !delta.Metadata.IsEmpty() {
		replaceField = paragraphRanges(previous.Metadata.Paragraphs)
	}

	merged := delta
	if f.id.Type.SplitCapable() {
		if previous == nil {
			previous = &core.FieldComputedMetadata{}
		}
		merged = previous
		if merged.SplitMetadata == nil {
			merged.SplitMetadata = make(map[string]core.FieldMetadata, len(delta.SplitMetadata))
		}
		for split, metadata := range delta.SplitMetadata {
			merged.SplitMetadata[split] = metadata
		}
		for _, split := range delta.DeletedSplits {
			if metadata, ok := merged.SplitMetadata[split]; ok {
				replaceSplits[split] = paragraphRanges(metadata.Paragraphs)
				delete(merged.SplitMetadata, split)
			}
		}
		if !delta.Metadata.IsEmpty() {
			merged.Metadata = delta.Metadata
		}
	}

	if err := upload(ctx, f.blobs, f.blobKey(blob.KindMetadata), merged); err != nil {
		return nil, nil, nil, err
	}
	f.metadata = merged
	return merged, replaceField, replaceSplits, nil
}

// cloneComputedMetadata copies the parts of m that SetFieldMetadata writes
// to, leaving an inline payload of the broker message untouched.
func cloneComputedMetadata(m *core.FieldComputedMetadata) *core.FieldComputedMetadata {
	c := *m
	c.SplitMetadata = maps.Clone(m.SplitMetadata)
	c.DeletedSplits = slices.Clone(m.DeletedSplits)
	return &c
}

// GetLargeMetadata returns the field's large computed metadata, or nil.
func (f *Field) GetLargeMetadata(ctx context.Context, force bool) (*core.LargeComputedMetadata, error) {
	if f.largeMetadata == nil || force {
		v, err := download[core.LargeComputedMetadata](ctx, f.blobs, f.blobKey(blob.KindLargeMetadata))
		if err != nil {
			return nil, err
		}
		if v != nil {
			f.largeMetadata = v
		}
	}
	return f.largeMetadata, nil
}

// SetLargeMetadata merges w into the stored large metadata.
func (f *Field) SetLargeMetadata(ctx context.Context, w core.LargeComputedMetadataWrapper) (*core.LargeComputedMetadata, error) {
	delta, err := resolve(ctx, f.blobs, w.Real, w.File)
	if err != nil {
		return nil, err
	}

	merged := delta
	if f.id.Type.SplitCapable() {
		previous, err := f.GetLargeMetadata(ctx, true)
		if err != nil {
			return nil, err
		}
		if previous == nil {
			previous = &core.LargeComputedMetadata{}
		}
		merged = previous
		if merged.SplitMetadata == nil {
			merged.SplitMetadata = make(map[string]core.LargeMetadata, len(delta.SplitMetadata))
		}
		for split, metadata := range delta.SplitMetadata {
			merged.SplitMetadata[split] = metadata
		}
		for _, split := range delta.DeletedSplits {
			delete(merged.SplitMetadata, split)
		}
		if !delta.Metadata.IsEmpty() {
			merged.Metadata = delta.Metadata
		}
	}

	if err := upload(ctx, f.blobs, f.blobKey(blob.KindLargeMetadata), merged); err != nil {
		return nil, err
	}
	f.largeMetadata = merged
	return merged, nil
}

// GetUserVectors returns the user supplied vectors of the field, or nil.
func (f *Field) GetUserVectors(ctx context.Context, force bool) (*core.UserVectorSet, error) {
	if f.userVectors == nil || force {
		v, err := download[core.UserVectorSet](ctx, f.blobs, f.blobKey(blob.KindUserVectors))
		if err != nil {
			return nil, err
		}
		if v != nil {
			f.userVectors = v
		}
	}
	return f.userVectors, nil
}

// SetUserVectors upserts the vectors in w and drops the ids listed in
// w.VectorsToDelete. It returns the merged set and the deletions per vectorset.
func (f *Field) SetUserVectors(ctx context.Context, w core.UserVectorsWrapper) (*core.UserVectorSet, map[string][]string, error) {
	previous, err := f.GetUserVectors(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	merged := previous
	if merged == nil {
		merged = &core.UserVectorSet{}
	}
	if merged.Vectors == nil {
		merged.Vectors = make(map[string]map[string]core.UserVector)
	}

	if w.Vectors != nil {
		for vectorset, vectors := range w.Vectors.Vectors {
			stored, ok := merged.Vectors[vectorset]
			if !ok {
				stored = make(map[string]core.UserVector, len(vectors))
				merged.Vectors[vectorset] = stored
			}
			for id, vector := range vectors {
				stored[id] = vector
			}
		}
	}
	for vectorset, ids := range w.VectorsToDelete {
		stored := merged.Vectors[vectorset]
		for _, id := range ids {
			delete(stored, id)
		}
		if stored != nil && len(stored) == 0 {
			delete(merged.Vectors, vectorset)
		}
	}

	if err := upload(ctx, f.blobs, f.blobKey(blob.KindUserVectors), merged); err != nil {
		return nil, nil, err
	}
	f.userVectors = merged
	return merged, w.VectorsToDelete, nil
}

// GetQuestionAnswers returns the field's question answers, or nil.
func (f *Field) GetQuestionAnswers(ctx context.Context, force bool) (*core.QuestionAnswers, error) {
	if f.questionAnswers == nil || force {
		v, err := download[core.QuestionAnswers](ctx, f.blobs, f.blobKey(blob.KindQuestionAnswers))
		if err != nil {
			return nil, err
		}
		if v != nil {
			f.questionAnswers = v
		}
	}
	return f.questionAnswers, nil
}

// SetQuestionAnswers replaces the field's question answers.
func (f *Field) SetQuestionAnswers(ctx context.Context, w core.QuestionAnswersWrapper) (*core.QuestionAnswers, error) {
	qa, err := resolve(ctx, f.blobs, w.QuestionAnswers, w.File)
	if err != nil {
		return nil, err
	}
	if err := upload(ctx, f.blobs, f.blobKey(blob.KindQuestionAnswers), qa); err != nil {
		return nil, err
	}
	f.questionAnswers = qa
	return qa, nil
}

// GetFileExtractedData returns what processing extracted from a file field, or nil.
func (f *Field) GetFileExtractedData(ctx context.Context) (*core.FileExtractedData, error) {
	if f.fileData == nil {
		v, err := download[core.FileExtractedData](ctx, f.blobs, f.blobKey(blob.KindFileExtractedData))
		if err != nil {
			return nil, err
		}
		f.fileData = v
	}
	return f.fileData, nil
}

func (f *Field) SetFileExtractedData(ctx context.Context, data core.FileExtractedData) error {
	if err := upload(ctx, f.blobs, f.blobKey(blob.KindFileExtractedData), data); err != nil {
		return err
	}
	f.fileData = &data
	return nil
}

// PagePositions returns the character range of every page of a file field,
// indexed by page number. Fields without extracted file data have none.
func (f *Field) PagePositions(ctx context.Context) ([]core.PagePosition, error) {
	if f.id.Type != core.FieldFile {
		return nil, nil
	}
	data, err := f.GetFileExtractedData(ctx)
	if err != nil || data == nil {
		return nil, err
	}
	return data.PagePositions, nil
}

// GetLinkExtractedData returns what processing extracted from a link field, or nil.
func (f *Field) GetLinkExtractedData(ctx context.Context) (*core.LinkExtractedData, error) {
	if f.linkData == nil {
		v, err := download[core.LinkExtractedData](ctx, f.blobs, f.blobKey(blob.KindLinkExtractedData))
		if err != nil {
			return nil, err
		}
		f.linkData = v
	}
	return f.linkData, nil
}

func (f *Field) SetLinkExtractedData(ctx context.Context, data core.LinkExtractedData) error {
	if err := upload(ctx, f.blobs, f.blobKey(blob.KindLinkExtractedData), data); err != nil {
		return err
	}
	f.linkData = &data
	return nil
}

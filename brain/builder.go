package brain

import (
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/kbingest/core"
)

// Builder accumulates the index representation of one resource pass.
// A Builder is not safe for concurrent use.
type Builder struct {
	rid    string
	logger *slog.Logger

	status   core.Status
	created  time.Time
	modified time.Time
	security *core.Security

	tags       tagSet
	texts      map[string]core.TextInfo
	paragraphs map[string]map[string]core.IndexParagraph
	relations  []core.Relation

	paragraphsToDelete []string
	sentencesToDelete  []string
	vectorsToDelete    map[string][]string
	userVectors        map[string]map[string]core.UserVector
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New returns an empty builder for resource rid.
func New(rid string, opts ...Option) *Builder {
	b := &Builder{
		rid:             rid,
		logger:          slog.Default(),
		tags:            tagSet{},
		texts:           make(map[string]core.TextInfo),
		paragraphs:      make(map[string]map[string]core.IndexParagraph),
		vectorsToDelete: make(map[string][]string),
		userVectors:     make(map[string]map[string]core.UserVector),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ResourceID returns the id of the resource being built.
func (b *Builder) ResourceID() string {
	return b.rid
}

// Status returns the index status set so far.
func (b *Builder) Status() core.Status {
	return b.status
}

// ParagraphCount returns the number of paragraphs across all fields.
func (b *Builder) ParagraphCount() int {
	n := 0
	for _, paragraphs := range b.paragraphs {
		n += len(paragraphs)
	}
	return n
}

// ApplyFieldText sets the global text of a field.
func (b *Builder) ApplyFieldText(fieldKey, text string) {
	info := b.texts[fieldKey]
	info.Text = text
	b.texts[fieldKey] = info
}

func (b *Builder) fieldParagraphs(fieldKey string) map[string]core.IndexParagraph {
	paragraphs, ok := b.paragraphs[fieldKey]
	if !ok {
		paragraphs = make(map[string]core.IndexParagraph)
		b.paragraphs[fieldKey] = paragraphs
	}
	return paragraphs
}

func (b *Builder) key(parts ...string) string {
	return b.rid + "/" + strings.Join(parts, "/")
}

func (b *Builder) paragraphKey(fieldKey, split, rng string) string {
	if split == "" {
		return b.key(fieldKey, rng)
	}
	return b.key(fieldKey, split, rng)
}

// userParagraphKey rewrites the leading resource segment of an annotation key
// so annotations written against any resource id match this resource.
func (b *Builder) userParagraphKey(key string) string {
	_, rest, ok := strings.Cut(key, "/")
	if !ok {
		return b.rid
	}
	return b.rid + "/" + rest
}

type fieldPass struct {
	fieldKey   string
	pages      []core.PagePosition
	extracted  *core.ExtractedText
	seenTexts  map[string]struct{}
	annotation map[string]*core.ParagraphAnnotation
}

func (b *Builder) newFieldPass(fieldKey string, pages []core.PagePosition, extracted *core.ExtractedText, user *core.UserFieldMetadata) *fieldPass {
	pass := &fieldPass{
		fieldKey:   fieldKey,
		pages:      pages,
		extracted:  extracted,
		seenTexts:  make(map[string]struct{}),
		annotation: make(map[string]*core.ParagraphAnnotation),
	}
	if user != nil {
		for i := range user.Paragraphs {
			pa := &user.Paragraphs[i]
			pass.annotation[b.userParagraphKey(pa.Key)] = pa
		}
	}
	return pass
}

// repeated reports whether the paragraph text was already seen in this field.
// Empty text and missing extracted text never repeat.
func (p *fieldPass) repeated(split string, start, end int) bool {
	if p.extracted == nil {
		return false
	}
	text := p.extracted.Text
	if split != "" {
		text = p.extracted.SplitText[split]
	}
	chunk := runeSlice(text, start, end)
	if chunk == "" {
		return false
	}
	if _, ok := p.seenTexts[chunk]; ok {
		return true
	}
	p.seenTexts[chunk] = struct{}{}
	return false
}

func runeSlice(s string, start, end int) string {
	r := []rune(s)
	if start < 0 {
		start = 0
	}
	if end > len(r) {
		end = len(r)
	}
	if start >= end {
		return ""
	}
	return string(r[start:end])
}

func (b *Builder) buildParagraph(pass *fieldPass, split string, index int, para core.Paragraph) (string, core.IndexParagraph) {
	key := b.paragraphKey(pass.fieldKey, split, para.Range())

	var denied, added []string
	if pa, ok := pass.annotation[key]; ok {
		for _, c := range pa.Classifications {
			if c.CancelledByUser {
				denied = append(denied, LabelTag(c.Labelset, c.Label))
			} else {
				added = append(added, LabelTag(c.Labelset, c.Label))
			}
		}
	}

	position := core.Position{
		Index:        index,
		Start:        para.Start,
		End:          para.End,
		StartSeconds: slices.Clone(para.StartSeconds),
		EndSeconds:   slices.Clone(para.EndSeconds),
	}
	if len(pass.pages) > 0 {
		position.PageNumber = PageNumber(para.Start, pass.pages, b.logger)
	}

	p := core.IndexParagraph{
		Start:           para.Start,
		End:             para.End,
		Index:           index,
		Field:           pass.fieldKey,
		Split:           split,
		RepeatedInField: pass.repeated(split, para.Start, para.End),
		Position:        position,
	}
	for _, c := range para.Classifications {
		label := LabelTag(c.Labelset, c.Label)
		if !slices.Contains(denied, label) {
			p.Labels = append(p.Labels, label)
		}
	}
	for _, label := range added {
		if !slices.Contains(p.Labels, label) {
			p.Labels = append(p.Labels, label)
		}
	}
	return key, p
}

// ApplyFieldMetadata writes the paragraphs of a field and records the ranges
// the index must drop before inserting them. replaceField holds previous
// field-level ranges, replaceSplits previous ranges per split.
func (b *Builder) ApplyFieldMetadata(
	fieldKey string,
	metadata *core.FieldComputedMetadata,
	replaceField []string,
	replaceSplits map[string][]string,
	pagePositions []core.PagePosition,
	extractedText *core.ExtractedText,
	userFieldMetadata *core.UserFieldMetadata,
) {
	if metadata != nil {
		pass := b.newFieldPass(fieldKey, pagePositions, extractedText, userFieldMetadata)
		paragraphs := b.fieldParagraphs(fieldKey)

		for _, split := range sortedKeys(metadata.SplitMetadata) {
			for i, para := range metadata.SplitMetadata[split].Paragraphs {
				key, p := b.buildParagraph(pass, split, i, para)
				p.Sentences = existingSentences(paragraphs, key)
				paragraphs[key] = p
			}
		}
		for i, para := range metadata.Metadata.Paragraphs {
			key, p := b.buildParagraph(pass, "", i, para)
			p.Sentences = existingSentences(paragraphs, key)
			paragraphs[key] = p
		}

		b.relations = append(b.relations, metadata.Metadata.Relations...)
	}

	for _, split := range sortedKeys(replaceSplits) {
		for _, rng := range replaceSplits[split] {
			b.paragraphsToDelete = append(b.paragraphsToDelete, b.key(fieldKey, split, rng))
		}
	}
	for _, rng := range replaceField {
		b.paragraphsToDelete = append(b.paragraphsToDelete, b.key(fieldKey, rng))
	}
}

// existingSentences keeps vectors applied before the paragraph was rewritten.
func existingSentences(paragraphs map[string]core.IndexParagraph, key string) map[string]core.IndexSentence {
	if prev, ok := paragraphs[key]; ok {
		return prev.Sentences
	}
	return nil
}

// DeleteMetadata drops every paragraph of a removed field.
func (b *Builder) DeleteMetadata(fieldKey string, metadata *core.FieldComputedMetadata) {
	if metadata == nil {
		return
	}
	for _, split := range sortedKeys(metadata.SplitMetadata) {
		for _, para := range metadata.SplitMetadata[split].Paragraphs {
			b.paragraphsToDelete = append(b.paragraphsToDelete, b.key(fieldKey, split, para.Range()))
		}
	}
	for _, para := range metadata.Metadata.Paragraphs {
		b.paragraphsToDelete = append(b.paragraphsToDelete, b.key(fieldKey, para.Range()))
	}
}

func (b *Builder) applySentence(fieldKey, split string, index int, v core.Vector) {
	paragraphs := b.fieldParagraphs(fieldKey)
	pkey := b.paragraphKey(fieldKey, split, core.RangeKey(v.StartParagraph, v.EndParagraph))
	p, ok := paragraphs[pkey]
	if !ok {
		p = core.IndexParagraph{Field: fieldKey, Split: split}
	}
	if p.Sentences == nil {
		p.Sentences = make(map[string]core.IndexSentence)
	}

	skey := b.paragraphKey(fieldKey, split, strconv.Itoa(index)+"/"+core.RangeKey(v.Start, v.End))
	p.Sentences[skey] = core.IndexSentence{
		Vector: slices.Clone(v.Vector),
		Position: core.Position{
			Index:      p.Position.Index,
			Start:      v.Start,
			End:        v.End,
			PageNumber: p.Position.PageNumber,
		},
	}
	paragraphs[pkey] = p
}

// ApplyFieldVectors attaches sentence vectors to their paragraphs.
// Applying the same vectors twice yields the same sentences.
func (b *Builder) ApplyFieldVectors(fieldKey string, vo *core.VectorObject, replaceField bool, replaceSplits []string) {
	if vo != nil {
		for _, split := range sortedKeys(vo.SplitVectors) {
			for i, v := range vo.SplitVectors[split].Vectors {
				b.applySentence(fieldKey, split, i, v)
			}
		}
		for i, v := range vo.Vectors.Vectors {
			b.applySentence(fieldKey, "", i, v)
		}
	}

	for _, split := range replaceSplits {
		b.sentencesToDelete = append(b.sentencesToDelete, b.key(fieldKey, split))
	}
	if replaceField {
		b.sentencesToDelete = append(b.sentencesToDelete, b.key(fieldKey))
	}
}

// DeleteVectors drops every sentence of a removed field.
func (b *Builder) DeleteVectors(fieldKey string, vo *core.VectorObject) {
	if vo == nil {
		return
	}
	for _, split := range sortedKeys(vo.SplitVectors) {
		for i, v := range vo.SplitVectors[split].Vectors {
			b.sentencesToDelete = append(b.sentencesToDelete,
				b.key(fieldKey, split, strconv.Itoa(i), core.RangeKey(v.Start, v.End)))
		}
	}
	for i, v := range vo.Vectors.Vectors {
		b.sentencesToDelete = append(b.sentencesToDelete,
			b.key(fieldKey, strconv.Itoa(i), core.RangeKey(v.Start, v.End)))
	}
}

// ApplyUserVectors adds user vectors and records the ids to drop per vectorset.
func (b *Builder) ApplyUserVectors(fieldKey string, set *core.UserVectorSet, toDelete map[string][]string) {
	if set != nil {
		for _, vectorset := range sortedKeys(set.Vectors) {
			vectors := b.userVectors[vectorset]
			if vectors == nil {
				vectors = make(map[string]core.UserVector)
				b.userVectors[vectorset] = vectors
			}
			for id, uv := range set.Vectors[vectorset] {
				uv.Vector = slices.Clone(uv.Vector)
				uv.Labels = slices.Clone(uv.Labels)
				vectors[b.key(fieldKey, id, core.RangeKey(uv.Start, uv.End))] = uv
			}
		}
	}
	for _, vectorset := range sortedKeys(toDelete) {
		for _, id := range toDelete[vectorset] {
			b.vectorsToDelete[vectorset] = append(b.vectorsToDelete[vectorset], b.key(fieldKey, id))
		}
	}
}

// SetProcessingStatus derives the index status. A resource that was ever
// processed stays PROCESSED; otherwise PENDING stays PENDING and any other
// status maps to PROCESSED.
func (b *Builder) SetProcessingStatus(basic *core.Basic, previous *core.Status) {
	if previous != nil && *previous != core.StatusPending {
		b.status = core.StatusProcessed
		return
	}
	if basic == nil || basic.Metadata.Status == core.StatusPending {
		b.status = core.StatusPending
		return
	}
	b.status = core.StatusProcessed
}

// SetSecurity sets the access groups carried by the index message.
func (b *Builder) SetSecurity(security *core.Security) {
	if security == nil {
		b.security = nil
		return
	}
	b.security = &core.Security{AccessGroups: slices.Clone(security.AccessGroups)}
}

func statusTag(m core.Metadata) string {
	if !m.Useful {
		return "EMPTY"
	}
	return m.Status.String()
}

// SetGlobalTags derives resource labels and relations from the basic record
// and the origin.
func (b *Builder) SetGlobalTags(basic *core.Basic, uuid string, origin *core.Origin) {
	if basic == nil {
		basic = &core.Basic{}
	}
	b.created = basic.Created
	b.modified = basic.Modified

	resourceNode := core.RelationNode{Value: uuid, Type: core.NodeResource}

	if origin != nil {
		if origin.SourceID != "" {
			b.tags[FacetOrigin] = []string{origin.SourceID}
		}
		for _, tag := range origin.Tags {
			b.tags.add(FacetTag, tag)
		}
		if origin.SourceID != "" {
			b.tags.add(FacetUser, "s/"+origin.SourceID)
		}
		for _, collaborator := range origin.Collaborators {
			b.tags.add(FacetUser, "o/"+collaborator)
			b.relations = append(b.relations, core.Relation{
				Kind: core.RelationColab,
				From: resourceNode,
				To:   core.RelationNode{Value: collaborator, Type: core.NodeUser},
			})
		}
		if path := strings.TrimPrefix(origin.Path, "/"); path != "" {
			b.tags.add(FacetPath, path)
		}
		for _, key := range sortedKeys(origin.Metadata) {
			b.tags.add(FacetMetadata, truncate(key, maxMetadataLen)+"/"+truncate(origin.Metadata[key], maxMetadataLen))
		}
		for _, related := range origin.Related {
			b.relations = append(b.relations, core.Relation{
				Kind: core.RelationChild,
				From: resourceNode,
				To:   core.RelationNode{Value: related, Type: core.NodeResource},
			})
		}
	}

	b.tags.add(FacetIcon, "i/"+basic.Icon)
	b.tags.add(FacetIcon, "s/"+statusTag(basic.Metadata))

	if basic.Metadata.Language != "" {
		b.tags.add(FacetLanguage, "p/"+basic.Metadata.Language)
	}
	for _, lang := range basic.Metadata.Languages {
		b.tags.add(FacetLanguage, "s/"+lang)
	}

	if basic.UserMetadata != nil {
		for _, c := range basic.UserMetadata.Classifications {
			if c.CancelledByUser {
				continue
			}
			b.tags.add(FacetLabel, c.Flat())
			b.relations = append(b.relations, core.Relation{
				Kind: core.RelationAbout,
				From: resourceNode,
				To:   core.RelationNode{Value: c.Flat(), Type: core.NodeLabel},
			})
		}
		b.relations = append(b.relations, basic.UserMetadata.Relations...)
	}
}

func (b *Builder) fieldTags(meta core.FieldMetadata, resourceNode core.RelationNode, cancelled []string, tags tagSet) {
	for _, c := range meta.Classifications {
		if c.CancelledByUser || slices.Contains(cancelled, c.Flat()) {
			continue
		}
		tags.add(FacetLabel, c.Flat())
		b.relations = append(b.relations, core.Relation{
			Kind: core.RelationAbout,
			From: resourceNode,
			To:   core.RelationNode{Value: c.Flat(), Type: core.NodeLabel},
		})
	}
	for _, key := range sortedKeys(meta.Positions) {
		klass, entity, ok := splitEntity(key)
		if !ok {
			b.logger.Warn("entity without class", "entity", key)
			continue
		}
		tags.add(FacetEntity, key)
		b.relations = append(b.relations, core.Relation{
			Kind: core.RelationEntity,
			From: resourceNode,
			To:   core.RelationNode{Value: entity, Type: core.NodeEntity, Subtype: klass},
		})
	}
}

// ApplyFieldTagsGlobally adds the labels and entities of a field to the
// field's text entry, with ABOUT and ENTITY relations from the resource.
// User-cancelled resource classifications are left out.
func (b *Builder) ApplyFieldTagsGlobally(
	fieldKey string,
	metadata *core.FieldComputedMetadata,
	uuid string,
	userMetadata *core.UserMetadata,
	userFieldMetadata *core.UserFieldMetadata,
) {
	var cancelled []string
	if userMetadata != nil {
		for _, c := range userMetadata.Classifications {
			if c.CancelledByUser {
				cancelled = append(cancelled, c.Flat())
			}
		}
	}

	resourceNode := core.RelationNode{Value: uuid, Type: core.NodeResource}
	tags := tagSet{}
	if metadata != nil {
		for _, split := range sortedKeys(metadata.SplitMetadata) {
			b.fieldTags(metadata.SplitMetadata[split], resourceNode, cancelled, tags)
		}
		b.fieldTags(metadata.Metadata, resourceNode, cancelled, tags)
	}

	if userFieldMetadata != nil {
		for _, token := range userFieldMetadata.Tokens {
			if token.CancelledByUser {
				continue
			}
			tags.add(FacetEntity, token.Klass+"/"+token.Token)
			b.relations = append(b.relations, core.Relation{
				Kind: core.RelationEntity,
				From: resourceNode,
				To:   core.RelationNode{Value: token.Token, Type: core.NodeEntity, Subtype: token.Klass},
			})
		}

		paragraphs := b.paragraphs[fieldKey]
		for _, pa := range userFieldMetadata.Paragraphs {
			key := b.userParagraphKey(pa.Key)
			p, ok := paragraphs[key]
			if !ok {
				b.logger.Debug("annotation for unknown paragraph", "paragraph", key)
				continue
			}
			for _, c := range pa.Classifications {
				label := LabelTag(c.Labelset, c.Label)
				if !c.CancelledByUser && !slices.Contains(p.Labels, label) {
					p.Labels = append(p.Labels, label)
				}
			}
			paragraphs[key] = p
		}
	}

	info := b.texts[fieldKey]
	info.Labels = append(info.Labels, tags.flatten()...)
	b.texts[fieldKey] = info
}

// AddRelations appends resource relations.
func (b *Builder) AddRelations(relations ...core.Relation) {
	b.relations = append(b.relations, relations...)
}

// DeleteField drops every paragraph and sentence of a field.
func (b *Builder) DeleteField(fieldKey string) {
	b.paragraphsToDelete = append(b.paragraphsToDelete, b.key(fieldKey))
	b.sentencesToDelete = append(b.sentencesToDelete, b.key(fieldKey))
}

// MergeDeletes appends the paragraph, sentence and vector delete lists of
// other to b.
func (b *Builder) MergeDeletes(other *Builder) {
	if other == nil || other == b {
		return
	}
	b.paragraphsToDelete = append(b.paragraphsToDelete, other.paragraphsToDelete...)
	b.sentencesToDelete = append(b.sentencesToDelete, other.sentencesToDelete...)
	for vs, ids := range other.vectorsToDelete {
		b.vectorsToDelete[vs] = append(b.vectorsToDelete[vs], ids...)
	}
}

// ProcessKeywordsetField adds per-field and global keyword labels.
func (b *Builder) ProcessKeywordsetField(fieldKey string, keywordset *core.KeywordsetField) {
	if keywordset == nil {
		return
	}
	for _, kw := range keywordset.Keywords {
		b.tags.add(FacetField, fieldKey+"/"+kw.Value)
		b.tags.add(FacetFieldGroup, kw.Value)
	}
}

// Labels returns the flattened resource labels accumulated so far.
func (b *Builder) Labels() []string {
	return b.tags.flatten()
}

// Build returns the index message. The message shares no memory with the
// builder, so later builder calls do not change it.
func (b *Builder) Build() *core.IndexMessage {
	msg := &core.IndexMessage{
		ResourceID:         b.rid,
		Status:             b.status,
		Labels:             b.tags.flatten(),
		Texts:              make(map[string]core.TextInfo, len(b.texts)),
		Paragraphs:         make(map[string]map[string]core.IndexParagraph, len(b.paragraphs)),
		Relations:          slices.Clone(b.relations),
		Created:            b.created,
		Modified:           b.modified,
		ParagraphsToDelete: slices.Clone(b.paragraphsToDelete),
		SentencesToDelete:  slices.Clone(b.sentencesToDelete),
		VectorsToDelete:    make(map[string][]string, len(b.vectorsToDelete)),
		UserVectors:        make(map[string]map[string]core.UserVector, len(b.userVectors)),
	}
	if b.security != nil {
		msg.Security = &core.Security{AccessGroups: slices.Clone(b.security.AccessGroups)}
	}
	for k, info := range b.texts {
		msg.Texts[k] = core.TextInfo{Text: info.Text, Labels: slices.Clone(info.Labels)}
	}
	for field, paragraphs := range b.paragraphs {
		out := make(map[string]core.IndexParagraph, len(paragraphs))
		for k, p := range paragraphs {
			out[k] = cloneParagraph(p)
		}
		msg.Paragraphs[field] = out
	}
	for vs, ids := range b.vectorsToDelete {
		msg.VectorsToDelete[vs] = slices.Clone(ids)
	}
	for vs, vectors := range b.userVectors {
		out := make(map[string]core.UserVector, len(vectors))
		for k, uv := range vectors {
			uv.Vector = slices.Clone(uv.Vector)
			uv.Labels = slices.Clone(uv.Labels)
			out[k] = uv
		}
		msg.UserVectors[vs] = out
	}
	return msg
}

func cloneParagraph(p core.IndexParagraph) core.IndexParagraph {
	p.Labels = slices.Clone(p.Labels)
	p.Position = clonePosition(p.Position)
	if p.Sentences != nil {
		sentences := make(map[string]core.IndexSentence, len(p.Sentences))
		for k, s := range p.Sentences {
			s.Vector = slices.Clone(s.Vector)
			s.Position = clonePosition(s.Position)
			sentences[k] = s
		}
		p.Sentences = sentences
	}
	return p
}

func clonePosition(p core.Position) core.Position {
	p.StartSeconds = slices.Clone(p.StartSeconds)
	p.EndSeconds = slices.Clone(p.EndSeconds)
	return p
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	return slices.Sorted(maps.Keys(m))
}

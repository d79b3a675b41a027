package core

import "time"

// CloudFile points at an object in the blob store.
type CloudFile struct {
	URI         string `yaml:"uri"`
	Size        int64  `yaml:"size"`
	ContentType string `yaml:"content_type"`
}

// ExtractedText is the text extracted from a field, optionally split.
type ExtractedText struct {
	Text          string            `yaml:"text"`
	SplitText     map[string]string `yaml:"split_text"`
	DeletedSplits []string          `yaml:"deleted_splits"`
}

// Paragraph is a processed paragraph range inside a field's text.
type Paragraph struct {
	Start           int              `yaml:"start"`
	End             int              `yaml:"end"`
	StartSeconds    []int            `yaml:"start_seconds"`
	EndSeconds      []int            `yaml:"end_seconds"`
	Classifications []Classification `yaml:"classifications"`
}

// Range returns "start-end".
func (p Paragraph) Range() string {
	return rangeKey(p.Start, p.End)
}

// EntityPosition is one occurrence of an entity in a field's text.
type EntityPosition struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// FieldMetadata is the metadata computed for a field or for one of its splits.
type FieldMetadata struct {
	Paragraphs      []Paragraph                 `yaml:"paragraphs"`
	Classifications []Classification            `yaml:"classifications"`
	Relations       []Relation                  `yaml:"relations"`
	Positions       map[string][]EntityPosition `yaml:"positions"`
	Language        string                      `yaml:"language"`
	Summary         string                      `yaml:"summary"`
	Thumbnail       string                      `yaml:"thumbnail"`
	MimeType        string                      `yaml:"mime_type"`
	LastIndex       time.Time                   `yaml:"last_index"`
}

// IsEmpty reports whether no metadata was computed.
func (m *FieldMetadata) IsEmpty() bool {
	return len(m.Paragraphs) == 0 &&
		len(m.Classifications) == 0 &&
		len(m.Relations) == 0 &&
		len(m.Positions) == 0 &&
		m.Language == "" &&
		m.Summary == "" &&
		m.Thumbnail == "" &&
		m.MimeType == ""
}

// FieldComputedMetadata is the split-aware computed metadata of a field.
type FieldComputedMetadata struct {
	Metadata      FieldMetadata            `yaml:"metadata"`
	SplitMetadata map[string]FieldMetadata `yaml:"split_metadata"`
	DeletedSplits []string                 `yaml:"deleted_splits"`
}

// Vector is a sentence embedding anchored to a paragraph.
type Vector struct {
	Start          int       `yaml:"start"`
	End            int       `yaml:"end"`
	StartParagraph int       `yaml:"start_paragraph"`
	EndParagraph   int       `yaml:"end_paragraph"`
	Vector         []float32 `yaml:"vector"`
}

// Vectors is an ordered list of sentence vectors.
type Vectors struct {
	Vectors []Vector `yaml:"vectors"`
}

// VectorObject is the split-aware set of sentence vectors of a field.
type VectorObject struct {
	Vectors       Vectors            `yaml:"vectors"`
	SplitVectors  map[string]Vectors `yaml:"split_vectors"`
	DeletedSplits []string           `yaml:"deleted_splits"`
}

// LargeMetadata holds bulky computed data that is only stored, never indexed.
type LargeMetadata struct {
	Tokens map[string]int `yaml:"tokens"`
}

// IsEmpty reports whether no large metadata was computed.
func (m *LargeMetadata) IsEmpty() bool {
	return len(m.Tokens) == 0
}

// LargeComputedMetadata is the split-aware large metadata of a field.
type LargeComputedMetadata struct {
	Metadata      LargeMetadata            `yaml:"metadata"`
	SplitMetadata map[string]LargeMetadata `yaml:"split_metadata"`
	DeletedSplits []string                 `yaml:"deleted_splits"`
}

// UserVector is a vector supplied by a user for a field range.
type UserVector struct {
	Vector []float32 `yaml:"vector"`
	Labels []string  `yaml:"labels"`
	Start  int       `yaml:"start"`
	End    int       `yaml:"end"`
}

// UserVectorSet maps vectorset -> vector id -> vector.
type UserVectorSet struct {
	Vectors map[string]map[string]UserVector `yaml:"vectors"`
}

// QuestionAnswer is one generated question with its answers.
type QuestionAnswer struct {
	Question string   `yaml:"question"`
	Answers  []string `yaml:"answers"`
}

// QuestionAnswers is the Q&A artifact of a field.
type QuestionAnswers struct {
	QuestionAnswers []QuestionAnswer `yaml:"question_answers"`
}

// PagePosition is the character range of one page of a file.
type PagePosition struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// FileExtractedData is what processing extracted from a file field.
type FileExtractedData struct {
	Field         string         `yaml:"field"`
	Icon          string         `yaml:"icon"`
	Thumbnail     string         `yaml:"thumbnail"`
	Language      string         `yaml:"language"`
	MD5           string         `yaml:"md5"`
	PagePositions []PagePosition `yaml:"page_positions"`
}

// LinkExtractedData is what processing extracted from a link field.
type LinkExtractedData struct {
	Field       string `yaml:"field"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Thumbnail   string `yaml:"thumbnail"`
	Language    string `yaml:"language"`
}

// ExtractedTextWrapper carries extracted text inline or as a blob pointer.
type ExtractedTextWrapper struct {
	Field FieldID        `yaml:"field"`
	Body  *ExtractedText `yaml:"body"`
	File  *CloudFile     `yaml:"file"`
}

// ExtractedVectorsWrapper carries vectors inline or as a blob pointer.
type ExtractedVectorsWrapper struct {
	Field   FieldID       `yaml:"field"`
	Vectors *VectorObject `yaml:"vectors"`
	File    *CloudFile    `yaml:"file"`
}

// FieldComputedMetadataWrapper carries computed metadata for a field.
type FieldComputedMetadataWrapper struct {
	Field    FieldID                `yaml:"field"`
	Metadata *FieldComputedMetadata `yaml:"metadata"`
	File     *CloudFile             `yaml:"file"`
}

// LargeComputedMetadataWrapper carries large metadata inline or as a blob pointer.
type LargeComputedMetadataWrapper struct {
	Field FieldID                `yaml:"field"`
	Real  *LargeComputedMetadata `yaml:"real"`
	File  *CloudFile             `yaml:"file"`
}

// UserVectorsWrapper carries user vectors and the ids to drop per vectorset.
type UserVectorsWrapper struct {
	Field           FieldID             `yaml:"field"`
	Vectors         *UserVectorSet      `yaml:"vectors"`
	VectorsToDelete map[string][]string `yaml:"vectors_to_delete"`
}

// QuestionAnswersWrapper carries a Q&A artifact inline or as a blob pointer.
type QuestionAnswersWrapper struct {
	Field           FieldID          `yaml:"field"`
	QuestionAnswers *QuestionAnswers `yaml:"question_answers"`
	File            *CloudFile       `yaml:"file"`
}

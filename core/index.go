package core

import (
	"strconv"
	"time"
)

func rangeKey(start, end int) string {
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}

// RangeKey formats a character range as "start-end".
func RangeKey(start, end int) string {
	return rangeKey(start, end)
}

// Position locates a paragraph or sentence inside a field.
type Position struct {
	Index        int
	Start        int
	End          int
	PageNumber   int
	StartSeconds []int
	EndSeconds   []int
}

// IndexSentence is a sentence vector attached to a paragraph.
type IndexSentence struct {
	Vector   []float32
	Position Position
}

// IndexParagraph is a paragraph as seen by the search index.
type IndexParagraph struct {
	Start           int
	End             int
	Index           int
	Field           string
	Split           string
	Labels          []string
	RepeatedInField bool
	Position        Position
	Sentences       map[string]IndexSentence
}

// TextInfo is the global text of a field and its field-level labels.
type TextInfo struct {
	Text   string
	Labels []string
}

// IndexMessage is the denormalized representation of one resource that is
// submitted to a shard. Consumers must apply the *ToDelete lists before the
// paragraph and sentence entries.
type IndexMessage struct {
	ResourceID string
	Shard      string
	Status     Status
	Labels     []string
	Texts      map[string]TextInfo
	Paragraphs map[string]map[string]IndexParagraph
	Relations  []Relation
	Created    time.Time
	Modified   time.Time
	Security   *Security

	ParagraphsToDelete []string
	SentencesToDelete  []string
	VectorsToDelete    map[string][]string
	UserVectors        map[string]map[string]UserVector
}

// ParagraphCount returns the number of paragraphs across all fields.
func (m *IndexMessage) ParagraphCount() int {
	n := 0
	for _, paragraphs := range m.Paragraphs {
		n += len(paragraphs)
	}
	return n
}

package core

import "time"

// FieldValue is the user-supplied payload of a field.
// The set of implementations is closed; see the Field* types below.
type FieldValue interface {
	FieldType() FieldType
}

// TextField is a plain or formatted text field.
type TextField struct {
	Body   string `yaml:"body"`
	Format string `yaml:"format"`
}

func (*TextField) FieldType() FieldType { return FieldText }

// FileField references an uploaded file.
type FileField struct {
	File     CloudFile `yaml:"file"`
	Filename string    `yaml:"filename"`
	Language string    `yaml:"language"`
}

func (*FileField) FieldType() FieldType { return FieldFile }

// LinkField references an external URL.
type LinkField struct {
	URI      string `yaml:"uri"`
	Language string `yaml:"language"`
}

func (*LinkField) FieldType() FieldType { return FieldLink }

// LayoutBlock is one block of a layout field.
type LayoutBlock struct {
	Text string `yaml:"text"`
	X    int    `yaml:"x"`
	Y    int    `yaml:"y"`
}

// LayoutField is a positioned set of text blocks.
type LayoutField struct {
	Blocks map[string]LayoutBlock `yaml:"blocks"`
}

func (*LayoutField) FieldType() FieldType { return FieldLayout }

// ConversationMessage is a single message of a conversation field.
type ConversationMessage struct {
	Ident     string    `yaml:"ident"`
	Who       string    `yaml:"who"`
	Text      string    `yaml:"text"`
	Timestamp time.Time `yaml:"timestamp"`
}

// ConversationField is an ordered list of messages.
type ConversationField struct {
	Messages []ConversationMessage `yaml:"messages"`
}

func (*ConversationField) FieldType() FieldType { return FieldConversation }

// Keyword is one entry of a keywordset.
type Keyword struct {
	Value string `yaml:"value"`
}

// KeywordsetField is a set of keywords.
type KeywordsetField struct {
	Keywords []Keyword `yaml:"keywords"`
}

func (*KeywordsetField) FieldType() FieldType { return FieldKeywordset }

// DatetimeField is a single timestamp.
type DatetimeField struct {
	Value time.Time `yaml:"value"`
}

func (*DatetimeField) FieldType() FieldType { return FieldDatetime }

// GenericField is a resource-global field such as the title or summary.
type GenericField struct {
	Value string `yaml:"value"`
}

func (*GenericField) FieldType() FieldType { return FieldGeneric }

// GenericFieldIDs are the resource-global fields every resource carries.
var GenericFieldIDs = []string{"title", "summary"}

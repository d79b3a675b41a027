// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"strings"
)

// MessageType is the transactional kind of a broker message.
type MessageType int

const (
	MessageAutocommit MessageType = iota
	MessageMulti
	MessageCommit
	MessageRollback
	MessageDelete
)

var messageTypeNames = []string{"AUTOCOMMIT", "MULTI", "COMMIT", "ROLLBACK", "DELETE"}

func (t MessageType) String() string {
	if int(t) >= 0 && int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// MarshalText encodes the type by name.
func (t MessageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes the type from its name.
func (t *MessageType) UnmarshalText(text []byte) error {
	for i, name := range messageTypeNames {
		if strings.EqualFold(name, string(text)) {
			*t = MessageType(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown message type %q", ErrInvalidBrokerMessage, string(text))
}

// MessageSource identifies who produced a broker message.
type MessageSource int

const (
	SourceWriter MessageSource = iota
	SourceProcessor
)

func (s MessageSource) String() string {
	if s == SourceProcessor {
		return "PROCESSOR"
	}
	return "WRITER"
}

// MarshalText encodes the source by name.
func (s MessageSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes the source from its name.
func (s *MessageSource) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "WRITER":
		*s = SourceWriter
	case "PROCESSOR":
		*s = SourceProcessor
	default:
		return fmt.Errorf("%w: unknown message source %q", ErrInvalidBrokerMessage, string(text))
	}
	return nil
}

// BrokerMessage is the unit of change applied to a resource.
type BrokerMessage struct {
	Type    MessageType   `yaml:"type"`
	Source  MessageSource `yaml:"source"`
	KBID    string        `yaml:"kbid"`
	UUID    string        `yaml:"uuid"`
	Slug    string        `yaml:"slug"`
	MultiID string        `yaml:"multiid"`
	Reindex bool          `yaml:"reindex"`

	Basic    *Basic    `yaml:"basic"`
	Origin   *Origin   `yaml:"origin"`
	Extra    *Extra    `yaml:"extra"`
	Security *Security `yaml:"security"`

	Texts         map[string]*TextField         `yaml:"texts"`
	Files         map[string]*FileField         `yaml:"files"`
	Links         map[string]*LinkField         `yaml:"links"`
	Layouts       map[string]*LayoutField       `yaml:"layouts"`
	Conversations map[string]*ConversationField `yaml:"conversations"`
	Keywordsets   map[string]*KeywordsetField   `yaml:"keywordsets"`
	Datetimes     map[string]*DatetimeField     `yaml:"datetimes"`
	DeleteFields  []FieldID                     `yaml:"delete_fields"`

	ExtractedText      []ExtractedTextWrapper         `yaml:"extracted_text"`
	FieldMetadata      []FieldComputedMetadataWrapper `yaml:"field_metadata"`
	FieldVectors       []ExtractedVectorsWrapper      `yaml:"field_vectors"`
	FieldLargeMetadata []LargeComputedMetadataWrapper `yaml:"field_large_metadata"`
	UserVectors        []UserVectorsWrapper           `yaml:"user_vectors"`
	QuestionAnswers    []QuestionAnswersWrapper       `yaml:"question_answers"`
	FileExtractedData  []FileExtractedData            `yaml:"file_extracted_data"`
	LinkExtractedData  []LinkExtractedData            `yaml:"link_extracted_data"`
	Relations          []Relation                     `yaml:"relations"`
	Errors             []FieldError                   `yaml:"errors"`
}

// NotificationAction is the outcome reported by a notification.
type NotificationAction int

const (
	ActionCommit NotificationAction = iota
	ActionAbort
)

func (a NotificationAction) String() string {
	if a == ActionAbort {
		return "ABORT"
	}
	return "COMMIT"
}

// WriteType describes what a committed write did to the resource.
type WriteType int

const (
	WriteUnset WriteType = iota
	WriteCreated
	WriteModified
	WriteDeleted
)

func (w WriteType) String() string {
	switch w {
	case WriteCreated:
		return "CREATED"
	case WriteModified:
		return "MODIFIED"
	case WriteDeleted:
		return "DELETED"
	}
	return "UNSET"
}

// Notification is published after every commit or abort.
type Notification struct {
	Partition        string
	SeqID            int64
	Multi            string
	UUID             string
	KBID             string
	Action           NotificationAction
	WriteType        WriteType
	Source           MessageSource
	Message          *BrokerMessage
	ProcessingErrors bool
}

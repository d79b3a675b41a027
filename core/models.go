package core

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ContentDigest returns a short deterministic BLAKE2b digest of data.
// Identical payloads always produce identical digests.
func ContentDigest(data []byte) string {
	h, _ := blake2b.New(16, nil) // 16 bytes = 128 bits
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FieldType identifies the kind of a resource field.
// The underlying byte is the single-letter code used in keys and field ids.
type FieldType byte

const (
	FieldLayout       FieldType = 'l'
	FieldText         FieldType = 't'
	FieldFile         FieldType = 'f'
	FieldLink         FieldType = 'u'
	FieldDatetime     FieldType = 'd'
	FieldKeywordset   FieldType = 'k'
	FieldGeneric      FieldType = 'a'
	FieldConversation FieldType = 'c'
)

// FieldTypes lists every supported field type.
var FieldTypes = []FieldType{
	FieldLayout, FieldText, FieldFile, FieldLink,
	FieldDatetime, FieldKeywordset, FieldGeneric, FieldConversation,
}

// ParseFieldType converts a single-letter code into a FieldType.
func ParseFieldType(code string) (FieldType, error) {
	if len(code) == 1 {
		ft := FieldType(code[0])
		if ft.Valid() {
			return ft, nil
		}
	}
	return 0, ErrInvalidFieldType
}

// Valid reports whether ft is one of the known field types.
func (ft FieldType) Valid() bool {
	switch ft {
	case FieldLayout, FieldText, FieldFile, FieldLink,
		FieldDatetime, FieldKeywordset, FieldGeneric, FieldConversation:
		return true
	}
	return false
}

// SplitCapable reports whether artifacts of this field type are partitioned into splits.
func (ft FieldType) SplitCapable() bool {
	return ft == FieldLayout || ft == FieldConversation
}

// String returns the single-letter code.
func (ft FieldType) String() string {
	return string(rune(ft))
}

// MarshalText implements encoding.TextMarshaler so field types serialize as letters.
func (ft FieldType) MarshalText() ([]byte, error) {
	return []byte{byte(ft)}, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ft *FieldType) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*ft = parsed
	return nil
}

// FieldID identifies a field within a resource.
type FieldID struct {
	Type  FieldType `yaml:"type"`
	Field string    `yaml:"field"`
}

// Key returns the "{type}/{field}" form used by the index.
func (f FieldID) Key() string {
	return f.Type.String() + "/" + f.Field
}

// ParseFieldID is the inverse of FieldID.Key.
func ParseFieldID(key string) (FieldID, error) {
	code, field, ok := strings.Cut(key, "/")
	if !ok || field == "" {
		return FieldID{}, fmt.Errorf("%w: %q", ErrEmptyFieldID, key)
	}
	ft, err := ParseFieldType(code)
	if err != nil {
		return FieldID{}, err
	}
	return FieldID{Type: ft, Field: field}, nil
}

// Status is the processing status of a resource.
type Status int

const (
	StatusPending Status = iota
	StatusProcessed
	StatusError
	StatusBlocked
	StatusExpired
)

var statusNames = map[Status]string{
	StatusPending:   "PENDING",
	StatusProcessed: "PROCESSED",
	StatusError:     "ERROR",
	StatusBlocked:   "BLOCKED",
	StatusExpired:   "EXPIRED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Metadata is the processing metadata attached to a resource.
type Metadata struct {
	Status    Status   `yaml:"status"`
	Useful    bool     `yaml:"useful"`
	Language  string   `yaml:"language"`
	Languages []string `yaml:"languages"`
}

// Classification is a label assigned by processing or by a user.
type Classification struct {
	Labelset        string `yaml:"labelset"`
	Label           string `yaml:"label"`
	CancelledByUser bool   `yaml:"cancelled_by_user"`
}

// Flat returns "labelset/label".
func (c Classification) Flat() string {
	return c.Labelset + "/" + c.Label
}

// UserMetadata holds resource-level user annotations.
type UserMetadata struct {
	Classifications []Classification `yaml:"classifications"`
	Relations       []Relation       `yaml:"relations"`
}

// TokenAnnotation is an entity annotated by a user inside a field.
type TokenAnnotation struct {
	Token           string `yaml:"token"`
	Klass           string `yaml:"klass"`
	Start           int    `yaml:"start"`
	End             int    `yaml:"end"`
	CancelledByUser bool   `yaml:"cancelled_by_user"`
}

// ParagraphAnnotation holds user classifications for one paragraph id.
type ParagraphAnnotation struct {
	Key             string           `yaml:"key"`
	Classifications []Classification `yaml:"classifications"`
}

// UserFieldMetadata holds user annotations for a single field.
type UserFieldMetadata struct {
	Field      FieldID               `yaml:"field"`
	Tokens     []TokenAnnotation     `yaml:"tokens"`
	Paragraphs []ParagraphAnnotation `yaml:"paragraphs"`
}

// Basic is the resource-level descriptive record.
type Basic struct {
	Title         string              `yaml:"title"`
	Summary       string              `yaml:"summary"`
	Icon          string              `yaml:"icon"`
	Thumbnail     string              `yaml:"thumbnail"`
	Slug          string              `yaml:"slug"`
	Created       time.Time           `yaml:"created"`
	Modified      time.Time           `yaml:"modified"`
	Metadata      Metadata            `yaml:"metadata"`
	UserMetadata  *UserMetadata       `yaml:"usermetadata"`
	FieldMetadata []UserFieldMetadata `yaml:"fieldmetadata"`
}

// MergeFrom merges other into b. Non-zero scalar values in other overwrite,
// zero values leave b untouched. User metadata is replaced wholesale when present
// and field metadata keeps only the last entry per field.
func (b *Basic) MergeFrom(other *Basic) {
	if other == nil {
		return
	}
	if other.Title != "" {
		b.Title = other.Title
	}
	if other.Summary != "" {
		b.Summary = other.Summary
	}
	if other.Icon != "" {
		b.Icon = other.Icon
	}
	if other.Thumbnail != "" {
		b.Thumbnail = other.Thumbnail
	}
	if other.Slug != "" {
		b.Slug = other.Slug
	}
	if !other.Created.IsZero() {
		b.Created = other.Created
	}
	if !other.Modified.IsZero() {
		b.Modified = other.Modified
	}
	if other.Metadata.Status != StatusPending {
		b.Metadata.Status = other.Metadata.Status
	}
	if other.Metadata.Useful {
		b.Metadata.Useful = true
	}
	if other.Metadata.Language != "" {
		b.Metadata.Language = other.Metadata.Language
	}
	if len(other.Metadata.Languages) > 0 {
		b.Metadata.Languages = append([]string(nil), other.Metadata.Languages...)
	}
	if other.UserMetadata != nil {
		um := *other.UserMetadata
		b.UserMetadata = &um
	}
	if len(other.FieldMetadata) > 0 {
		merged := append(append([]UserFieldMetadata(nil), b.FieldMetadata...), other.FieldMetadata...)
		last := make(map[string]int, len(merged))
		order := make([]string, 0, len(merged))
		for i, fm := range merged {
			key := fm.Field.Key()
			if _, seen := last[key]; !seen {
				order = append(order, key)
			}
			last[key] = i
		}
		b.FieldMetadata = make([]UserFieldMetadata, 0, len(order))
		for _, key := range order {
			b.FieldMetadata = append(b.FieldMetadata, merged[last[key]])
		}
	}
}

// UserFieldMetadataFor returns the user annotations for a field, or nil.
func (b *Basic) UserFieldMetadataFor(field FieldID) *UserFieldMetadata {
	if b == nil {
		return nil
	}
	for i := range b.FieldMetadata {
		if b.FieldMetadata[i].Field == field {
			return &b.FieldMetadata[i]
		}
	}
	return nil
}

// Origin describes where a resource came from.
type Origin struct {
	SourceID      string            `yaml:"source_id"`
	URL           string            `yaml:"url"`
	Path          string            `yaml:"path"`
	Tags          []string          `yaml:"tags"`
	Collaborators []string          `yaml:"collaborators"`
	Related       []string          `yaml:"related"`
	Metadata      map[string]string `yaml:"metadata"`
}

// Extra carries opaque user metadata.
type Extra struct {
	Metadata map[string]any `yaml:"metadata"`
}

// Security lists the access groups allowed to read a resource.
type Security struct {
	AccessGroups []string `yaml:"access_groups"`
}

// RelationKind is the type of edge between two relation nodes.
type RelationKind int

const (
	RelationChild RelationKind = iota
	RelationAbout
	RelationEntity
	RelationColab
	RelationSynonym
	RelationOther
)

// NodeType is the type of a relation node.
type NodeType int

const (
	NodeResource NodeType = iota
	NodeLabel
	NodeEntity
	NodeUser
)

// RelationNode is one end of a relation.
type RelationNode struct {
	Value   string   `yaml:"value"`
	Type    NodeType `yaml:"type"`
	Subtype string   `yaml:"subtype"`
}

// Relation is a directed edge between two nodes.
type Relation struct {
	Kind  RelationKind `yaml:"kind"`
	From  RelationNode `yaml:"from"`
	To    RelationNode `yaml:"to"`
	Label string       `yaml:"label"`
}

// Severity grades a field error.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// FieldError is a processing error reported for a single field.
type FieldError struct {
	Field    FieldID  `yaml:"field"`
	Error    string   `yaml:"error"`
	Code     int      `yaml:"code"`
	Severity Severity `yaml:"severity"`
}

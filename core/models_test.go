package core

import (
	"testing"
	"time"
)

func TestContentDigest(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "simple content", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer piece of content that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d1 := ContentDigest([]byte(tt.content))
			d2 := ContentDigest([]byte(tt.content))

			if d1 != d2 {
				t.Errorf("ContentDigest() produced different digests for same content: %s vs %s", d1, d2)
			}
			if len(d1) != 32 {
				t.Errorf("ContentDigest() length = %d, want 32", len(d1))
			}
		})
	}
}

func TestContentDigest_Different(t *testing.T) {
	if ContentDigest([]byte("content1")) == ContentDigest([]byte("content2")) {
		t.Errorf("ContentDigest() produced same digest for different content")
	}
}

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		code    string
		want    FieldType
		wantErr bool
	}{
		{code: "t", want: FieldText},
		{code: "l", want: FieldLayout},
		{code: "c", want: FieldConversation},
		{code: "u", want: FieldLink},
		{code: "x", wantErr: true},
		{code: "", wantErr: true},
		{code: "tt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := ParseFieldType(tt.code)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFieldType(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseFieldType(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestFieldType_SplitCapable(t *testing.T) {
	for _, ft := range FieldTypes {
		want := ft == FieldLayout || ft == FieldConversation
		if ft.SplitCapable() != want {
			t.Errorf("%s.SplitCapable() = %v, want %v", ft, ft.SplitCapable(), want)
		}
	}
}

func TestFieldID_Key(t *testing.T) {
	id := FieldID{Type: FieldText, Field: "body"}
	if id.Key() != "t/body" {
		t.Errorf("Key() = %q, want %q", id.Key(), "t/body")
	}
}

func TestParseFieldID(t *testing.T) {
	id, err := ParseFieldID("c/chat/with/slash")
	if err != nil {
		t.Fatalf("ParseFieldID() error = %v", err)
	}
	if id.Type != FieldConversation || id.Field != "chat/with/slash" {
		t.Errorf("ParseFieldID() = %+v", id)
	}
	for _, bad := range []string{"", "t", "t/", "x/body"} {
		if _, err := ParseFieldID(bad); err == nil {
			t.Errorf("ParseFieldID(%q) expected error", bad)
		}
	}
}

func TestBasic_MergeFrom(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &Basic{
		Title:   "original",
		Summary: "keep me",
		Created: created,
		FieldMetadata: []UserFieldMetadata{
			{Field: FieldID{Type: FieldText, Field: "a"}, Tokens: []TokenAnnotation{{Token: "old"}}},
		},
	}

	b.MergeFrom(&Basic{
		Title:        "updated",
		Metadata:     Metadata{Status: StatusProcessed, Useful: true},
		UserMetadata: &UserMetadata{Classifications: []Classification{{Labelset: "ls", Label: "x"}}},
		FieldMetadata: []UserFieldMetadata{
			{Field: FieldID{Type: FieldText, Field: "a"}, Tokens: []TokenAnnotation{{Token: "new"}}},
			{Field: FieldID{Type: FieldText, Field: "b"}},
		},
	})

	if b.Title != "updated" {
		t.Errorf("Title = %q, want updated", b.Title)
	}
	if b.Summary != "keep me" {
		t.Errorf("Summary = %q, zero values must not overwrite", b.Summary)
	}
	if !b.Created.Equal(created) {
		t.Errorf("Created changed to %v", b.Created)
	}
	if b.Metadata.Status != StatusProcessed || !b.Metadata.Useful {
		t.Errorf("Metadata = %+v, want processed and useful", b.Metadata)
	}
	if b.UserMetadata == nil || len(b.UserMetadata.Classifications) != 1 {
		t.Fatalf("UserMetadata not replaced: %+v", b.UserMetadata)
	}
	if len(b.FieldMetadata) != 2 {
		t.Fatalf("FieldMetadata len = %d, want 2", len(b.FieldMetadata))
	}
	if b.FieldMetadata[0].Tokens[0].Token != "new" {
		t.Errorf("FieldMetadata kept stale entry: %+v", b.FieldMetadata[0])
	}
}

func TestStatus_String(t *testing.T) {
	if StatusProcessed.String() != "PROCESSED" {
		t.Errorf("StatusProcessed.String() = %q", StatusProcessed.String())
	}
	if Status(42).String() != "UNKNOWN" {
		t.Errorf("Status(42).String() = %q", Status(42).String())
	}
}

package brain

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/poiesic/kbingest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestBuilder() *Builder {
	return New("rid", WithLogger(quietLogger()))
}

func TestApplyFieldMetadata_ParagraphKeys(t *testing.T) {
	b := newTestBuilder()
	meta := &core.FieldComputedMetadata{
		Metadata: core.FieldMetadata{
			Paragraphs: []core.Paragraph{{Start: 0, End: 5}, {Start: 6, End: 10}},
		},
		SplitMetadata: map[string]core.FieldMetadata{
			"m1": {Paragraphs: []core.Paragraph{{Start: 0, End: 3}}},
		},
	}

	b.ApplyFieldMetadata("c/chat", meta, nil, nil, nil, nil, nil)
	msg := b.Build()

	paragraphs := msg.Paragraphs["c/chat"]
	require.Len(t, paragraphs, 3)
	assert.Contains(t, paragraphs, "rid/c/chat/0-5")
	assert.Contains(t, paragraphs, "rid/c/chat/6-10")
	require.Contains(t, paragraphs, "rid/c/chat/m1/0-3")

	split := paragraphs["rid/c/chat/m1/0-3"]
	assert.Equal(t, "m1", split.Split)
	assert.Equal(t, "c/chat", split.Field)
	assert.Equal(t, 1, paragraphs["rid/c/chat/6-10"].Index)
	assert.Equal(t, 3, msg.ParagraphCount())
}

func TestApplyFieldMetadata_RepeatedParagraphs(t *testing.T) {
	tests := []struct {
		name     string
		text     *core.ExtractedText
		paras    []core.Paragraph
		repeated []bool
	}{
		{
			name:     "identical text repeats once",
			text:     &core.ExtractedText{Text: "hello hello"},
			paras:    []core.Paragraph{{Start: 0, End: 5}, {Start: 6, End: 11}},
			repeated: []bool{false, true},
		},
		{
			name:     "empty text never repeats",
			text:     &core.ExtractedText{Text: "abc"},
			paras:    []core.Paragraph{{Start: 3, End: 3}, {Start: 5, End: 9}},
			repeated: []bool{false, false},
		},
		{
			name:     "missing extracted text",
			text:     nil,
			paras:    []core.Paragraph{{Start: 0, End: 5}, {Start: 0, End: 5}},
			repeated: []bool{false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder()
			meta := &core.FieldComputedMetadata{Metadata: core.FieldMetadata{Paragraphs: tt.paras}}
			b.ApplyFieldMetadata("t/body", meta, nil, nil, nil, tt.text, nil)
			msg := b.Build()

			count := 0
			for i, want := range tt.repeated {
				key := "rid/t/body/" + tt.paras[i].Range()
				got := msg.Paragraphs["t/body"][key]
				assert.Equal(t, want, got.RepeatedInField, key)
				if got.RepeatedInField {
					count++
				}
			}
			assert.LessOrEqual(t, count, 1)
		})
	}
}

func TestApplyFieldMetadata_UserLabels(t *testing.T) {
	b := newTestBuilder()
	meta := &core.FieldComputedMetadata{
		Metadata: core.FieldMetadata{
			Paragraphs: []core.Paragraph{{
				Start: 0, End: 5,
				Classifications: []core.Classification{
					{Labelset: "topic", Label: "a"},
					{Labelset: "topic", Label: "b"},
				},
			}},
		},
	}
	user := &core.UserFieldMetadata{
		Field: core.FieldID{Type: core.FieldText, Field: "body"},
		Paragraphs: []core.ParagraphAnnotation{{
			Key: "other/t/body/0-5",
			Classifications: []core.Classification{
				{Labelset: "topic", Label: "a", CancelledByUser: true},
				{Labelset: "topic", Label: "b"},
				{Labelset: "topic", Label: "c"},
			},
		}},
	}

	b.ApplyFieldMetadata("t/body", meta, nil, nil, nil, nil, user)
	p := b.Build().Paragraphs["t/body"]["rid/t/body/0-5"]
	assert.Equal(t, []string{"/l/topic/b", "/l/topic/c"}, p.Labels)
}

func TestApplyFieldMetadata_DeleteLists(t *testing.T) {
	b := newTestBuilder()
	b.ApplyFieldMetadata("l/layout", &core.FieldComputedMetadata{},
		[]string{"0-10"},
		map[string][]string{"s1": {"0-4", "5-9"}},
		nil, nil, nil)

	msg := b.Build()
	assert.Equal(t, []string{
		"rid/l/layout/s1/0-4",
		"rid/l/layout/s1/5-9",
		"rid/l/layout/0-10",
	}, msg.ParagraphsToDelete)
}

func TestApplyFieldMetadata_PageNumbers(t *testing.T) {
	b := newTestBuilder()
	meta := &core.FieldComputedMetadata{
		Metadata: core.FieldMetadata{
			Paragraphs: []core.Paragraph{{Start: 0, End: 10}, {Start: 120, End: 130}},
		},
	}
	pages := []core.PagePosition{{Start: 0, End: 99}, {Start: 100, End: 199}}

	b.ApplyFieldMetadata("f/doc", meta, nil, nil, pages, nil, nil)
	msg := b.Build()
	assert.Equal(t, 0, msg.Paragraphs["f/doc"]["rid/f/doc/0-10"].Position.PageNumber)
	assert.Equal(t, 1, msg.Paragraphs["f/doc"]["rid/f/doc/120-130"].Position.PageNumber)
}

func TestPageNumber(t *testing.T) {
	pages := []core.PagePosition{{Start: 0, End: 9}, {Start: 20, End: 29}, {Start: 30, End: 39}}
	tests := []struct {
		name  string
		start int
		want  int
	}{
		{"inside first", 5, 0},
		{"inside last", 35, 2},
		{"gap before second page", 15, 1},
		{"beyond last page", 100, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PageNumber(tt.start, pages, quietLogger()))
		})
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	PageNumber(15, pages, logger)
	assert.Contains(t, buf.String(), "wrong page start")
}

func testVectors() *core.VectorObject {
	return &core.VectorObject{
		Vectors: core.Vectors{Vectors: []core.Vector{
			{Start: 0, End: 3, StartParagraph: 0, EndParagraph: 5, Vector: []float32{1, 2}},
			{Start: 3, End: 5, StartParagraph: 0, EndParagraph: 5, Vector: []float32{3, 4}},
		}},
		SplitVectors: map[string]core.Vectors{
			"s1": {Vectors: []core.Vector{{Start: 0, End: 2, StartParagraph: 0, EndParagraph: 4, Vector: []float32{5}}}},
		},
	}
}

func TestApplyFieldVectors(t *testing.T) {
	b := newTestBuilder()
	meta := &core.FieldComputedMetadata{
		Metadata: core.FieldMetadata{Paragraphs: []core.Paragraph{{Start: 0, End: 5}}},
	}
	b.ApplyFieldMetadata("c/chat", meta, nil, nil, []core.PagePosition{{Start: 0, End: 50}}, nil, nil)
	b.ApplyFieldVectors("c/chat", testVectors(), true, []string{"s0"})

	msg := b.Build()
	p := msg.Paragraphs["c/chat"]["rid/c/chat/0-5"]
	require.Len(t, p.Sentences, 2)
	s := p.Sentences["rid/c/chat/1/3-5"]
	assert.Equal(t, []float32{3, 4}, s.Vector)
	assert.Equal(t, 3, s.Position.Start)
	assert.Equal(t, 5, s.Position.End)

	split := msg.Paragraphs["c/chat"]["rid/c/chat/s1/0-4"]
	assert.Contains(t, split.Sentences, "rid/c/chat/s1/0/0-2")

	assert.Equal(t, []string{"rid/c/chat/s0", "rid/c/chat"}, msg.SentencesToDelete)
}

func TestApplyFieldVectors_Idempotent(t *testing.T) {
	once := newTestBuilder()
	once.ApplyFieldVectors("t/body", testVectors(), false, nil)

	twice := newTestBuilder()
	twice.ApplyFieldVectors("t/body", testVectors(), false, nil)
	twice.ApplyFieldVectors("t/body", testVectors(), false, nil)

	assert.Equal(t, once.Build().Paragraphs, twice.Build().Paragraphs)
}

func TestDeleteMetadataAndVectors(t *testing.T) {
	b := newTestBuilder()
	b.DeleteMetadata("c/chat", &core.FieldComputedMetadata{
		Metadata:      core.FieldMetadata{Paragraphs: []core.Paragraph{{Start: 0, End: 5}}},
		SplitMetadata: map[string]core.FieldMetadata{"s1": {Paragraphs: []core.Paragraph{{Start: 0, End: 4}}}},
	})
	b.DeleteVectors("c/chat", testVectors())
	b.DeleteMetadata("c/chat", nil)
	b.DeleteVectors("c/chat", nil)

	msg := b.Build()
	assert.Equal(t, []string{"rid/c/chat/s1/0-4", "rid/c/chat/0-5"}, msg.ParagraphsToDelete)
	assert.Equal(t, []string{
		"rid/c/chat/s1/0/0-2",
		"rid/c/chat/0/0-3",
		"rid/c/chat/1/3-5",
	}, msg.SentencesToDelete)
}

func TestMergeDeletes(t *testing.T) {
	incremental := newTestBuilder()
	incremental.DeleteField("t/body")
	incremental.DeleteVectors("t/body", testVectors())
	incremental.ApplyUserVectors("u/notes", nil, map[string][]string{"vs1": {"v1"}})
	incremental.ApplyFieldText("t/title", "ignored")

	regenerated := newTestBuilder()
	regenerated.ApplyFieldText("t/title", "Title")
	regenerated.DeleteField("t/title")
	regenerated.MergeDeletes(incremental)
	regenerated.MergeDeletes(nil)
	regenerated.MergeDeletes(regenerated)

	msg := regenerated.Build()
	assert.Equal(t, []string{"rid/t/title", "rid/t/body"}, msg.ParagraphsToDelete)
	assert.Equal(t, []string{
		"rid/t/title",
		"rid/t/body",
		"rid/t/body/s1/0/0-2",
		"rid/t/body/0/0-3",
		"rid/t/body/1/3-5",
	}, msg.SentencesToDelete)
	assert.Equal(t, map[string][]string{"vs1": {"rid/u/notes/v1"}}, msg.VectorsToDelete)
	assert.Equal(t, "Title", msg.Texts["t/title"].Text)
}

func TestApplyUserVectors(t *testing.T) {
	b := newTestBuilder()
	set := &core.UserVectorSet{Vectors: map[string]map[string]core.UserVector{
		"vs1": {"v1": {Vector: []float32{1}, Start: 0, End: 4}},
	}}
	b.ApplyUserVectors("t/body", set, map[string][]string{"vs1": {"old"}})

	msg := b.Build()
	assert.Contains(t, msg.UserVectors["vs1"], "rid/t/body/v1/0-4")
	assert.Equal(t, []string{"rid/t/body/old"}, msg.VectorsToDelete["vs1"])
}

func TestSetProcessingStatus(t *testing.T) {
	pending, errStatus := core.StatusPending, core.StatusError
	tests := []struct {
		name     string
		current  core.Status
		previous *core.Status
		want     core.Status
	}{
		{"new pending", core.StatusPending, nil, core.StatusPending},
		{"new processed", core.StatusProcessed, nil, core.StatusProcessed},
		{"new error", core.StatusError, nil, core.StatusProcessed},
		{"was pending now processed", core.StatusProcessed, &pending, core.StatusProcessed},
		{"was pending still pending", core.StatusPending, &pending, core.StatusPending},
		{"pinned once processed", core.StatusPending, &errStatus, core.StatusProcessed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder()
			b.SetProcessingStatus(&core.Basic{Metadata: core.Metadata{Status: tt.current}}, tt.previous)
			assert.Equal(t, tt.want, b.Build().Status)
		})
	}
}

func TestSetGlobalTags(t *testing.T) {
	b := newTestBuilder()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	basic := &core.Basic{
		Icon:    "text/plain",
		Created: created,
		Metadata: core.Metadata{
			Status:    core.StatusProcessed,
			Useful:    true,
			Language:  "en",
			Languages: []string{"en", "ca"},
		},
		UserMetadata: &core.UserMetadata{
			Classifications: []core.Classification{
				{Labelset: "topic", Label: "go"},
				{Labelset: "topic", Label: "py", CancelledByUser: true},
			},
		},
	}
	origin := &core.Origin{
		SourceID:      "web",
		Tags:          []string{"x"},
		Collaborators: []string{"ann"},
		Related:       []string{"other"},
		Path:          "/docs/a",
		Metadata:      map[string]string{"k": "v"},
	}

	b.SetGlobalTags(basic, "rid", origin)
	msg := b.Build()

	assert.Equal(t, []string{
		"/t/x",
		"/l/topic/go",
		"/n/i/text/plain",
		"/n/s/PROCESSED",
		"/s/p/en",
		"/s/s/en",
		"/s/s/ca",
		"/u/s/web",
		"/u/o/ann",
		"/o/web",
		"/p/docs/a",
		"/m/k/v",
	}, msg.Labels)
	assert.Equal(t, created, msg.Created)

	kinds := map[core.RelationKind]int{}
	for _, r := range msg.Relations {
		kinds[r.Kind]++
	}
	assert.Equal(t, 1, kinds[core.RelationColab])
	assert.Equal(t, 1, kinds[core.RelationChild])
	assert.Equal(t, 1, kinds[core.RelationAbout])
}

func TestSetGlobalTags_EmptyStatus(t *testing.T) {
	b := newTestBuilder()
	b.SetGlobalTags(&core.Basic{Metadata: core.Metadata{Status: core.StatusProcessed}}, "rid", nil)
	assert.Contains(t, b.Labels(), "/n/s/EMPTY")
}

func TestApplyFieldTagsGlobally(t *testing.T) {
	b := newTestBuilder()
	meta := &core.FieldComputedMetadata{
		Metadata: core.FieldMetadata{
			Paragraphs: []core.Paragraph{{Start: 0, End: 5}},
			Classifications: []core.Classification{
				{Labelset: "topic", Label: "keep"},
				{Labelset: "topic", Label: "drop"},
			},
			Positions: map[string][]core.EntityPosition{
				"PERSON/Ada": {{Start: 0, End: 3}},
				"no-class":   {{Start: 4, End: 5}},
			},
		},
	}
	b.ApplyFieldMetadata("t/body", meta, nil, nil, nil, nil, nil)

	userMeta := &core.UserMetadata{Classifications: []core.Classification{
		{Labelset: "topic", Label: "drop", CancelledByUser: true},
	}}
	userField := &core.UserFieldMetadata{
		Tokens: []core.TokenAnnotation{
			{Token: "Go", Klass: "LANG"},
			{Token: "Rust", Klass: "LANG", CancelledByUser: true},
		},
		Paragraphs: []core.ParagraphAnnotation{
			{Key: "x/t/body/0-5", Classifications: []core.Classification{{Labelset: "u", Label: "v"}}},
			{Key: "x/t/body/99-100", Classifications: []core.Classification{{Labelset: "u", Label: "w"}}},
		},
	}

	b.ApplyFieldTagsGlobally("t/body", meta, "rid", userMeta, userField)
	b.ApplyFieldTagsGlobally("t/body", nil, "rid", nil, userField)
	msg := b.Build()

	labels := msg.Texts["t/body"].Labels
	assert.Contains(t, labels, "/l/topic/keep")
	assert.NotContains(t, labels, "/l/topic/drop")
	assert.Contains(t, labels, "/e/PERSON/Ada")
	assert.Contains(t, labels, "/e/LANG/Go")
	assert.NotContains(t, labels, "/e/LANG/Rust")

	assert.Equal(t, []string{"/l/u/v"}, msg.Paragraphs["t/body"]["rid/t/body/0-5"].Labels)
	assert.NotContains(t, msg.Paragraphs["t/body"], "rid/t/body/99-100")

	var entity *core.Relation
	for i := range msg.Relations {
		if msg.Relations[i].Kind == core.RelationEntity && msg.Relations[i].To.Value == "Ada" {
			entity = &msg.Relations[i]
		}
	}
	require.NotNil(t, entity)
	assert.Equal(t, "PERSON", entity.To.Subtype)
}

func TestProcessKeywordsetField(t *testing.T) {
	b := newTestBuilder()
	b.ProcessKeywordsetField("k/kw", &core.KeywordsetField{Keywords: []core.Keyword{{Value: "a"}, {Value: "b"}}})
	b.ProcessKeywordsetField("k/none", nil)

	assert.Equal(t, []string{"/f/k/kw/a", "/f/k/kw/b", "/fg/a", "/fg/b"}, b.Build().Labels)
}

func TestBuild_DoesNotAlias(t *testing.T) {
	b := newTestBuilder()
	b.ApplyFieldText("t/body", "hello")
	b.SetSecurity(&core.Security{AccessGroups: []string{"g1"}})
	first := b.Build()

	b.ApplyFieldText("t/body", "changed")
	first.Security.AccessGroups[0] = "mutated"
	second := b.Build()

	assert.Equal(t, "hello", first.Texts["t/body"].Text)
	assert.Equal(t, "changed", second.Texts["t/body"].Text)
	assert.Equal(t, []string{"g1"}, second.Security.AccessGroups)
}

package index

import (
	"context"
	"testing"

	"github.com/poiesic/kbingest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesKey(t *testing.T) {
	tests := []struct {
		key, prefix string
		want        bool
	}{
		{"r1/t/body/0-5", "r1/t/body", true},
		{"r1/t/body/0-5", "r1/t/body/0-5", true},
		{"r1/t/bodyx/0-5", "r1/t/body", false},
		{"r1", "r1/t", false},
		{"r10/t/body", "r1", false},
	}
	for _, tt := range tests {
		t.Run(tt.key+"~"+tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesKey(tt.key, tt.prefix))
		})
	}
}

func TestKeyPrefixes(t *testing.T) {
	assert.Equal(t, []string{"r1", "r1/t", "r1/t/body", "r1/t/body/0-5"}, KeyPrefixes("r1/t/body/0-5"))
	assert.Equal(t, []string{"r1"}, KeyPrefixes("r1"))
}

func sampleMessage() *core.IndexMessage {
	return &core.IndexMessage{
		ResourceID: "r1",
		Paragraphs: map[string]map[string]core.IndexParagraph{
			"t/body": {
				"r1/t/body/0-5": {
					Start: 0, End: 5, Field: "t/body",
					Sentences: map[string]core.IndexSentence{
						"r1/t/body/0/0-5": {Vector: []float32{1, 0}},
					},
				},
				"r1/t/body/6-10": {Start: 6, End: 10, Field: "t/body"},
			},
			"t/bodyx": {
				"r1/t/bodyx/0-5": {Start: 0, End: 5, Field: "t/bodyx"},
			},
		},
		UserVectors: map[string]map[string]core.UserVector{
			"vs": {"r1/t/body/v1/0-5": {Vector: []float32{1}}},
		},
	}
}

func TestMemoryWriter_UnknownShard(t *testing.T) {
	w := NewMemoryWriter()
	err := w.Index(context.Background(), "nope", sampleMessage(), Txid{})
	assert.ErrorIs(t, err, ErrShardNotFound)
	_, err = w.ParagraphCount(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrShardNotFound)
}

func TestMemoryWriter_IndexAndDelete(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWriter()
	require.NoError(t, w.CreateShard(ctx, "s1"))
	require.NoError(t, w.CreateShard(ctx, "s1"))

	require.NoError(t, w.Index(ctx, "s1", sampleMessage(), Txid{SeqID: 1, KBID: "kb1"}))
	count, err := w.ParagraphCount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []string{"r1/t/body/0/0-5"}, w.Sentences("s1"))

	update := &core.IndexMessage{
		ResourceID:         "r1",
		ParagraphsToDelete: []string{"r1/t/body"},
		VectorsToDelete:    map[string][]string{"vs": {"r1/t/body/v1"}},
	}
	require.NoError(t, w.Index(ctx, "s1", update, Txid{SeqID: 2, KBID: "kb1"}))

	assert.ElementsMatch(t, []string{"r1/t/bodyx/0-5"}, w.Paragraphs("s1"))
	assert.Empty(t, w.Sentences("s1"))
	last, ok := w.LastTxid("s1")
	require.True(t, ok)
	assert.Equal(t, int64(2), last.SeqID)
}

func TestMemoryWriter_DeletesBeforeUpserts(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWriter()
	require.NoError(t, w.CreateShard(ctx, "s1"))
	require.NoError(t, w.Index(ctx, "s1", sampleMessage(), Txid{SeqID: 1}))

	msg := sampleMessage()
	msg.ParagraphsToDelete = []string{"r1/t/body"}
	require.NoError(t, w.Index(ctx, "s1", msg, Txid{SeqID: 2}))

	count, err := w.ParagraphCount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Len(t, w.Sentences("s1"), 1)
}

func TestMemoryWriter_DeleteResource(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWriter()
	require.NoError(t, w.CreateShard(ctx, "s1"))
	require.NoError(t, w.Index(ctx, "s1", sampleMessage(), Txid{SeqID: 1}))

	other := &core.IndexMessage{
		ResourceID: "r10",
		Paragraphs: map[string]map[string]core.IndexParagraph{
			"t/body": {"r10/t/body/0-5": {Start: 0, End: 5}},
		},
	}
	require.NoError(t, w.Index(ctx, "s1", other, Txid{SeqID: 2}))

	require.NoError(t, w.DeleteResource(ctx, "s1", "r1", Txid{SeqID: 3}))
	assert.Equal(t, []string{"r10/t/body/0-5"}, w.Paragraphs("s1"))
	assert.Nil(t, w.Resource("s1", "r1"))
	assert.NotNil(t, w.Resource("s1", "r10"))
}

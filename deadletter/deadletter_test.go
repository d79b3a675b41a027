package deadletter

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/kbingest/blob"
	blobbadger "github.com/poiesic/kbingest/blob/badger"
	"github.com/poiesic/kbingest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobSink(t *testing.T) {
	ctx := context.Background()
	store, err := blobbadger.Open("", true)
	require.NoError(t, err)
	defer store.Close()

	msg := &core.BrokerMessage{KBID: "kb1", UUID: "r1", Slug: "doc"}
	sink := NewBlobSink(store, nil)
	require.NoError(t, sink.Deadletter(ctx, msg, 0, 42, "p1"))

	data, err := store.Download(ctx, blob.DeadletterKey("p1", 42, 0))
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "doc", got.Slug)
}

func TestBlobSink_NoStore(t *testing.T) {
	sink := NewBlobSink(nil, nil)
	assert.NoError(t, sink.Deadletter(context.Background(), &core.BrokerMessage{}, 0, 1, "p"))
}

type recordingSink struct {
	calls int
	err   error
}

func (s *recordingSink) Deadletter(context.Context, *core.BrokerMessage, int, int64, string) error {
	s.calls++
	return s.err
}

func TestTee(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("disk full")}
	tee := Tee{bad, ok}

	err := tee.Deadletter(context.Background(), &core.BrokerMessage{}, 0, 1, "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, bad.calls)

	assert.NoError(t, Tee{ok}.Deadletter(context.Background(), &core.BrokerMessage{}, 0, 1, "p"))
}

package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/kbingest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewMemory()

	a, cancelA := bus.Subscribe("notify.kb1")
	b, cancelB := bus.Subscribe("notify.kb1")
	other, cancelOther := bus.Subscribe("notify.kb2")
	defer cancelB()
	defer cancelOther()

	require.NoError(t, bus.Publish(ctx, "notify.kb1", []byte("hello")))
	assert.Equal(t, []byte("hello"), <-a)
	assert.Equal(t, []byte("hello"), <-b)
	assert.Empty(t, other)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	require.NoError(t, bus.Publish(ctx, "notify.kb1", []byte("again")))
	assert.Equal(t, []byte("again"), <-b)
}

func TestMemory_FullBufferDrops(t *testing.T) {
	ctx := context.Background()
	bus := NewMemory()
	_, cancel := bus.Subscribe("c")
	defer cancel()

	for range subscriberBuffer + 3 {
		require.NoError(t, bus.Publish(ctx, "c", []byte("x")))
	}
	assert.Equal(t, 3, bus.Dropped())
}

func TestEncodeDecode(t *testing.T) {
	in := &core.Notification{
		Partition: "p1",
		SeqID:     4,
		UUID:      "r1",
		KBID:      "kb1",
		Action:    core.ActionCommit,
		WriteType: core.WriteCreated,
		Source:    core.SourceProcessor,
	}
	data, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Decode([]byte{0xc1})
	assert.Error(t, err)
}

type failingPubSub struct{ PubSub }

func (failingPubSub) Publish(context.Context, string, []byte) error {
	return errors.New("down")
}

func TestNotifier(t *testing.T) {
	ctx := context.Background()
	bus := NewMemory()
	stream, cancel := bus.Subscribe(Channel("kb1"))
	defer cancel()

	NewNotifier(bus, nil).Notify(ctx, &core.Notification{KBID: "kb1", Action: core.ActionAbort})
	n, err := Decode(<-stream)
	require.NoError(t, err)
	assert.Equal(t, core.ActionAbort, n.Action)

	assert.NotPanics(t, func() {
		NewNotifier(failingPubSub{}, nil).Notify(ctx, &core.Notification{KBID: "kb1"})
		NewNotifier(nil, nil).Notify(ctx, &core.Notification{KBID: "kb1"})
		var nilNotifier *Notifier
		nilNotifier.Notify(ctx, &core.Notification{})
	})
}

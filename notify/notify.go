// Package notify publishes processing outcomes to subscribers.
//
// Every processed broker message ends in exactly one notification, COMMIT or
// ABORT, published on the channel of its knowledge box ("notify.{kbid}").
// Payloads are msgpack-encoded core.Notification values.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbingest/core"
	"github.com/vmihailenco/msgpack/v5"
)

// PubSub is a fire-and-forget message bus.
type PubSub interface {
	// Publish sends payload to every current subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a stream of payloads published on channel.
	// cancel stops delivery and closes the stream.
	Subscribe(channel string) (stream <-chan []byte, cancel func())
}

// Channel returns the channel a knowledge box's notifications go to.
func Channel(kbid string) string {
	return "notify." + kbid
}

// Encode serializes a notification.
func Encode(n *core.Notification) ([]byte, error) {
	data, err := msgpack.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return data, nil
}

// Decode deserializes a notification.
func Decode(data []byte) (*core.Notification, error) {
	var n core.Notification
	if err := msgpack.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	return &n, nil
}

// Notifier publishes notifications best-effort: failures are logged and
// never returned.
type Notifier struct {
	pubsub PubSub
	logger *slog.Logger
}

// NewNotifier wraps pubsub. A nil pubsub discards every notification.
func NewNotifier(pubsub PubSub, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pubsub: pubsub, logger: logger}
}

// Notify publishes n on its knowledge box channel.
func (n *Notifier) Notify(ctx context.Context, notification *core.Notification) {
	if n == nil || n.pubsub == nil {
		return
	}
	data, err := Encode(notification)
	if err != nil {
		n.logger.Warn("failed to encode notification", "kbid", notification.KBID, "error", err)
		return
	}
	if err := n.pubsub.Publish(ctx, Channel(notification.KBID), data); err != nil {
		n.logger.Warn("failed to publish notification",
			"kbid", notification.KBID,
			"uuid", notification.UUID,
			"action", notification.Action.String(),
			"error", err)
	}
}

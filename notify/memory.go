package notify

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

type subscriber struct {
	ch     chan []byte
	closed bool
}

// Memory is an in-process PubSub. Slow subscribers lose messages once their
// buffer is full; Publish never blocks.
type Memory struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	dropped int
}

var _ PubSub = (*Memory)(nil)

// NewMemory returns an empty bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*subscriber]struct{})}
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs[channel] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case sub.ch <- msg:
		default:
			m.dropped++
		}
	}
	return nil
}

func (m *Memory) Subscribe(channel string) (<-chan []byte, func()) {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	m.mu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*subscriber]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	m.mu.Unlock()

	return sub.ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(m.subs[channel], sub)
		if len(m.subs[channel]) == 0 {
			delete(m.subs, channel)
		}
		close(sub.ch)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (m *Memory) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

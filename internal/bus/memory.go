// internal/bus/memory.go
package bus

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrClosed is returned when publishing to a closed bus
var ErrClosed = errors.New("bus closed")

type memorySub struct {
	channels []string
	out      chan Message
}

// Memory is an in-process Bus used when no NATS server is configured and in tests.
// Delivery is non-blocking; a subscriber whose buffer is full misses the message.
type Memory struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[*memorySub]struct{})}
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	for sub := range m.subs {
		if !slices.Contains(sub.channels, channel) {
			continue
		}
		select {
		case sub.out <- Message{Channel: channel, Payload: slices.Clone(payload)}:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{channels: slices.Clone(channels), out: make(chan Message, subscriptionBuffer)}
	m.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[sub]; ok {
			delete(m.subs, sub)
			close(sub.out)
		}
	}()

	return sub.out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for sub := range m.subs {
		close(sub.out)
		delete(m.subs, sub)
	}
	return nil
}

package events

import (
	"sync"
)

// Bus is a lightweight topic pub/sub built on Broadcast.
type Bus struct {
	mu     sync.Mutex
	topics map[Event]*Broadcast[any]
	pubMu  sync.Mutex
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[Event]*Broadcast[any])}
}

func (b *Bus) topic(e Event) *Broadcast[any] {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[e]
	if !ok {
		t = NewBroadcast[any]()
		b.topics[e] = t
	}
	return t
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	sub := b.topic(e).Subscribe(buffer)
	return sub.C, sub.Close
}

// Publish fans the payload out without blocking; slow listeners lose their oldest events.
func (b *Bus) Publish(e Event, payload any) {
	t := b.topic(e)
	b.pubMu.Lock()
	t.Publish(payload)
	b.pubMu.Unlock()
}

// Close closes every listener channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		t.Close()
	}
}

package events

import (
	"sync"
	"sync/atomic"
)

// Broadcast fans every published value out to all subscribers. A subscriber
// whose buffer is full loses its oldest unread value; Publish never blocks.
type Broadcast[T any] struct {
	mu     sync.RWMutex
	subs   []*subscriber[T]
	closed bool
}

type subscriber[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// Subscription is one receiver of a Broadcast.
type Subscription[T any] struct {
	C     <-chan T
	sub   *subscriber[T]
	close func()
}

// Dropped reports how many values this subscriber lost to backlog.
func (s *Subscription[T]) Dropped() uint64 { return s.sub.dropped.Load() }

// Close detaches the subscriber and closes C.
func (s *Subscription[T]) Close() { s.close() }

func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{}
}

// Subscribe registers a receiver holding up to backlog unread values.
func (b *Broadcast[T]) Subscribe(backlog int) *Subscription[T] {
	if backlog <= 0 {
		backlog = 1
	}
	sub := &subscriber[T]{ch: make(chan T, backlog)}

	b.mu.Lock()
	if b.closed {
		close(sub.ch)
	} else {
		b.subs = append(b.subs, sub)
	}
	b.mu.Unlock()

	var once sync.Once
	return &Subscription[T]{
		C:   sub.ch,
		sub: sub,
		close: func() {
			once.Do(func() { b.remove(sub) })
		},
	}
}

func (b *Broadcast[T]) remove(sub *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			close(s.ch)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every subscriber, evicting the oldest value of any
// subscriber that is full. Publish must not be called concurrently with itself.
func (b *Broadcast[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		for {
			select {
			case s.ch <- v:
			default:
				select {
				case <-s.ch:
					s.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Len returns the number of live subscribers.
func (b *Broadcast[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscribers get a closed channel.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}

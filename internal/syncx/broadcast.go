package syncx

import "sync"

// Broadcaster fans values out to subscribers without blocking the publisher.
// A subscriber whose buffer is full misses the value.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]chan T
	next   uint64
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscriptions buffer n values.
func NewBroadcaster[T any](n int) *Broadcaster[T] {
	if n < 1 {
		n = 1
	}
	return &Broadcaster[T]{subs: make(map[uint64]chan T), buffer: n}
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes
// the channel; calling it more than once is safe.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers v to every subscriber with room and returns how many
// subscribers were skipped.
func (b *Broadcaster[T]) Publish(v T) (dropped int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// Len returns the number of subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later subscribers get a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

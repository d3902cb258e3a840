// Package pubsub provides a typed fan-out broker and an observable value cell.
//
// Subscribers receive values on buffered channels. A subscriber that falls
// behind loses its oldest undelivered values rather than blocking publishers;
// consumers that care about the latest state should re-read it from the owning
// component after receiving.
package pubsub

import "sync"

// DefaultBuffer is the per-subscriber channel capacity used by NewBroker(0).
const DefaultBuffer = 16

// Broker fans published values out to every current subscriber.
type Broker[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
	buffer int
	closed bool
}

// NewBroker creates a broker whose subscriber channels hold buffer values.
func NewBroker[T any](buffer int) *Broker[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker[T]{subs: map[int]chan T{}, buffer: buffer}
}

// Subscribe registers a new subscriber. The returned cancel func unsubscribes
// and closes the channel; it is safe to call more than once.
func (b *Broker[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broker[T]) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers v to every subscriber without blocking.
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// Drop the oldest value to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broker[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Later Subscribe calls return a closed channel.
func (b *Broker[T]) Close() {
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

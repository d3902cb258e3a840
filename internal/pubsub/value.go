package pubsub

import "sync"

// Value is an observable cell: a current value plus a broker announcing changes.
type Value[T comparable] struct {
	mu     sync.RWMutex
	v      T
	broker *Broker[T]
}

// NewValue creates a cell holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{v: initial, broker: NewBroker[T](0)}
}

// Get returns the current value.
func (c *Value[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

// Set stores v and publishes it when it differs from the current value.
// It returns the previous value.
func (c *Value[T]) Set(v T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.v
	if prev == v {
		return prev
	}
	c.v = v
	c.broker.Publish(v)
	return prev
}

// CompareAndSwap stores next only if the current value equals old.
func (c *Value[T]) CompareAndSwap(old, next T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.v != old {
		return false
	}
	if old != next {
		c.v = next
		c.broker.Publish(next)
	}
	return true
}

// Subscribe returns a channel of subsequent changes.
func (c *Value[T]) Subscribe() (<-chan T, func()) {
	return c.broker.Subscribe()
}

// Watch subscribes and returns the value current at subscription time, so a
// caller can check it without racing a concurrent Set.
func (c *Value[T]) Watch() (T, <-chan T, func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, cancel := c.broker.Subscribe()
	return c.v, ch, cancel
}

package pubsub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker[string](4)
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelC()

	b.Publish("one")
	assert.Equal(t, "one", <-a)
	assert.Equal(t, "one", <-c)

	cancelA()
	cancelA() // idempotent
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())

	b.Publish("two")
	assert.Equal(t, "two", <-c)
}

func TestBrokerDropsOldestWhenFull(t *testing.T) {
	b := NewBroker[int](2)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}
	assert.Equal(t, 4, <-ch)
	assert.Equal(t, 5, <-ch)
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker[int](0)
	ch, cancel := b.Subscribe()
	b.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()

	late, _ := b.Subscribe()
	_, open = <-late
	assert.False(t, open)
	b.Publish(1) // no panic after close
}

func TestValue(t *testing.T) {
	v := NewValue("UNKNOWN")
	current, ch, cancel := v.Watch()
	defer cancel()
	assert.Equal(t, "UNKNOWN", current)

	assert.Equal(t, "UNKNOWN", v.Set("OPEN"))
	assert.Equal(t, "OPEN", <-ch)
	assert.Equal(t, "OPEN", v.Set("OPEN"))
	assert.Len(t, ch, 0, "unchanged values are not published")

	assert.False(t, v.CompareAndSwap("UNKNOWN", "INITIALIZING"))
	assert.True(t, v.CompareAndSwap("OPEN", "UNKNOWN"))
	assert.Equal(t, "UNKNOWN", <-ch)
	assert.Equal(t, "UNKNOWN", v.Get())
}

func TestValueConcurrentSubscribers(t *testing.T) {
	v := NewValue(0)
	var wg sync.WaitGroup
	ready := make(chan struct{})
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		_, ch, cancel := v.Watch()
		go func(i int) {
			defer wg.Done()
			defer cancel()
			<-ready
			for got := range ch {
				if got == 3 {
					results[i] = got
					return
				}
			}
		}(i)
	}
	close(ready)
	for i := 1; i <= 3; i++ {
		v.Set(i)
	}
	wg.Wait()
	for _, r := range results {
		require.Equal(t, 3, r)
	}
}

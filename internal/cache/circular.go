package cache

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/cache"
)

// Ensure implementation satisfies interface at compile time.
var _ cache.Ring = (*CircularCache)(nil)

// CircularCache keeps the most recent messages that fit in maxBytes of payload.
// Push never blocks; the oldest messages are evicted to make room.
type CircularCache struct {
	mu       sync.Mutex
	ring     *queue.Queue
	bytes    uint64
	maxBytes uint64
	dropped  uint64
}

// NewCircularCache creates a ring holding up to maxBytes of payload.
func NewCircularCache(maxBytes uint64) *CircularCache {
	return &CircularCache{
		ring:     queue.New(),
		maxBytes: maxBytes,
	}
}

// Push adds msg, evicting the oldest messages until it fits.
// A message larger than the whole ring is dropped and Push returns false.
func (c *CircularCache) Push(msg *bag.Message) bool {
	size := msg.Size()

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.maxBytes {
		c.dropped++
		return false
	}

	for c.bytes+size > c.maxBytes && c.ring.Length() > 0 {
		evicted := c.ring.Remove().(*bag.Message)
		c.bytes -= evicted.Size()
		c.dropped++
	}

	c.ring.Add(msg)
	c.bytes += size
	return true
}

// DrainAll removes and returns all buffered messages in insertion order.
func (c *CircularCache) DrainAll() []*bag.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]*bag.Message, 0, c.ring.Length())
	for c.ring.Length() > 0 {
		msgs = append(msgs, c.ring.Remove().(*bag.Message))
	}
	c.bytes = 0
	return msgs
}

// Stats returns current ring statistics.
func (c *CircularCache) Stats() cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return cache.Stats{
		Messages: c.ring.Length(),
		Bytes:    c.bytes,
		Capacity: c.maxBytes,
		Dropped:  c.dropped,
	}
}

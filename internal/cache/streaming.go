package cache

import (
	"context"
	"sync"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/cache"
)

// Ensure implementation satisfies interface at compile time.
var _ cache.Buffer = (*StreamingCache)(nil)

// StreamingCache is a FIFO of pending messages bounded by payload bytes.
// Producers block in Push while the queue is full; a single Consumer takes
// the whole queue as one batch whenever it is woken.
//
// Queued bytes do not include the batch currently held by the consumer, so
// up to twice the capacity can be in memory while a batch is being written.
type StreamingCache struct {
	mu             sync.Mutex
	queue          []*bag.Message
	bytes          uint64
	maxBytes       uint64
	drainThreshold uint64

	// pushed and consumed count messages; flushTarget is the pushed count a
	// pending Flush is waiting on.
	pushed      uint64
	consumed    uint64
	flushTarget uint64
	waiters     int
	closed      bool

	// changed is closed and replaced on every state change.
	changed chan struct{}
}

// NewStreamingCache creates a streaming cache holding up to maxBytes of payload.
// The consumer is woken once queued bytes reach drainThreshold; 0 wakes it on any content.
func NewStreamingCache(maxBytes, drainThreshold uint64) *StreamingCache {
	if drainThreshold > maxBytes {
		drainThreshold = maxBytes
	}
	return &StreamingCache{
		maxBytes:       maxBytes,
		drainThreshold: drainThreshold,
		changed:        make(chan struct{}),
	}
}

// Push enqueues a message, blocking while the cache is full.
// A message larger than the capacity is admitted once the queue is empty.
func (c *StreamingCache) Push(ctx context.Context, msg *bag.Message) error {
	size := msg.Size()

	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return errors.ErrCacheClosed
		}
		if c.bytes == 0 || c.bytes+size <= c.maxBytes {
			break
		}

		c.waiters++
		c.broadcast()
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			c.mu.Lock()
			c.waiters--
			c.mu.Unlock()
			return ctx.Err()
		}

		c.mu.Lock()
		c.waiters--
	}

	c.queue = append(c.queue, msg)
	c.bytes += size
	c.pushed++
	c.broadcast()
	c.mu.Unlock()

	return nil
}

// Flush blocks until every message pushed before the call has been consumed.
func (c *StreamingCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	target := c.pushed
	if target > c.flushTarget {
		c.flushTarget = target
		c.broadcast()
	}

	for c.consumed < target {
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}

		c.mu.Lock()
	}
	c.mu.Unlock()

	return nil
}

// Stats returns current cache statistics.
func (c *StreamingCache) Stats() cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return cache.Stats{
		Messages: len(c.queue),
		Bytes:    c.bytes,
		Capacity: c.maxBytes,
	}
}

// Close stops accepting messages and wakes the consumer for its final drain.
func (c *StreamingCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.broadcast()
}

// next blocks until a batch should be consumed and removes the whole queue.
// It returns false once the cache is closed and empty.
func (c *StreamingCache) next() ([]*bag.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if len(c.queue) > 0 && c.shouldDrain() {
			batch := c.queue
			c.queue = nil
			c.bytes = 0
			c.broadcast()
			return batch, true
		}
		if c.closed && len(c.queue) == 0 {
			return nil, false
		}

		ch := c.changed
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
	}
}

// done records that n messages taken by next have been handed to storage.
func (c *StreamingCache) done(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consumed += uint64(n)
	c.broadcast()
}

func (c *StreamingCache) shouldDrain() bool {
	return c.bytes >= c.drainThreshold ||
		c.waiters > 0 ||
		c.flushTarget > c.consumed ||
		c.closed
}

// broadcast must be called with mu held.
func (c *StreamingCache) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

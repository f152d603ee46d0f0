// Package cache defines interfaces for message caching between the writer and storage.
//
// Caches decouple message ingestion from storage I/O. A Buffer is drained
// continuously by a background consumer; a Ring keeps only the most recent
// messages until it is drained explicitly.
package cache

import (
	"context"

	"github.com/jittakal/kafbag/pkg/bag"
)

// Stats is a point-in-time view of a cache.
type Stats struct {
	Messages int
	Bytes    uint64
	Capacity uint64
	// Dropped counts messages discarded without reaching storage.
	Dropped uint64
}

// Buffer is a bounded FIFO of pending messages.
// All implementations must be thread-safe.
type Buffer interface {
	// Push enqueues a message, blocking while the buffer is full.
	// Returns ctx.Err() if the context is done before space is available.
	Push(ctx context.Context, msg *bag.Message) error

	// Flush blocks until every message pushed before the call has been consumed.
	Flush(ctx context.Context) error

	// Stats returns current buffer statistics.
	Stats() Stats

	// Close stops accepting messages. Queued messages are still delivered.
	Close()
}

// Ring is a bounded circular buffer that evicts the oldest messages.
// All implementations must be thread-safe.
type Ring interface {
	// Push adds a message, evicting older messages until it fits.
	// Returns false if the message can never fit and was dropped.
	Push(msg *bag.Message) bool

	// DrainAll removes and returns all buffered messages in insertion order.
	DrainAll() []*bag.Message

	// Stats returns current ring statistics.
	Stats() Stats
}

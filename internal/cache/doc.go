// Package cache provides thread-safe message caching for the sequential writer.
//
// This package implements the two cache modes of a recording: a streaming
// FIFO drained continuously into storage, and a snapshot ring that keeps the
// most recent messages until it is drained explicitly.
//
// # StreamingCache and Consumer
//
// StreamingCache is bounded by payload bytes. Push blocks while the cache is
// full, so a slow storage backend slows producers instead of losing data:
//
//	c := cache.NewStreamingCache(maxBytes, 0)
//	consumer := cache.NewConsumer(c, func(batch []*bag.Message) error {
//	    return storage.WriteBatch(batch)
//	}, cache.WithErrorHandler(onError))
//	consumer.Start()
//
//	if err := c.Push(ctx, msg); err != nil {
//	    // ctx done or cache closed
//	}
//
//	// Wait until everything pushed so far reached storage.
//	_ = consumer.Flush(ctx)
//
//	// Stop accepting messages and wait for the final drain.
//	consumer.Close()
//
// The consumer takes the entire queue as one batch each time it wakes up.
// It wakes when queued bytes reach the drain threshold, when a producer is
// blocked, when a flush is pending, or when the cache is closed.
//
// # CircularCache
//
// CircularCache never blocks and never touches storage. The oldest messages
// are evicted to make room for new ones:
//
//	ring := cache.NewCircularCache(maxBytes)
//	ring.Push(msg)
//	batch := ring.DrainAll() // insertion order, ring is empty afterwards
//
// # Thread Safety
//
// All cache operations are guarded by a mutex. Blocking waits use a
// broadcast channel so that Push and Flush can also return on context
// cancellation.
package cache

package writer

import (
	"context"

	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/cache"
	"github.com/jittakal/kafbag/pkg/bag"
)

// Write modes reported in metrics.
const (
	modeDirect   = "direct"
	modeCached   = "cached"
	modeSnapshot = "snapshot"
)

// sink is the route a message takes from Write to storage.
// The variant is chosen once at Open and never switched.
type sink interface {
	write(ctx context.Context, msg *bag.Message) error
	// flush returns once every accepted message has reached storage.
	flush(ctx context.Context) error
	// stop drains what is pending and releases the sink.
	stop()
}

// directSink writes each message synchronously on the caller goroutine.
type directSink struct {
	w *SequentialWriter
}

func (s *directSink) write(ctx context.Context, msg *bag.Message) error {
	return s.w.writeDirect(msg)
}

func (s *directSink) flush(ctx context.Context) error { return nil }

func (s *directSink) stop() {}

// bufferedSink queues messages in a streaming cache drained by a consumer goroutine.
type bufferedSink struct {
	w        *SequentialWriter
	cache    *cache.StreamingCache
	consumer *cache.Consumer
}

func newBufferedSink(w *SequentialWriter, maxBytes uint64) *bufferedSink {
	threshold := w.drainThreshold
	if threshold > maxBytes {
		threshold = maxBytes
	}

	c := cache.NewStreamingCache(maxBytes, threshold)
	consumer := cache.NewConsumer(c, w.writeBatch,
		cache.WithErrorHandler(w.reportBackgroundError),
		cache.WithLogger(w.logger.Named("cache_consumer")),
	)
	consumer.Start()

	return &bufferedSink{w: w, cache: c, consumer: consumer}
}

func (s *bufferedSink) write(ctx context.Context, msg *bag.Message) error {
	if err := s.cache.Push(ctx, msg); err != nil {
		return err
	}
	if s.w.metrics != nil {
		stats := s.cache.Stats()
		s.w.metrics.SetCacheUsage(float64(stats.Bytes), float64(stats.Messages))
	}
	return nil
}

func (s *bufferedSink) flush(ctx context.Context) error {
	return s.consumer.Flush(ctx)
}

func (s *bufferedSink) stop() {
	s.consumer.Close()
	if s.w.metrics != nil {
		s.w.metrics.SetCacheUsage(0, 0)
	}
}

// snapshotSink keeps messages in a ring until a snapshot is taken.
type snapshotSink struct {
	w    *SequentialWriter
	ring *cache.CircularCache
}

func (s *snapshotSink) write(ctx context.Context, msg *bag.Message) error {
	before := s.ring.Stats().Dropped
	s.ring.Push(msg)

	if s.w.metrics != nil {
		stats := s.ring.Stats()
		if dropped := stats.Dropped - before; dropped > 0 {
			s.w.metrics.AddSnapshotDropped(float64(dropped))
		}
		s.w.metrics.SetCacheUsage(float64(stats.Bytes), float64(stats.Messages))
	}
	return nil
}

func (s *snapshotSink) flush(ctx context.Context) error { return nil }

func (s *snapshotSink) stop() {
	if discarded := s.ring.DrainAll(); len(discarded) > 0 {
		s.w.logger.Info("discarding snapshot buffer on close",
			zap.Int("messages", len(discarded)),
		)
	}
	if s.w.metrics != nil {
		s.w.metrics.SetCacheUsage(0, 0)
	}
}

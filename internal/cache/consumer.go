package cache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jittakal/kafbag/pkg/bag"
)

// ConsumeFunc writes one batch to storage.
type ConsumeFunc func(batch []*bag.Message) error

// Consumer drains a StreamingCache on a dedicated goroutine.
// Batch errors are reported to the error handler and never stop the loop.
type Consumer struct {
	cache   *StreamingCache
	consume ConsumeFunc
	onError func(error)
	logger  *zap.Logger

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithErrorHandler sets the callback receiving failed batch writes.
func WithErrorHandler(fn func(error)) ConsumerOption {
	return func(c *Consumer) {
		c.onError = fn
	}
}

// WithLogger sets the consumer logger.
func WithLogger(logger *zap.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer for cache. Call Start to begin draining.
func NewConsumer(cache *StreamingCache, consume ConsumeFunc, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		cache:   cache,
		consume: consume,
		onError: func(error) {},
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the drain goroutine.
func (c *Consumer) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Flush blocks until every message pushed before the call has been written or failed.
func (c *Consumer) Flush(ctx context.Context) error {
	return c.cache.Flush(ctx)
}

// Close closes the cache and waits for the final drain to finish.
func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		c.cache.Close()
		c.Start()
		<-c.done
	})
}

func (c *Consumer) run() {
	defer close(c.done)

	for {
		batch, ok := c.cache.next()
		if !ok {
			c.logger.Debug("cache consumer stopped")
			return
		}

		if err := c.safeConsume(batch); err != nil {
			c.logger.Error("failed to write cached batch",
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			c.onError(err)
		}
		c.cache.done(len(batch))
	}
}

func (c *Consumer) safeConsume(batch []*bag.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while writing batch: %v", r)
		}
	}()
	return c.consume(batch)
}

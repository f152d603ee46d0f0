package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	kerrors "github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
)

func newMessage(i int, size int) *bag.Message {
	return &bag.Message{
		TopicName:     "test_topic",
		Data:          make([]byte, size),
		RecvTimestamp: int64(i),
	}
}

func TestNewStreamingCache(t *testing.T) {
	c := NewStreamingCache(100, 500)

	if c == nil {
		t.Fatal("expected non-nil cache")
	}
	if c.maxBytes != 100 {
		t.Errorf("maxBytes = %d, want 100", c.maxBytes)
	}
	if c.drainThreshold != 100 {
		t.Errorf("drainThreshold = %d, want clamped to 100", c.drainThreshold)
	}
}

func TestStreamingCache_PushAccounting(t *testing.T) {
	c := NewStreamingCache(100, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.Push(ctx, newMessage(i, 10)); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	stats := c.Stats()
	if stats.Messages != 3 {
		t.Errorf("Messages = %d, want 3", stats.Messages)
	}
	if stats.Bytes != 30 {
		t.Errorf("Bytes = %d, want 30", stats.Bytes)
	}
	if stats.Capacity != 100 {
		t.Errorf("Capacity = %d, want 100", stats.Capacity)
	}
}

func TestStreamingCache_NextTakesWholeQueue(t *testing.T) {
	c := NewStreamingCache(100, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = c.Push(ctx, newMessage(i, 1))
	}

	batch, ok := c.next()
	if !ok {
		t.Fatal("next() returned false")
	}
	if len(batch) != 5 {
		t.Fatalf("batch size = %d, want 5", len(batch))
	}
	for i, msg := range batch {
		if msg.RecvTimestamp != int64(i) {
			t.Errorf("batch[%d] timestamp = %d, want %d", i, msg.RecvTimestamp, i)
		}
	}
	if stats := c.Stats(); stats.Messages != 0 || stats.Bytes != 0 {
		t.Errorf("stats after next = %+v, want empty", stats)
	}
}

func TestStreamingCache_PushBlocksWhenFull(t *testing.T) {
	c := NewStreamingCache(10, 10)
	ctx := context.Background()

	if err := c.Push(ctx, newMessage(0, 8)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- c.Push(ctx, newMessage(1, 8))
	}()

	select {
	case err := <-pushed:
		t.Fatalf("Push() returned %v before space was freed", err)
	case <-time.After(50 * time.Millisecond):
	}

	batch, ok := c.next()
	if !ok || len(batch) != 1 {
		t.Fatalf("next() = %d messages, %v", len(batch), ok)
	}
	c.done(len(batch))

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Push() did not unblock after drain")
	}
}

func TestStreamingCache_PushContextCancelled(t *testing.T) {
	c := NewStreamingCache(10, 10)
	_ = c.Push(context.Background(), newMessage(0, 10))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Push(ctx, newMessage(1, 1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Push() error = %v, want deadline exceeded", err)
	}

	c.mu.Lock()
	waiters := c.waiters
	c.mu.Unlock()
	if waiters != 0 {
		t.Errorf("waiters = %d after cancelled push, want 0", waiters)
	}
}

func TestStreamingCache_OversizedMessageAdmittedWhenEmpty(t *testing.T) {
	c := NewStreamingCache(10, 0)

	if err := c.Push(context.Background(), newMessage(0, 50)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if got := c.Stats().Bytes; got != 50 {
		t.Errorf("Bytes = %d, want 50", got)
	}
}

func TestStreamingCache_PushAfterClose(t *testing.T) {
	c := NewStreamingCache(10, 0)
	c.Close()
	c.Close()

	err := c.Push(context.Background(), newMessage(0, 1))
	if !errors.Is(err, kerrors.ErrCacheClosed) {
		t.Fatalf("Push() error = %v, want ErrCacheClosed", err)
	}
}

func TestStreamingCache_NextDrainsAfterClose(t *testing.T) {
	c := NewStreamingCache(100, 100)
	_ = c.Push(context.Background(), newMessage(0, 1))
	c.Close()

	batch, ok := c.next()
	if !ok || len(batch) != 1 {
		t.Fatalf("next() = %d messages, %v; want final drain", len(batch), ok)
	}
	c.done(len(batch))

	if _, ok := c.next(); ok {
		t.Fatal("next() should report closed and empty")
	}
}

func TestStreamingCache_FlushWaitsForConsumption(t *testing.T) {
	c := NewStreamingCache(100, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = c.Push(ctx, newMessage(i, 1))
	}

	flushed := make(chan error, 1)
	go func() {
		flushed <- c.Flush(ctx)
	}()

	batch, ok := c.next()
	if !ok || len(batch) != 3 {
		t.Fatalf("next() = %d messages, %v; flush should force a drain below threshold", len(batch), ok)
	}

	select {
	case <-flushed:
		t.Fatal("Flush() returned before batch was done")
	case <-time.After(20 * time.Millisecond):
	}

	c.done(len(batch))

	select {
	case err := <-flushed:
		if err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Flush() did not return")
	}
}

func TestStreamingCache_FlushEmpty(t *testing.T) {
	c := NewStreamingCache(100, 0)

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestStreamingCache_FlushContextCancelled(t *testing.T) {
	c := NewStreamingCache(100, 0)
	_ = c.Push(context.Background(), newMessage(0, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := c.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flush() error = %v, want deadline exceeded", err)
	}
}

func BenchmarkStreamingCache_Push(b *testing.B) {
	c := NewStreamingCache(1<<30, 1<<30)
	ctx := context.Background()
	msgs := make([]*bag.Message, 1024)
	for i := range msgs {
		msgs[i] = &bag.Message{TopicName: fmt.Sprintf("t%d", i%8), Data: make([]byte, 64)}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Push(ctx, msgs[i%len(msgs)])
		if i%len(msgs) == len(msgs)-1 {
			batch, _ := c.next()
			c.done(len(batch))
		}
	}
}

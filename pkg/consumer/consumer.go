// Package consumer defines interfaces for Kafka record consumption.
//
// This package provides abstractions for consuming records from Kafka
// and managing consumer lifecycle.
package consumer

import (
	"context"
	"time"
)

// KafkaMetadata contains Kafka-specific metadata for a record.
type KafkaMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ConsumedRecord is a raw record read from Kafka.
type ConsumedRecord struct {
	Value      []byte
	Metadata   KafkaMetadata
	ReceivedAt time.Time
	CommitFunc func() error
}

// Consumer reads records from Kafka topics.
type Consumer interface {
	// Subscribe subscribes to one or more topics.
	Subscribe(ctx context.Context, topics []string) error

	// Consume starts consuming messages from subscribed topics.
	// Returns channels for records and errors.
	Consume(ctx context.Context) (<-chan *ConsumedRecord, <-chan error, error)

	// Close closes the consumer and releases resources.
	Close() error
}

// DLQPublisher publishes records that could not be recorded to a dead letter queue.
type DLQPublisher interface {
	// Publish sends a record to the DLQ with error information.
	Publish(ctx context.Context, record *ConsumedRecord, reason string) error

	// Close closes the publisher and releases resources.
	Close() error
}

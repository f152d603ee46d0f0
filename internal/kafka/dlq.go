package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/consumer"
)

// Ensure implementation satisfies interface at compile time.
var _ consumer.DLQPublisher = (*DLQPublisher)(nil)

// DLQRecord is the envelope published to the dead letter queue.
type DLQRecord struct {
	OriginalValue     []byte            `json:"original_value"`
	OriginalKey       []byte            `json:"original_key,omitempty"`
	OriginalHeaders   map[string]string `json:"original_headers,omitempty"`
	OriginalTopic     string            `json:"original_topic"`
	OriginalPartition int32             `json:"original_partition"`
	OriginalOffset    int64             `json:"original_offset"`
	FailureReason     string            `json:"failure_reason"`
	FailureTimestamp  time.Time         `json:"failure_timestamp"`
	ProcessorID       string            `json:"processor_id"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
}

// TopicFor returns the DLQ topic of a source topic.
func (c DLQConfig) TopicFor(topic string) string {
	return topic + c.TopicSuffix
}

// DLQPublisher publishes records that could not be recorded to a dead letter queue.
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	logger      *zap.Logger
	mu          sync.RWMutex
	closed      bool
	processorID string
}

// NewDLQPublisher creates a new DLQ publisher. A disabled publisher drops
// every record without connecting to the brokers.
func NewDLQPublisher(
	bootstrapServers []string,
	security SecurityConfig,
	dlqConfig DLQConfig,
	logger *zap.Logger,
	processorID string,
) (*DLQPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !dlqConfig.Enabled {
		logger.Info("DLQ is disabled")
		return newDLQPublisher(nil, dlqConfig, logger, processorID), nil
	}
	if dlqConfig.TopicSuffix == "" {
		return nil, fmt.Errorf("dlq topic suffix is required when the DLQ is enabled")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	if err := configureSecurity(saramaConfig, security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		zap.Strings("bootstrap_servers", bootstrapServers),
		zap.String("topic_suffix", dlqConfig.TopicSuffix),
	)

	return newDLQPublisher(producer, dlqConfig, logger, processorID), nil
}

func newDLQPublisher(producer sarama.SyncProducer, config DLQConfig, logger *zap.Logger, processorID string) *DLQPublisher {
	return &DLQPublisher{
		producer:    producer,
		config:      config,
		logger:      logger,
		processorID: processorID,
	}
}

// Publish publishes a record that failed to be recorded.
func (p *DLQPublisher) Publish(ctx context.Context, record *consumer.ConsumedRecord, reason string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrConsumerClosed
	}
	if !p.config.Enabled || p.producer == nil {
		p.logger.Debug("DLQ disabled, skipping publish",
			zap.String("topic", record.Metadata.Topic),
			zap.Int64("offset", record.Metadata.Offset),
		)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dlqTopic := p.config.TopicFor(record.Metadata.Topic)
	now := time.Now().UTC()

	dlqData, err := json.Marshal(DLQRecord{
		OriginalValue:     record.Value,
		OriginalKey:       record.Metadata.Key,
		OriginalHeaders:   record.Metadata.Headers,
		OriginalTopic:     record.Metadata.Topic,
		OriginalPartition: record.Metadata.Partition,
		OriginalOffset:    record.Metadata.Offset,
		FailureReason:     reason,
		FailureTimestamp:  now,
		ProcessorID:       p.processorID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Value: sarama.ByteEncoder(dlqData),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(reason)},
			{Key: []byte("original_topic"), Value: []byte(record.Metadata.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.FormatInt(int64(record.Metadata.Partition), 10))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(record.Metadata.Offset, 10))},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: now,
	}
	if len(record.Metadata.Key) > 0 {
		msg.Key = sarama.ByteEncoder(record.Metadata.Key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish to DLQ",
			zap.Error(err),
			zap.String("dlq_topic", dlqTopic),
			zap.Int64("original_offset", record.Metadata.Offset),
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	p.logger.Info("published record to DLQ",
		zap.String("dlq_topic", dlqTopic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Int64("original_offset", record.Metadata.Offset),
		zap.String("reason", reason),
	)

	return nil
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.logger.Info("closing DLQ publisher")

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", zap.Error(err))
			return err
		}
	}

	p.logger.Info("DLQ publisher closed")
	return nil
}

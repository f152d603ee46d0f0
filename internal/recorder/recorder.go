// Package recorder turns consumed Kafka records into bag messages.
//
// Each Kafka topic is mapped onto a bag topic that is created on the writer
// the first time a record of that topic arrives. A record whose topic or
// payload is rejected is published to the DLQ and committed so that it is not
// consumed again. A record is committed only after the writer accepted it.
// With a streaming cache the writer accepts a record before it is persisted,
// so a failed background flush loses records whose offsets are already
// committed. Such failures reach the writer's error handler.
package recorder

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/consumer"
)

// Record outcomes reported to IncRecordsProcessed.
const (
	StatusRecorded = "recorded"
	StatusInvalid  = "invalid"
	StatusFailed   = "failed"
)

// DLQ failure reasons.
const (
	ReasonInvalidTopic     = "invalid_topic"
	ReasonInvalidMessage   = "validation_failed"
	ReasonConversionFailed = "conversion_failed"
	ReasonWriteFailed      = "write_failed"
)

// BagWriter is the part of the sequential writer used by the recorder.
type BagWriter interface {
	CreateTopic(topic bag.TopicMetadata) error
	Write(ctx context.Context, msg *bag.Message) error
}

// Validator checks topics and messages before they reach the writer.
type Validator interface {
	ValidateTopic(topic bag.TopicMetadata) error
	ValidateMessage(msg *bag.Message) error
}

// TopicResolver maps a Kafka topic onto the bag topic it is recorded as.
type TopicResolver func(kafkaTopic string) bag.TopicMetadata

// MetricsCollector defines metrics operations for the recorder.
type MetricsCollector interface {
	IncRecordsProcessed(topic string, status string)
}

// Stats is a snapshot of the recorder counters.
type Stats struct {
	Recorded uint64 `json:"recorded"`
	Invalid  uint64 `json:"invalid"`
	Failed   uint64 `json:"failed"`
	Bytes    uint64 `json:"bytes"`
}

// Recorder records consumed Kafka records into a bag.
type Recorder struct {
	writer    BagWriter
	resolve   TopicResolver
	validator Validator
	dlq       consumer.DLQPublisher
	logger    *zap.Logger
	metrics   MetricsCollector

	mu     sync.Mutex
	topics map[string]string

	recorded atomic.Uint64
	invalid  atomic.Uint64
	failed   atomic.Uint64
	bytes    atomic.Uint64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithValidator validates topics and messages before writing.
func WithValidator(v Validator) Option {
	return func(r *Recorder) {
		r.validator = v
	}
}

// WithDLQ publishes rejected records to a dead letter queue.
func WithDLQ(dlq consumer.DLQPublisher) Option {
	return func(r *Recorder) {
		r.dlq = dlq
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(r *Recorder) {
		r.metrics = metrics
	}
}

// New creates a recorder writing into writer.
func New(writer BagWriter, resolve TopicResolver, opts ...Option) *Recorder {
	r := &Recorder{
		writer:  writer,
		resolve: resolve,
		logger:  zap.NewNop(),
		topics:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run handles records until ctx is cancelled, the record channel is closed or
// the writer fails in a way that affects every later record.
func (r *Recorder) Run(ctx context.Context, records <-chan *consumer.ConsumedRecord, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("context cancelled, stopping recorder")
			return nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Error("consumer error", zap.Error(err))

		case record, ok := <-records:
			if !ok {
				r.logger.Info("record channel closed")
				return nil
			}
			if err := r.Handle(ctx, record); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				var procErr *errors.ProcessingError
				if stderrors.As(err, &procErr) {
					r.logger.Error("record left uncommitted", zap.Error(err))
					continue
				}
				return err
			}
		}
	}
}

// Handle records one Kafka record. It returns an error only when the record
// could not be dealt with at all. Such records are left uncommitted.
func (r *Recorder) Handle(ctx context.Context, record *consumer.ConsumedRecord) error {
	if record == nil {
		return nil
	}
	meta := record.Metadata

	name, err := r.ensureTopic(meta.Topic)
	if err != nil {
		var validationErr *errors.ValidationError
		if stderrors.As(err, &validationErr) {
			return r.reject(ctx, record, meta.Topic, StatusInvalid, ReasonInvalidTopic, err)
		}
		return r.fail(meta.Topic, fmt.Errorf("create topic for %s: %w", meta.Topic, err))
	}

	msg := &bag.Message{
		TopicName:     name,
		Data:          record.Value,
		RecvTimestamp: record.ReceivedAt.UnixNano(),
	}
	if !meta.Timestamp.IsZero() {
		msg.SendTimestamp = meta.Timestamp.UnixNano()
	}
	if record.ReceivedAt.IsZero() {
		msg.RecvTimestamp = msg.SendTimestamp
	}

	if r.validator != nil {
		if err := r.validator.ValidateMessage(msg); err != nil {
			return r.reject(ctx, record, name, StatusInvalid, ReasonInvalidMessage, err)
		}
	}

	if err := r.writer.Write(ctx, msg); err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case stderrors.Is(err, errors.ErrWriterNotOpen):
			return r.fail(name, err)
		case errors.IsConversionError(err):
			return r.reject(ctx, record, name, StatusFailed, ReasonConversionFailed, err)
		default:
			return r.reject(ctx, record, name, StatusFailed, ReasonWriteFailed, err)
		}
	}

	r.recorded.Add(1)
	r.bytes.Add(uint64(len(record.Value)))
	if r.metrics != nil {
		r.metrics.IncRecordsProcessed(name, StatusRecorded)
	}
	r.commit(record)
	return nil
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Invalid:  r.invalid.Load(),
		Failed:   r.failed.Load(),
		Bytes:    r.bytes.Load(),
	}
}

// LogSummary logs the counters, typically on shutdown.
func (r *Recorder) LogSummary() {
	s := r.Stats()
	r.logger.Info("recording summary",
		zap.Uint64("recorded", s.Recorded),
		zap.Uint64("invalid", s.Invalid),
		zap.Uint64("failed", s.Failed),
		zap.String("payload", humanize.IBytes(s.Bytes)),
	)
}

// ensureTopic creates the bag topic of a Kafka topic once.
func (r *Recorder) ensureTopic(kafkaTopic string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.topics[kafkaTopic]; ok {
		return name, nil
	}

	topic := r.resolve(kafkaTopic)
	if r.validator != nil {
		if err := r.validator.ValidateTopic(topic); err != nil {
			return "", err
		}
	}
	if err := r.writer.CreateTopic(topic); err != nil {
		return "", err
	}

	r.topics[kafkaTopic] = topic.Name
	r.logger.Info("recording topic",
		zap.String("kafka_topic", kafkaTopic),
		zap.String("topic", topic.Name),
		zap.String("type", topic.Type),
		zap.String("serialization_format", topic.SerializationFormat),
	)
	return topic.Name, nil
}

// reject sends a record to the DLQ and commits it.
func (r *Recorder) reject(ctx context.Context, record *consumer.ConsumedRecord, topic, status, reason string, cause error) error {
	if status == StatusInvalid {
		r.invalid.Add(1)
	} else {
		r.failed.Add(1)
	}
	if r.metrics != nil {
		r.metrics.IncRecordsProcessed(topic, status)
	}

	r.logger.Warn("record rejected",
		zap.String("topic", record.Metadata.Topic),
		zap.Int32("partition", record.Metadata.Partition),
		zap.Int64("offset", record.Metadata.Offset),
		zap.String("reason", reason),
		zap.Bool("retryable", errors.IsRetryable(cause)),
		zap.Error(cause),
	)

	if r.dlq != nil {
		if err := r.dlq.Publish(ctx, record, reason+": "+cause.Error()); err != nil {
			// Leave the record uncommitted so that it is redelivered.
			return &errors.ProcessingError{
				Topic:     record.Metadata.Topic,
				Partition: record.Metadata.Partition,
				Offset:    record.Metadata.Offset,
				Err:       fmt.Errorf("dlq publish: %w", err),
			}
		}
	}

	r.commit(record)
	return nil
}

func (r *Recorder) fail(topic string, err error) error {
	r.failed.Add(1)
	if r.metrics != nil {
		r.metrics.IncRecordsProcessed(topic, StatusFailed)
	}
	return err
}

func (r *Recorder) commit(record *consumer.ConsumedRecord) {
	if record.CommitFunc == nil {
		return
	}
	if err := record.CommitFunc(); err != nil {
		r.logger.Error("failed to commit offset",
			zap.String("topic", record.Metadata.Topic),
			zap.Int32("partition", record.Metadata.Partition),
			zap.Int64("offset", record.Metadata.Offset),
			zap.Error(err),
		)
	}
}

package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ReadWriter = (*ParquetBagfile)(nil)

// parquetMinimumSplitSize covers the footer and one small row group.
const parquetMinimumSplitSize = 16 * 1024

// parquetTopicsKey is the footer key holding the declared topics as JSON.
const parquetTopicsKey = "kafbag.topics"

// parquetBlockCodecs are the column codecs parquet-go applies natively.
var parquetBlockCodecs = []string{"snappy", "gzip", "lz4", CompressionZstd}

// MessageRow is the Parquet schema of one recorded message.
type MessageRow struct {
	TopicName     string `parquet:"topic_name,dict"`
	RecvTimestamp int64  `parquet:"recv_timestamp"`
	SendTimestamp int64  `parquet:"send_timestamp"`
	Data          []byte `parquet:"data"`
}

// ParquetBagfile stores messages as Parquet rows. Each Write or WriteBatch call
// is flushed as one row group; topic declarations go into the footer on Close.
type ParquetBagfile struct {
	*localFile
	writer *parquet.GenericWriter[MessageRow]
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	default:
		return parquet.Compression(&parquet.Uncompressed)
	}
}

func openParquetBagfile(options bag.StorageOptions, logger *zap.Logger, metrics MetricsCollector) (storage.ReadWriter, error) {
	f, err := openLocalFile(options, StorageIDParquet, ".parquet", parquetBlockCodecs, logger, metrics)
	if err != nil {
		return nil, err
	}

	codec := ""
	if normalizeMode(options.CompressionMode) == bag.CompressionModeFile {
		codec = options.CompressionFormat
	}

	writer := parquet.NewGenericWriter[MessageRow](
		f.writer(),
		parquet.SchemaOf(new(MessageRow)),
		compressionCodec(codec),
		parquet.CreatedBy("kafbag", "1.0", "0"),
		// Unbuffered so that BagfileSize reflects every flushed row group.
		parquet.WriteBufferSize(-1),
	)
	return &ParquetBagfile{localFile: f, writer: writer}, nil
}

// Write appends one message.
func (b *ParquetBagfile) Write(msg *bag.Message) error {
	return b.WriteBatch([]*bag.Message{msg})
}

// WriteBatch appends messages in order as one row group.
func (b *ParquetBagfile) WriteBatch(msgs []*bag.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrStorageClosed
	}

	start := time.Now()
	rows := make([]MessageRow, len(msgs))
	for i, msg := range msgs {
		msg = b.prepare(msg)
		rows[i] = MessageRow{
			TopicName:     msg.TopicName,
			RecvTimestamp: msg.RecvTimestamp,
			SendTimestamp: msg.SendTimestamp,
			Data:          msg.Data,
		}
	}

	if _, err := b.writer.Write(rows); err != nil {
		return b.writeFailed(err)
	}
	if err := b.writer.Flush(); err != nil {
		return b.writeFailed(err)
	}
	if err := b.flush(); err != nil {
		return b.writeFailed(err)
	}
	b.observeWrite(start)
	return nil
}

// CreateTopic declares a topic. Declaring a known topic is a no-op.
func (b *ParquetBagfile) CreateTopic(topic bag.TopicMetadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrStorageClosed
	}
	b.declareTopic(topic)
	return nil
}

// RemoveTopic drops a topic declaration.
func (b *ParquetBagfile) RemoveTopic(topic bag.TopicMetadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrStorageClosed
	}
	return b.undeclareTopic(topic.Name)
}

// Close writes the footer with the declared topics and closes the file.
func (b *ParquetBagfile) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	var err error
	topics, marshalErr := json.Marshal(b.topics)
	if marshalErr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to encode topics: %w", marshalErr))
	} else {
		b.writer.SetKeyValueMetadata(parquetTopicsKey, string(topics))
	}
	if closeErr := b.writer.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to close parquet writer: %w", closeErr))
	}
	return multierr.Append(err, b.finish())
}

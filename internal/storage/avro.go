package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/linkedin/goavro/v2"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.ReadWriter = (*AvroBagfile)(nil)

// Entry types stored in the entry_type column of an avro bagfile.
const (
	entryTopic       = "topic"
	entryRemoveTopic = "remove_topic"
	entryMessage     = "message"
)

// avroMinimumSplitSize covers the OCF header and one data block.
const avroMinimumSplitSize = 4 * 1024

// avroBlockCodecs are the OCF block codecs goavro applies natively.
var avroBlockCodecs = []string{goavro.CompressionDeflateLabel, goavro.CompressionSnappyLabel}

// avroSchema returns the Avro schema for bagfile entries. Topic declarations and
// messages share one record type so the file stays in append order.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "BagEntry",
		"namespace": "io.kafbag",
		"fields": [
			{"name": "entry_type", "type": "string"},
			{"name": "topic_name", "type": "string"},
			{"name": "topic_id", "type": ["null", "int"], "default": null},
			{"name": "topic_type", "type": ["null", "string"], "default": null},
			{"name": "serialization_format", "type": ["null", "string"], "default": null},
			{"name": "offered_qos_profiles", "type": ["null", "string"], "default": null},
			{"name": "type_description_hash", "type": ["null", "string"], "default": null},
			{"name": "recv_timestamp", "type": "long"},
			{"name": "send_timestamp", "type": "long"},
			{"name": "data", "type": "bytes"}
		]
	}`
}

// AvroBagfile stores a bagfile as an Avro Object Container File. Each Write
// or WriteBatch call is appended as one OCF block.
type AvroBagfile struct {
	*localFile
	ocf *goavro.OCFWriter
}

func openAvroBagfile(options bag.StorageOptions, logger *zap.Logger, metrics MetricsCollector) (storage.ReadWriter, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	f, err := openLocalFile(options, StorageIDAvro, ".avro", nil, logger, metrics)
	if err != nil {
		return nil, err
	}

	compressionName := goavro.CompressionNullLabel
	if normalizeMode(options.CompressionMode) == bag.CompressionModeFile {
		format := strings.ToLower(options.CompressionFormat)
		if contains(avroBlockCodecs, format) {
			compressionName = format
		}
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f.writer(),
		Codec:           codec,
		CompressionName: compressionName,
		MetaData: map[string][]byte{
			"kafbag.compression_mode":   []byte(normalizeMode(options.CompressionMode)),
			"kafbag.compression_format": []byte(options.CompressionFormat),
		},
	})
	if err != nil {
		return nil, f.discard(fmt.Errorf("failed to create OCF writer: %w", err))
	}

	b := &AvroBagfile{localFile: f, ocf: ocf}
	if err := b.flush(); err != nil {
		return nil, f.discard(b.writeFailed(err))
	}
	return b, nil
}

// Write appends one message.
func (b *AvroBagfile) Write(msg *bag.Message) error {
	return b.WriteBatch([]*bag.Message{msg})
}

// WriteBatch appends messages in order as a single block.
func (b *AvroBagfile) WriteBatch(msgs []*bag.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrStorageClosed
	}

	start := time.Now()
	entries := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, b.messageEntry(b.prepare(msg)))
	}
	if err := b.append(entries...); err != nil {
		return err
	}
	b.observeWrite(start)
	return nil
}

// CreateTopic records a topic declaration. Declaring a known topic is a no-op.
func (b *AvroBagfile) CreateTopic(topic bag.TopicMetadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrStorageClosed
	}
	if !b.declareTopic(topic) {
		return nil
	}
	return b.append(topicEntry(entryTopic, topic))
}

// RemoveTopic records that a topic is no longer recorded.
func (b *AvroBagfile) RemoveTopic(topic bag.TopicMetadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrStorageClosed
	}
	if err := b.undeclareTopic(topic.Name); err != nil {
		return err
	}
	return b.append(topicEntry(entryRemoveTopic, topic))
}

// Close flushes the last block and closes the file. Closing twice is a no-op.
func (b *AvroBagfile) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	return b.finish()
}

// append writes entries and flushes compressed output. Callers hold b.mu.
func (b *AvroBagfile) append(entries ...interface{}) error {
	if err := b.ocf.Append(entries); err != nil {
		return b.writeFailed(err)
	}
	if err := b.flush(); err != nil {
		return b.writeFailed(err)
	}
	return nil
}

func (b *AvroBagfile) messageEntry(msg *bag.Message) map[string]interface{} {
	return map[string]interface{}{
		"entry_type":            entryMessage,
		"topic_name":            msg.TopicName,
		"topic_id":              nil,
		"topic_type":            nil,
		"serialization_format":  nil,
		"offered_qos_profiles":  nil,
		"type_description_hash": nil,
		"recv_timestamp":        msg.RecvTimestamp,
		"send_timestamp":        msg.SendTimestamp,
		"data":                  msg.Data,
	}
}

func topicEntry(entryType string, topic bag.TopicMetadata) map[string]interface{} {
	return map[string]interface{}{
		"entry_type":            entryType,
		"topic_name":            topic.Name,
		"topic_id":              goavro.Union("int", int32(topic.ID)),
		"topic_type":            nullableString(topic.Type),
		"serialization_format":  nullableString(topic.SerializationFormat),
		"offered_qos_profiles":  nullableString(topic.OfferedQoSProfiles),
		"type_description_hash": nullableString(topic.TypeDescriptionHash),
		"recv_timestamp":        int64(0),
		"send_timestamp":        int64(0),
		"data":                  []byte{},
	}
}

// nullableString maps empty strings to the null branch of a ["null","string"] union.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return goavro.Union("string", s)
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/storage"
)

// MetadataFilename is the name of the metadata file inside a bag directory.
const MetadataFilename = "metadata.yaml"

// Ensure implementation satisfies interface at compile time.
var _ storage.MetadataIO = (*YAMLMetadataIO)(nil)

// YAMLMetadataIO reads and writes metadata.yaml in the bag directory.
type YAMLMetadataIO struct{}

// NewYAMLMetadataIO creates a metadata reader/writer.
func NewYAMLMetadataIO() *YAMLMetadataIO {
	return &YAMLMetadataIO{}
}

// WriteMetadata replaces metadata.yaml in the bag directory at uri.
func (YAMLMetadataIO) WriteMetadata(uri string, metadata bag.BagMetadata) error {
	path := filepath.Join(uri, MetadataFilename)
	if err := os.MkdirAll(uri, 0755); err != nil {
		return &errors.StorageError{Operation: "write_metadata", Path: path, Err: err}
	}
	if err := writeYAMLAtomic(path, metadata); err != nil {
		return &errors.StorageError{Operation: "write_metadata", Path: path, Err: err}
	}
	return nil
}

// ReadMetadata parses metadata.yaml from the bag directory at uri.
func (YAMLMetadataIO) ReadMetadata(uri string) (bag.BagMetadata, error) {
	return readYAML(filepath.Join(uri, MetadataFilename))
}

// MetadataFileExists reports whether the bag directory at uri has metadata.yaml.
func (YAMLMetadataIO) MetadataFileExists(uri string) bool {
	info, err := os.Stat(filepath.Join(uri, MetadataFilename))
	return err == nil && !info.IsDir()
}

// metadataDocument is the on-disk layout of a metadata file.
type metadataDocument struct {
	Information bagInformation `yaml:"bagfile_information"`
}

type bagInformation struct {
	Version                int               `yaml:"version"`
	StorageIdentifier      string            `yaml:"storage_identifier"`
	Duration               durationField     `yaml:"duration"`
	StartingTime           timestampField    `yaml:"starting_time"`
	MessageCount           uint64            `yaml:"message_count"`
	TopicsWithMessageCount []topicWithCount  `yaml:"topics_with_message_count"`
	CompressionFormat      string            `yaml:"compression_format"`
	CompressionMode        string            `yaml:"compression_mode"`
	RelativeFilePaths      []string          `yaml:"relative_file_paths"`
	Files                  []fileInformation `yaml:"files"`
	CustomData             map[string]string `yaml:"custom_data,omitempty"`
	BagSize                uint64            `yaml:"bag_size"`
}

type durationField struct {
	Nanoseconds int64 `yaml:"nanoseconds"`
}

type timestampField struct {
	NanosecondsSinceEpoch int64 `yaml:"nanoseconds_since_epoch"`
}

type topicWithCount struct {
	TopicMetadata topicMetadata `yaml:"topic_metadata"`
	MessageCount  uint64        `yaml:"message_count"`
}

type topicMetadata struct {
	ID                  uint16 `yaml:"id"`
	Name                string `yaml:"name"`
	Type                string `yaml:"type"`
	SerializationFormat string `yaml:"serialization_format"`
	OfferedQoSProfiles  string `yaml:"offered_qos_profiles"`
	TypeDescriptionHash string `yaml:"type_description_hash"`
}

type fileInformation struct {
	Path         string         `yaml:"path"`
	StartingTime timestampField `yaml:"starting_time"`
	Duration     durationField  `yaml:"duration"`
	MessageCount uint64         `yaml:"message_count"`
}

func toTimestamp(t time.Time) timestampField {
	if t.IsZero() {
		return timestampField{}
	}
	return timestampField{NanosecondsSinceEpoch: t.UnixNano()}
}

func (t timestampField) time() time.Time {
	if t.NanosecondsSinceEpoch == 0 {
		return time.Time{}
	}
	return time.Unix(0, t.NanosecondsSinceEpoch)
}

func toDocument(m bag.BagMetadata) metadataDocument {
	info := bagInformation{
		Version:           m.Version,
		StorageIdentifier: m.StorageIdentifier,
		Duration:          durationField{Nanoseconds: int64(m.Duration)},
		StartingTime:      toTimestamp(m.StartingTime),
		MessageCount:      m.MessageCount,
		CompressionFormat: m.CompressionFormat,
		CompressionMode:   m.CompressionMode,
		RelativeFilePaths: m.RelativeFilePaths,
		CustomData:        m.CustomData,
		BagSize:           m.BagSize,
	}
	for _, t := range m.TopicsWithMessageCount {
		info.TopicsWithMessageCount = append(info.TopicsWithMessageCount, topicWithCount{
			TopicMetadata: topicMetadata{
				ID:                  t.Topic.ID,
				Name:                t.Topic.Name,
				Type:                t.Topic.Type,
				SerializationFormat: t.Topic.SerializationFormat,
				OfferedQoSProfiles:  t.Topic.OfferedQoSProfiles,
				TypeDescriptionHash: t.Topic.TypeDescriptionHash,
			},
			MessageCount: t.MessageCount,
		})
	}
	for _, f := range m.Files {
		info.Files = append(info.Files, fileInformation{
			Path:         f.Path,
			StartingTime: toTimestamp(f.StartingTime),
			Duration:     durationField{Nanoseconds: int64(f.Duration)},
			MessageCount: f.MessageCount,
		})
	}
	return metadataDocument{Information: info}
}

func fromDocument(doc metadataDocument) bag.BagMetadata {
	info := doc.Information
	m := bag.BagMetadata{
		Version:           info.Version,
		BagSize:           info.BagSize,
		StorageIdentifier: info.StorageIdentifier,
		RelativeFilePaths: info.RelativeFilePaths,
		Duration:          time.Duration(info.Duration.Nanoseconds),
		StartingTime:      info.StartingTime.time(),
		MessageCount:      info.MessageCount,
		CompressionFormat: info.CompressionFormat,
		CompressionMode:   info.CompressionMode,
		CustomData:        info.CustomData,
	}
	for _, t := range info.TopicsWithMessageCount {
		m.TopicsWithMessageCount = append(m.TopicsWithMessageCount, bag.TopicInformation{
			Topic: bag.TopicMetadata{
				ID:                  t.TopicMetadata.ID,
				Name:                t.TopicMetadata.Name,
				Type:                t.TopicMetadata.Type,
				SerializationFormat: t.TopicMetadata.SerializationFormat,
				OfferedQoSProfiles:  t.TopicMetadata.OfferedQoSProfiles,
				TypeDescriptionHash: t.TopicMetadata.TypeDescriptionHash,
			},
			MessageCount: t.MessageCount,
		})
	}
	for _, f := range info.Files {
		m.Files = append(m.Files, bag.FileInfo{
			Path:         f.Path,
			StartingTime: f.StartingTime.time(),
			Duration:     time.Duration(f.Duration.Nanoseconds),
			MessageCount: f.MessageCount,
		})
	}
	return m
}

// writeYAMLAtomic writes metadata to path through a temporary file and rename.
func writeYAMLAtomic(path string, metadata bag.BagMetadata) error {
	data, err := yaml.Marshal(toDocument(metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace metadata: %w", err)
	}
	return nil
}

func readYAML(path string) (bag.BagMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return bag.BagMetadata{}, &errors.StorageError{Operation: "read_metadata", Path: path, Err: err}
	}

	var doc metadataDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return bag.BagMetadata{}, &errors.StorageError{
			Operation: "read_metadata",
			Path:      path,
			Err:       fmt.Errorf("failed to decode metadata: %w", err),
		}
	}
	return fromDocument(doc), nil
}

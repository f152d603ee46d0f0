// Package bag defines core recording types.
package bag

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// MetadataVersion is the version written into every BagMetadata.
const MetadataVersion = 9

// Compression modes recognized by storage backends.
const (
	CompressionModeNone    = "none"
	CompressionModeFile    = "file"
	CompressionModeMessage = "message"
)

// StorageOptions configures where and how a bag is written.
type StorageOptions struct {
	// URI is the bag directory. Bagfiles are created inside it.
	URI string
	// StorageID selects the storage backend plugin.
	StorageID string
	// MaxBagfileSize is the size in bytes after which a bagfile is split. 0 disables size splitting.
	MaxBagfileSize uint64
	// MaxBagfileDuration is the time span after which a bagfile is split. 0 disables it.
	MaxBagfileDuration time.Duration
	// MaxCacheSize is the cache capacity in payload bytes. 0 writes directly to storage.
	MaxCacheSize uint64
	// SnapshotMode keeps messages in a ring buffer until a snapshot is taken.
	SnapshotMode bool

	CompressionFormat string
	CompressionMode   string

	// CustomData is copied verbatim into the bag metadata.
	CustomData map[string]string
}

// Validate checks the option combinations that can be decided without a backend.
func (o StorageOptions) Validate() error {
	if o.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if o.SnapshotMode && o.MaxCacheSize == 0 {
		return fmt.Errorf("snapshot mode requires a non-zero max cache size")
	}
	return nil
}

// ConverterOptions names the serialization formats on both sides of the writer.
type ConverterOptions struct {
	InputSerializationFormat  string
	OutputSerializationFormat string
}

// NeedsConversion reports whether messages must be converted before storage.
func (o ConverterOptions) NeedsConversion() bool {
	return o.InputSerializationFormat != "" &&
		o.OutputSerializationFormat != "" &&
		o.InputSerializationFormat != o.OutputSerializationFormat
}

// TopicMetadata describes a recorded topic.
type TopicMetadata struct {
	ID                  uint16
	Name                string
	Type                string
	SerializationFormat string
	// OfferedQoSProfiles is opaque to the writer.
	OfferedQoSProfiles  string
	TypeDescriptionHash string
}

// Message is a single serialized record addressed to a topic.
type Message struct {
	TopicName string
	Data      []byte
	// RecvTimestamp is the receive time in nanoseconds since epoch.
	RecvTimestamp int64
	// SendTimestamp is the publish time in nanoseconds since epoch.
	SendTimestamp int64
}

// Size returns the number of payload bytes used for cache accounting.
func (m *Message) Size() uint64 {
	return uint64(len(m.Data))
}

// FileInfo holds statistics for one bagfile.
type FileInfo struct {
	Path         string
	StartingTime time.Time
	Duration     time.Duration
	MessageCount uint64
}

// End returns the timestamp of the last message in the file.
func (f FileInfo) End() time.Time {
	return f.StartingTime.Add(f.Duration)
}

// TopicInformation pairs a topic with the number of messages recorded on it.
type TopicInformation struct {
	Topic        TopicMetadata
	MessageCount uint64
}

// BagMetadata summarizes a bag.
type BagMetadata struct {
	Version                int
	BagSize                uint64
	StorageIdentifier      string
	RelativeFilePaths      []string
	Duration               time.Duration
	StartingTime           time.Time
	MessageCount           uint64
	TopicsWithMessageCount []TopicInformation
	CompressionFormat      string
	CompressionMode        string
	Files                  []FileInfo
	CustomData             map[string]string
}

// Clone returns a deep copy of the metadata.
func (m BagMetadata) Clone() BagMetadata {
	out := m
	out.RelativeFilePaths = append([]string(nil), m.RelativeFilePaths...)
	out.TopicsWithMessageCount = append([]TopicInformation(nil), m.TopicsWithMessageCount...)
	out.Files = append([]FileInfo(nil), m.Files...)
	if m.CustomData != nil {
		out.CustomData = make(map[string]string, len(m.CustomData))
		for k, v := range m.CustomData {
			out.CustomData[k] = v
		}
	}
	return out
}

// BagSplitInfo is delivered to observers whenever a bagfile is closed.
type BagSplitInfo struct {
	ClosedFile string
	// OpenedFile is empty when the writer was closed without opening a new file.
	OpenedFile string
}

// BagfileURI returns the URI of the index-th bagfile in the bag at uri.
func BagfileURI(uri string, index int) string {
	return filepath.Join(uri, fmt.Sprintf("%s_%d", BaseName(uri), index))
}

// BaseName returns the last element of a bag URI.
func BaseName(uri string) string {
	return filepath.Base(strings.TrimRight(uri, "/"))
}

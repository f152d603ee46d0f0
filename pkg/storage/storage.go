// Package storage defines interfaces for bagfile storage operations.
//
// This package provides abstractions for writing messages to bagfiles
// and persisting bag metadata, independent of the on-disk format.
package storage

import (
	"github.com/jittakal/kafbag/pkg/bag"
)

// ReadWriter writes messages to a single open bagfile.
type ReadWriter interface {
	// Write appends one message to the bagfile.
	Write(msg *bag.Message) error

	// WriteBatch appends messages in order.
	WriteBatch(msgs []*bag.Message) error

	// CreateTopic declares a topic in the bagfile. Declaring an existing topic is a no-op.
	CreateTopic(topic bag.TopicMetadata) error

	// RemoveTopic drops a topic declaration from the bagfile.
	RemoveTopic(topic bag.TopicMetadata) error

	// BagfileSize returns the current size of the bagfile in bytes.
	// It is safe to call concurrently with Write and WriteBatch.
	BagfileSize() uint64

	// RelativeFilePath returns the path of the bagfile as opened.
	RelativeFilePath() string

	// UpdateMetadata persists a snapshot of the bag metadata alongside the bagfile.
	UpdateMetadata(metadata bag.BagMetadata) error

	// Close flushes and closes the bagfile.
	Close() error
}

// Factory opens bagfiles for a storage plugin.
type Factory interface {
	// OpenReadWrite creates the bagfile at options.URI.
	OpenReadWrite(options bag.StorageOptions) (ReadWriter, error)

	// MinimumSplitFileSize returns the smallest max bagfile size the plugin can honor.
	// It must not create any file.
	MinimumSplitFileSize(storageID string) (uint64, error)
}

// MetadataIO reads and writes the bag metadata file.
type MetadataIO interface {
	// WriteMetadata writes the metadata file into the bag directory at uri.
	WriteMetadata(uri string, metadata bag.BagMetadata) error

	// ReadMetadata reads the metadata file from the bag directory at uri.
	ReadMetadata(uri string) (bag.BagMetadata, error)

	// MetadataFileExists reports whether the bag directory at uri has a metadata file.
	MetadataFileExists(uri string) bool
}

package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(storageID string, status string)
	ObserveFileSize(storageID string, size float64)
	ObserveStorageWriteDuration(storageID string, duration float64)
	IncStorageErrors(backend string, operation string)
	IncUploads(backend string, status string)
	ObserveUploadDuration(backend string, duration float64)
}

// countingWriter counts bytes that reached the underlying file.
type countingWriter struct {
	w io.Writer
	n atomic.Uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(uint64(n))
	return n, err
}

// localFile is the on-disk part shared by the local bagfile formats: the file
// handle, byte accounting, optional compression and declared topics.
type localFile struct {
	storageID string
	path      string
	logger    *zap.Logger
	metrics   MetricsCollector

	file    *os.File
	counter *countingWriter
	// stream is set in file compression mode when the format has no native zstd codec.
	stream     *zstd.Encoder
	compressor *messageCompressor

	mu       sync.Mutex
	topics   []bag.TopicMetadata
	closed   bool
	openedAt time.Time
}

// openLocalFile creates the bagfile for options.URI with the given extension.
func openLocalFile(
	options bag.StorageOptions,
	storageID string,
	extension string,
	nativeCodecs []string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*localFile, error) {
	path := options.URI + extension
	mode := normalizeMode(options.CompressionMode)
	format := strings.ToLower(options.CompressionFormat)
	outerZstd := mode == bag.CompressionModeFile && format == CompressionZstd && !contains(nativeCodecs, CompressionZstd)
	if outerZstd {
		path += ".zst"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &errors.StorageError{Operation: "open", Path: path, Err: err}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &errors.StorageError{Operation: "open", Path: path, Err: err}
	}

	f := &localFile{
		storageID: storageID,
		path:      path,
		logger:    logger,
		metrics:   metrics,
		file:      file,
		counter:   &countingWriter{w: file},
		openedAt:  time.Now(),
	}

	if outerZstd {
		f.stream, err = newFileCompressor(f.counter)
		if err != nil {
			file.Close()
			return nil, err
		}
	}
	if mode == bag.CompressionModeMessage {
		f.compressor, err = newMessageCompressor()
		if err != nil {
			file.Close()
			return nil, err
		}
	}

	logger.Debug("bagfile created",
		zap.String("path", path),
		zap.String("storage_id", storageID),
		zap.Bool("zstd_stream", outerZstd),
	)
	return f, nil
}

// writer returns the destination for encoded bytes.
func (f *localFile) writer() io.Writer {
	if f.stream != nil {
		return f.stream
	}
	return f.counter
}

// flush pushes buffered compressed bytes to the file so the size stays current.
func (f *localFile) flush() error {
	if f.stream == nil {
		return nil
	}
	return f.stream.Flush()
}

// prepare applies message compression to a payload about to be written.
func (f *localFile) prepare(msg *bag.Message) *bag.Message {
	if f.compressor == nil {
		return msg
	}
	return f.compressor.compress(msg)
}

// BagfileSize returns the number of bytes written to the file so far.
func (f *localFile) BagfileSize() uint64 {
	return f.counter.n.Load()
}

// RelativeFilePath returns the path of the file as created.
func (f *localFile) RelativeFilePath() string {
	return f.path
}

// UpdateMetadata writes a metadata snapshot next to the bagfile.
func (f *localFile) UpdateMetadata(metadata bag.BagMetadata) error {
	if err := writeYAMLAtomic(f.path+".metadata.yaml", metadata); err != nil {
		if f.metrics != nil {
			f.metrics.IncStorageErrors(f.storageID, "update_metadata")
		}
		return &errors.StorageError{Operation: "update_metadata", Path: f.path, Err: err}
	}
	return nil
}

// declareTopic adds a topic and reports whether it was new. Callers hold f.mu.
func (f *localFile) declareTopic(topic bag.TopicMetadata) bool {
	for _, t := range f.topics {
		if t.Name == topic.Name {
			return false
		}
	}
	f.topics = append(f.topics, topic)
	return true
}

// undeclareTopic removes a topic. Callers hold f.mu.
func (f *localFile) undeclareTopic(name string) error {
	for i, t := range f.topics {
		if t.Name == name {
			f.topics = append(f.topics[:i], f.topics[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("topic %s is not declared", name)
}

// observeWrite records append latency. Callers pass the time the append started.
func (f *localFile) observeWrite(start time.Time) {
	if f.metrics != nil {
		f.metrics.ObserveStorageWriteDuration(f.storageID, time.Since(start).Seconds())
	}
}

// writeFailed wraps an append failure.
func (f *localFile) writeFailed(err error) error {
	if f.metrics != nil {
		f.metrics.IncStorageErrors(f.storageID, "write")
	}
	return &errors.StorageError{Operation: "write", Path: f.path, Err: err}
}

// finish closes the compression stream and the file. Callers hold f.mu and
// have already flushed any format trailer into writer().
func (f *localFile) finish() error {
	var err error
	if f.stream != nil {
		err = multierr.Append(err, f.stream.Close())
	}
	if f.compressor != nil {
		f.compressor.Close()
	}
	err = multierr.Append(err, f.file.Sync())
	err = multierr.Append(err, f.file.Close())
	f.closed = true

	status := "success"
	if err != nil {
		status = "error"
	}
	size := f.BagfileSize()
	if f.metrics != nil {
		f.metrics.IncFilesWritten(f.storageID, status)
		f.metrics.ObserveFileSize(f.storageID, float64(size))
	}
	if err != nil {
		return &errors.StorageError{Operation: "close", Path: f.path, Err: err}
	}

	f.logger.Info("bagfile closed",
		zap.String("path", f.path),
		zap.Uint64("size_bytes", size),
		zap.Int("topics", len(f.topics)),
		zap.Duration("open_for", time.Since(f.openedAt)),
	)
	return nil
}

// discard closes a file that failed to initialize and returns err with any
// close failure appended.
func (f *localFile) discard(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return multierr.Append(err, f.finish())
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

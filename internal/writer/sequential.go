package writer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/cache"
	"github.com/jittakal/kafbag/internal/converter"
	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/internal/events"
	"github.com/jittakal/kafbag/pkg/bag"
	pkgconverter "github.com/jittakal/kafbag/pkg/converter"
	"github.com/jittakal/kafbag/pkg/storage"
)

// MetricsCollector defines the interface for writer metrics.
type MetricsCollector interface {
	IncMessagesWritten(topic string, mode string)
	IncConversionFailures(topic string)
	IncSplits(reason string)
	IncBackgroundWriteErrors()
	SetCacheUsage(bytes float64, messages float64)
	AddSnapshotDropped(count float64)
}

// SequentialWriter records messages into a sequence of bagfiles.
//
// All exported methods are safe for concurrent use; they are serialized so that
// a split is atomic with respect to concurrent writes. Split callbacks run on
// the goroutine performing the split while the writer is locked and must not
// call back into the writer.
type SequentialWriter struct {
	mu sync.Mutex

	storageFactory   storage.Factory
	metadataIO       storage.MetadataIO
	converterFactory pkgconverter.Factory

	logger         *zap.Logger
	metrics        MetricsCollector
	onError        func(error)
	drainThreshold uint64

	notifier   *events.Notifier
	aggregator *Aggregator

	isOpen    bool
	options   bag.StorageOptions
	pipeline  *converter.Pipeline
	policy    *CompositePolicy
	sink      sink
	snapshot  *snapshotSink
	topics    []bag.TopicMetadata
	fileIndex int

	// storageMu guards the storage handle against the cache consumer,
	// which writes batches without holding mu.
	storageMu sync.RWMutex
	storage   storage.ReadWriter
}

// Option configures a SequentialWriter.
type Option func(*SequentialWriter)

// WithLogger sets the writer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *SequentialWriter) {
		w.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(w *SequentialWriter) {
		w.metrics = metrics
	}
}

// WithErrorHandler sets the callback receiving errors that cannot be returned to
// a caller: failed background batch writes and failures during Shutdown.
func WithErrorHandler(fn func(error)) Option {
	return func(w *SequentialWriter) {
		w.onError = fn
	}
}

// WithDrainThreshold sets the queued byte count at which the cache consumer
// starts writing. 0 drains as soon as anything is queued.
func WithDrainThreshold(bytes uint64) Option {
	return func(w *SequentialWriter) {
		w.drainThreshold = bytes
	}
}

// New creates a closed writer. converterFactory may be nil when no conversion is configured.
func New(storageFactory storage.Factory, metadataIO storage.MetadataIO, converterFactory pkgconverter.Factory, opts ...Option) *SequentialWriter {
	w := &SequentialWriter{
		storageFactory:   storageFactory,
		metadataIO:       metadataIO,
		converterFactory: converterFactory,
		logger:           zap.NewNop(),
		onError:          func(error) {},
		aggregator:       NewAggregator(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.notifier = events.NewNotifier(w.logger.Named("events"))
	return w
}

// AddEventCallbacks registers split callbacks. They stay registered across Open calls.
func (w *SequentialWriter) AddEventCallbacks(callbacks events.Callbacks) {
	w.notifier.AddCallbacks(callbacks)
}

// IsOpen reports whether the writer is open.
func (w *SequentialWriter) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.isOpen
}

// Metadata returns a snapshot of the bag metadata recorded so far.
func (w *SequentialWriter) Metadata() bag.BagMetadata {
	return w.aggregator.Snapshot()
}

// Open validates options, opens the first bagfile and persists the initial metadata.
// Configuration problems are returned as *errors.ConfigError and leave no file behind.
func (w *SequentialWriter) Open(options bag.StorageOptions, converterOptions bag.ConverterOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isOpen {
		return errors.ErrWriterAlreadyOpen
	}

	if options.URI == "" {
		return &errors.ConfigError{Field: "uri", Reason: "must not be empty"}
	}
	if options.SnapshotMode && options.MaxCacheSize == 0 {
		return &errors.ConfigError{
			Field:  "max_cache_size",
			Reason: "snapshot mode requires a non-zero cache size",
		}
	}
	if options.MaxBagfileSize != 0 {
		minSize, err := w.storageFactory.MinimumSplitFileSize(options.StorageID)
		if err != nil {
			return &errors.ConfigError{
				Field:  "storage_id",
				Reason: "cannot determine minimum split file size",
				Err:    err,
			}
		}
		if options.MaxBagfileSize < minSize {
			return &errors.ConfigError{
				Field: "max_bagfile_size",
				Reason: fmt.Sprintf("%d bytes is below the minimum of %d bytes for storage %q",
					options.MaxBagfileSize, minSize, options.StorageID),
			}
		}
	}

	var pipeline *converter.Pipeline
	if converterOptions.NeedsConversion() {
		if w.converterFactory == nil {
			return &errors.ConfigError{
				Field:  "serialization_format",
				Reason: "conversion requested but no converter registry configured",
				Err:    errors.ErrPluginNotFound,
			}
		}
		p, err := converter.NewPipeline(w.converterFactory, converterOptions)
		if err != nil {
			return &errors.ConfigError{
				Field:  "serialization_format",
				Reason: fmt.Sprintf("cannot convert %q to %q",
					converterOptions.InputSerializationFormat, converterOptions.OutputSerializationFormat),
				Err: err,
			}
		}
		pipeline = p
	}

	w.options = options
	w.pipeline = pipeline
	w.policy = NewCompositePolicy(PolicyConfig{
		MaxBagfileSize:     options.MaxBagfileSize,
		MaxBagfileDuration: options.MaxBagfileDuration,
	})
	w.topics = nil
	w.aggregator.Reset(options)

	w.storageMu.Lock()
	err := w.openFile(0)
	w.storageMu.Unlock()
	if err != nil {
		return err
	}

	if err := w.storage.UpdateMetadata(w.aggregator.Snapshot()); err != nil {
		_ = w.storage.Close()
		w.storage = nil
		return &errors.StorageError{Operation: "update_metadata", Path: w.options.URI, Err: err}
	}

	switch {
	case options.SnapshotMode:
		w.snapshot = &snapshotSink{w: w, ring: cache.NewCircularCache(options.MaxCacheSize)}
		w.sink = w.snapshot
	case options.MaxCacheSize > 0:
		w.snapshot = nil
		w.sink = newBufferedSink(w, options.MaxCacheSize)
	default:
		w.snapshot = nil
		w.sink = &directSink{w: w}
	}
	w.isOpen = true

	w.logger.Info("bag opened",
		zap.String("uri", options.URI),
		zap.String("storage_id", options.StorageID),
		zap.Uint64("max_bagfile_size", options.MaxBagfileSize),
		zap.Duration("max_bagfile_duration", options.MaxBagfileDuration),
		zap.Uint64("max_cache_size", options.MaxCacheSize),
		zap.Bool("snapshot_mode", options.SnapshotMode),
	)
	return nil
}

// CreateTopic declares a topic on the active bagfile and on every later one.
// Creating a topic that already exists is a no-op.
func (w *SequentialWriter) CreateTopic(topic bag.TopicMetadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return errors.ErrWriterNotOpen
	}
	if w.hasTopic(topic.Name) {
		return nil
	}

	if w.pipeline != nil {
		topic.SerializationFormat = w.pipeline.OutputFormat()
	}

	w.storageMu.RLock()
	err := w.storage.CreateTopic(topic)
	path := w.storage.RelativeFilePath()
	w.storageMu.RUnlock()
	if err != nil {
		return &errors.StorageError{Operation: "create_topic", Path: path, Err: err}
	}

	w.topics = append(w.topics, topic)
	w.aggregator.AddTopic(topic)
	if w.pipeline != nil {
		w.pipeline.AddTopic(topic.Name, topic.Type)
	}

	w.logger.Debug("topic created",
		zap.String("topic", topic.Name),
		zap.String("type", topic.Type),
		zap.String("serialization_format", topic.SerializationFormat),
	)
	return nil
}

// RemoveTopic removes a topic from the active bagfile and from later ones.
func (w *SequentialWriter) RemoveTopic(topic bag.TopicMetadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return errors.ErrWriterNotOpen
	}
	idx := w.topicIndex(topic.Name)
	if idx < 0 {
		return fmt.Errorf("%w: %s", errors.ErrUnknownTopic, topic.Name)
	}

	w.storageMu.RLock()
	err := w.storage.RemoveTopic(w.topics[idx])
	path := w.storage.RelativeFilePath()
	w.storageMu.RUnlock()
	if err != nil {
		return &errors.StorageError{Operation: "remove_topic", Path: path, Err: err}
	}

	w.topics = append(w.topics[:idx], w.topics[idx+1:]...)
	w.aggregator.RemoveTopic(topic.Name)
	if w.pipeline != nil {
		w.pipeline.RemoveTopic(topic.Name)
	}
	return nil
}

// Write records msg. The message is converted first when conversion is configured.
// When the active bagfile is full, Write splits before routing msg, so msg is
// the first message of the new file. Write may block while the cache is full.
func (w *SequentialWriter) Write(ctx context.Context, msg *bag.Message) error {
	if msg == nil {
		return errors.ErrInvalidMessage
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return errors.ErrWriterNotOpen
	}
	if !w.hasTopic(msg.TopicName) {
		return fmt.Errorf("%w: %s", errors.ErrUnknownTopic, msg.TopicName)
	}

	if w.pipeline != nil {
		converted, err := w.pipeline.Convert(msg)
		if err != nil {
			if w.metrics != nil {
				w.metrics.IncConversionFailures(msg.TopicName)
			}
			return err
		}
		msg = converted
	}

	if !w.options.SnapshotMode && w.policy.Enabled() {
		if ok, reason := w.policy.ShouldSplit(w.fileStats(msg)); ok {
			if err := w.split(ctx, reason); err != nil {
				return err
			}
		}
	}

	return w.sink.write(ctx, msg)
}

// TakeSnapshot writes the snapshot buffer as one batch and splits the bag.
func (w *SequentialWriter) TakeSnapshot(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return errors.ErrWriterNotOpen
	}
	if w.snapshot == nil {
		return errors.ErrNotSnapshotMode
	}

	batch := w.snapshot.ring.DrainAll()
	if err := w.writeBatchMode(batch, modeSnapshot); err != nil {
		// The ring is empty and w.mu blocks writers, so the batch fits back
		// in order and the next snapshot retries it.
		for _, msg := range batch {
			w.snapshot.ring.Push(msg)
		}
		return err
	}

	w.logger.Info("snapshot taken", zap.Int("messages", len(batch)))
	return w.split(ctx, ReasonSnapshot)
}

// SplitBagfile closes the active bagfile and opens the next one.
func (w *SequentialWriter) SplitBagfile(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return errors.ErrWriterNotOpen
	}
	return w.split(ctx, ReasonManual)
}

// Close drains pending messages, closes the active bagfile and writes the metadata file.
// The writer is closed afterwards even if an error is returned. Closing a closed
// writer is a no-op.
func (w *SequentialWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return nil
	}
	return w.closeLocked()
}

// Shutdown closes the writer, reporting failures to the error handler instead of returning them.
func (w *SequentialWriter) Shutdown() {
	if err := w.Close(); err != nil {
		w.logger.Error("failed to close bag during shutdown", zap.Error(err))
		w.onError(err)
	}
}

func (w *SequentialWriter) closeLocked() error {
	var errs error

	w.sink.stop()

	closedPath, err := w.closeActiveFile()
	errs = multierr.Append(errs, err)
	w.notifier.Emit(bag.BagSplitInfo{ClosedFile: closedPath})

	metadata := w.aggregator.Snapshot()
	if w.metadataIO != nil {
		if err := w.metadataIO.WriteMetadata(w.options.URI, metadata); err != nil {
			errs = multierr.Append(errs, &errors.StorageError{
				Operation: "write_metadata",
				Path:      w.options.URI,
				Err:       err,
			})
		}
	}

	w.isOpen = false
	w.sink = nil
	w.snapshot = nil
	w.pipeline = nil

	w.logger.Info("bag closed",
		zap.String("uri", w.options.URI),
		zap.Int("files", len(metadata.Files)),
		zap.Uint64("messages", metadata.MessageCount),
		zap.Duration("duration", metadata.Duration),
		zap.Error(errs),
	)
	return errs
}

// split closes the active bagfile and opens the next one. mu must be held.
func (w *SequentialWriter) split(ctx context.Context, reason string) error {
	if err := w.sink.flush(ctx); err != nil {
		return err
	}

	closedPath, errs := w.closeActiveFile()

	w.storageMu.Lock()
	err := w.openFile(w.fileIndex + 1)
	w.storageMu.Unlock()
	if err != nil {
		// Without an active file the writer cannot continue.
		errs = multierr.Append(errs, err)
		w.notifier.Emit(bag.BagSplitInfo{ClosedFile: closedPath})
		return multierr.Append(errs, w.abort())
	}

	openedPath := w.storage.RelativeFilePath()
	if err := w.storage.UpdateMetadata(w.aggregator.Snapshot()); err != nil {
		errs = multierr.Append(errs, &errors.StorageError{Operation: "update_metadata", Path: openedPath, Err: err})
	}

	if w.metrics != nil {
		w.metrics.IncSplits(reason)
	}
	w.logger.Info("bagfile split",
		zap.String("reason", reason),
		zap.String("closed_file", closedPath),
		zap.String("opened_file", openedPath),
	)

	w.notifier.Emit(bag.BagSplitInfo{ClosedFile: closedPath, OpenedFile: openedPath})
	return errs
}

// closeActiveFile records the active file in the metadata, persists it and closes
// the backend handle. The sink must be flushed or stopped first.
func (w *SequentialWriter) closeActiveFile() (string, error) {
	w.storageMu.Lock()
	defer w.storageMu.Unlock()

	if w.storage == nil {
		return "", nil
	}

	var errs error
	path := w.storage.RelativeFilePath()
	info := w.aggregator.CloseFile(w.storage.BagfileSize())

	if err := w.storage.UpdateMetadata(w.aggregator.Snapshot()); err != nil {
		errs = multierr.Append(errs, &errors.StorageError{Operation: "update_metadata", Path: path, Err: err})
	}
	if err := w.storage.Close(); err != nil {
		errs = multierr.Append(errs, &errors.StorageError{Operation: "close", Path: path, Err: err})
	}
	w.storage = nil

	w.logger.Debug("bagfile closed",
		zap.String("path", path),
		zap.Uint64("messages", info.MessageCount),
		zap.Duration("duration", info.Duration),
	)
	return path, errs
}

// openFile opens the bagfile with the given index and declares all topics on it.
// storageMu must be held for writing.
func (w *SequentialWriter) openFile(index int) error {
	options := w.options
	options.URI = bag.BagfileURI(w.options.URI, index)

	rw, err := w.storageFactory.OpenReadWrite(options)
	if err != nil {
		return &errors.StorageError{Operation: "open", Path: options.URI, Err: err}
	}

	for _, topic := range w.topics {
		if err := rw.CreateTopic(topic); err != nil {
			_ = rw.Close()
			return &errors.StorageError{Operation: "create_topic", Path: options.URI, Err: err}
		}
	}

	w.storage = rw
	w.fileIndex = index
	w.aggregator.StartFile(filepath.Base(rw.RelativeFilePath()))
	return nil
}

// abort releases the sink and writes whatever metadata was recorded after a failed split.
func (w *SequentialWriter) abort() error {
	w.sink.stop()
	w.isOpen = false
	w.sink = nil
	w.snapshot = nil

	if w.metadataIO == nil {
		return nil
	}
	if err := w.metadataIO.WriteMetadata(w.options.URI, w.aggregator.Snapshot()); err != nil {
		return &errors.StorageError{Operation: "write_metadata", Path: w.options.URI, Err: err}
	}
	return nil
}

func (w *SequentialWriter) fileStats(next *bag.Message) FileStats {
	count, first := w.aggregator.CurrentFile()
	stats := FileStats{
		MessageCount:   count,
		FirstTimestamp: first,
		NextTimestamp:  time.Unix(0, next.RecvTimestamp),
	}
	if w.policy.NeedsSize() {
		w.storageMu.RLock()
		stats.SizeBytes = w.storage.BagfileSize()
		w.storageMu.RUnlock()
	}
	return stats
}

// writeDirect writes one message on the caller goroutine.
func (w *SequentialWriter) writeDirect(msg *bag.Message) error {
	w.storageMu.RLock()
	defer w.storageMu.RUnlock()

	if w.storage == nil {
		return errors.ErrStorageClosed
	}
	if err := w.storage.Write(msg); err != nil {
		return &errors.StorageError{Operation: "write", Path: w.storage.RelativeFilePath(), Err: err}
	}

	w.aggregator.Record(msg)
	if w.metrics != nil {
		w.metrics.IncMessagesWritten(msg.TopicName, modeDirect)
	}
	return nil
}

// writeBatch is the cache consumer's write function.
func (w *SequentialWriter) writeBatch(batch []*bag.Message) error {
	return w.writeBatchMode(batch, modeCached)
}

func (w *SequentialWriter) writeBatchMode(batch []*bag.Message, mode string) error {
	w.storageMu.RLock()
	defer w.storageMu.RUnlock()

	if w.storage == nil {
		return errors.ErrStorageClosed
	}
	if err := w.storage.WriteBatch(batch); err != nil {
		return &errors.StorageError{Operation: "write", Path: w.storage.RelativeFilePath(), Err: err}
	}

	w.aggregator.Record(batch...)
	if w.metrics != nil {
		for _, msg := range batch {
			w.metrics.IncMessagesWritten(msg.TopicName, mode)
		}
	}
	return nil
}

func (w *SequentialWriter) reportBackgroundError(err error) {
	if w.metrics != nil {
		w.metrics.IncBackgroundWriteErrors()
	}
	w.onError(err)
}

func (w *SequentialWriter) hasTopic(name string) bool {
	return w.topicIndex(name) >= 0
}

func (w *SequentialWriter) topicIndex(name string) int {
	for i, t := range w.topics {
		if t.Name == name {
			return i
		}
	}
	return -1
}

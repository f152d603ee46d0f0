package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/storage"
)

// Uploader copies a local file to remote object storage.
type Uploader interface {
	// Upload copies the file at localPath to key.
	Upload(ctx context.Context, localPath string, key string) error
	// Backend names the remote store for logs and metrics.
	Backend() string
	Close() error
}

// ArchiveConfig configures an Archiver.
type ArchiveConfig struct {
	// Prefix is prepended to every object key.
	Prefix string
	// MaxConcurrentUploads bounds the uploads in flight. Values below 1 mean 1.
	MaxConcurrentUploads int
}

// Archiver ships closed bagfiles and the final metadata file to object storage
// in the background.
type Archiver struct {
	uploader Uploader
	prefix   string
	logger   *zap.Logger
	metrics  MetricsCollector

	ctx    context.Context
	sem    *semaphore.Weighted
	group  errgroup.Group
	mu     sync.Mutex
	errs   error
	queued int
}

// NewArchiver creates an archiver. Uploads run until ctx is cancelled.
func NewArchiver(ctx context.Context, uploader Uploader, cfg ArchiveConfig, logger *zap.Logger, metrics MetricsCollector) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.MaxConcurrentUploads
	if limit < 1 {
		limit = 1
	}
	return &Archiver{
		uploader: uploader,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		logger:   logger.With(zap.String("backend", uploader.Backend())),
		metrics:  metrics,
		ctx:      ctx,
		sem:      semaphore.NewWeighted(int64(limit)),
	}
}

// ObjectKey returns the key for a file inside a bag directory:
// <prefix>/<bag name>/<file name>.
func (a *Archiver) ObjectKey(localPath string) string {
	key := path.Join(bag.BaseName(filepath.Dir(localPath)), filepath.Base(localPath))
	if a.prefix != "" {
		key = path.Join(a.prefix, key)
	}
	return key
}

// Enqueue schedules localPath for upload. It never blocks on the upload itself.
func (a *Archiver) Enqueue(localPath string) {
	key := a.ObjectKey(localPath)

	a.mu.Lock()
	a.queued++
	a.mu.Unlock()

	a.group.Go(func() error {
		if err := a.sem.Acquire(a.ctx, 1); err != nil {
			return a.record(localPath, fmt.Errorf("upload of %s not started: %w", localPath, err))
		}
		defer a.sem.Release(1)

		start := time.Now()
		err := a.uploader.Upload(a.ctx, localPath, key)
		if a.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			a.metrics.IncUploads(a.uploader.Backend(), status)
			a.metrics.ObserveUploadDuration(a.uploader.Backend(), time.Since(start).Seconds())
		}
		if err != nil {
			return a.record(localPath, err)
		}

		a.logger.Info("bagfile archived",
			zap.String("path", localPath),
			zap.String("key", key),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	})
}

func (a *Archiver) record(localPath string, err error) error {
	a.logger.Error("archive upload failed", zap.String("path", localPath), zap.Error(err))

	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = multierr.Append(a.errs, err)
	return err
}

// Wait blocks until every enqueued upload finished and returns all upload errors.
func (a *Archiver) Wait() error {
	_ = a.group.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info("archive drained", zap.Int("uploads", a.queued))
	return a.errs
}

// Close waits for pending uploads and closes the uploader.
func (a *Archiver) Close() error {
	return multierr.Append(a.Wait(), a.uploader.Close())
}

// WrapFactory returns a factory whose bagfiles are enqueued when closed.
func (a *Archiver) WrapFactory(factory storage.Factory) storage.Factory {
	return &archivingFactory{Factory: factory, archiver: a}
}

// WrapMetadataIO returns a MetadataIO that enqueues the metadata file after each write.
func (a *Archiver) WrapMetadataIO(metadataIO storage.MetadataIO) storage.MetadataIO {
	return &archivingMetadataIO{MetadataIO: metadataIO, archiver: a}
}

type archivingFactory struct {
	storage.Factory
	archiver *Archiver
}

func (f *archivingFactory) OpenReadWrite(options bag.StorageOptions) (storage.ReadWriter, error) {
	rw, err := f.Factory.OpenReadWrite(options)
	if err != nil {
		return nil, err
	}
	return &archivingBagfile{ReadWriter: rw, archiver: f.archiver}, nil
}

type archivingBagfile struct {
	storage.ReadWriter
	archiver *Archiver
	once     sync.Once
}

func (b *archivingBagfile) Close() error {
	if err := b.ReadWriter.Close(); err != nil {
		return err
	}
	b.once.Do(func() {
		b.archiver.Enqueue(b.RelativeFilePath())
	})
	return nil
}

type archivingMetadataIO struct {
	storage.MetadataIO
	archiver *Archiver
}

func (m *archivingMetadataIO) WriteMetadata(uri string, metadata bag.BagMetadata) error {
	if err := m.MetadataIO.WriteMetadata(uri, metadata); err != nil {
		return err
	}
	m.archiver.Enqueue(filepath.Join(uri, MetadataFilename))
	return nil
}

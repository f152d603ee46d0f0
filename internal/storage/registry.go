package storage

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/storage"
)

// Storage plugin identifiers.
const (
	StorageIDAvro    = "avro"
	StorageIDParquet = "parquet"
)

// DefaultStorageID is used when options leave the storage id empty.
const DefaultStorageID = StorageIDAvro

// Ensure implementation satisfies interface at compile time.
var _ storage.Factory = (*Registry)(nil)

// OpenFunc creates a bagfile for the given options.
type OpenFunc func(options bag.StorageOptions, logger *zap.Logger, metrics MetricsCollector) (storage.ReadWriter, error)

// Plugin describes a storage format.
type Plugin struct {
	Open             OpenFunc
	MinimumSplitSize uint64
	// BlockCodecs are the file-mode codecs the format applies itself.
	// zstd is always accepted and falls back to a compressed stream.
	BlockCodecs []string
}

// Registry is the storage plugin factory keyed by storage id.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	logger  *zap.Logger
	metrics MetricsCollector
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger passed to opened bagfiles.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector passed to opened bagfiles.
func WithMetrics(metrics MetricsCollector) RegistryOption {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// NewRegistry creates a registry with the avro and parquet plugins.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		plugins: make(map[string]Plugin),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Register(StorageIDAvro, Plugin{
		Open:             openAvroBagfile,
		MinimumSplitSize: avroMinimumSplitSize,
		BlockCodecs:      avroBlockCodecs,
	})
	r.Register(StorageIDParquet, Plugin{
		Open:             openParquetBagfile,
		MinimumSplitSize: parquetMinimumSplitSize,
		BlockCodecs:      parquetBlockCodecs,
	})
	return r
}

// Register adds or replaces a plugin.
func (r *Registry) Register(storageID string, plugin Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins[storageID] = plugin
}

// StorageIDs returns the registered plugin ids in sorted order.
func (r *Registry) StorageIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OpenReadWrite creates the bagfile at options.URI with the selected plugin.
func (r *Registry) OpenReadWrite(options bag.StorageOptions) (storage.ReadWriter, error) {
	plugin, err := r.lookup(options.StorageID)
	if err != nil {
		return nil, err
	}
	if err := ValidateCompression(options, plugin.BlockCodecs); err != nil {
		return nil, &errors.ConfigError{Field: "compression_format", Reason: err.Error()}
	}

	rw, err := plugin.Open(options, r.logger.With(zap.String("storage_id", resolveID(options.StorageID))), r.metrics)
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncStorageErrors(resolveID(options.StorageID), "open")
		}
		return nil, err
	}
	return rw, nil
}

// MinimumSplitFileSize returns the smallest max bagfile size the plugin honors.
func (r *Registry) MinimumSplitFileSize(storageID string) (uint64, error) {
	plugin, err := r.lookup(storageID)
	if err != nil {
		return 0, err
	}
	return plugin.MinimumSplitSize, nil
}

func (r *Registry) lookup(storageID string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, ok := r.plugins[resolveID(storageID)]
	if !ok {
		return Plugin{}, fmt.Errorf("%w: storage %q", errors.ErrPluginNotFound, storageID)
	}
	return plugin, nil
}

func resolveID(storageID string) string {
	if storageID == "" {
		return DefaultStorageID
	}
	return storageID
}

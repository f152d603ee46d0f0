package converter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/converter"
)

// Ensure implementation satisfies interface at compile time.
var _ converter.Factory = (*Registry)(nil)

// Serialization formats with built-in plugins.
const (
	FormatJSON        = "json"
	FormatMsgpack     = "msgpack"
	FormatYAML        = "yaml"
	FormatCloudEvents = "cloudevents"
)

// Registry resolves converter plugins by serialization format.
type Registry struct {
	mu            sync.RWMutex
	deserializers map[string]func() converter.Deserializer
	serializers   map[string]func() converter.Serializer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		deserializers: make(map[string]func() converter.Deserializer),
		serializers:   make(map[string]func() converter.Serializer),
	}
}

// NewDefaultRegistry creates a registry with the built-in plugins registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(FormatJSON, func() Plugin { return jsonPlugin{} })
	r.Register(FormatMsgpack, func() Plugin { return msgpackPlugin{} })
	r.Register(FormatYAML, func() Plugin { return yamlPlugin{} })
	r.Register(FormatCloudEvents, func() Plugin { return newCloudEventsPlugin() })

	return r
}

// Plugin converts in both directions for one format.
type Plugin interface {
	converter.Deserializer
	converter.Serializer
}

// Register adds a plugin serving both directions of format.
func (r *Registry) Register(format string, newPlugin func() Plugin) {
	r.RegisterDeserializer(format, func() converter.Deserializer { return newPlugin() })
	r.RegisterSerializer(format, func() converter.Serializer { return newPlugin() })
}

// RegisterDeserializer adds or replaces the deserializer constructor for format.
func (r *Registry) RegisterDeserializer(format string, ctor func() converter.Deserializer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deserializers[format] = ctor
}

// RegisterSerializer adds or replaces the serializer constructor for format.
func (r *Registry) RegisterSerializer(format string, ctor func() converter.Serializer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.serializers[format] = ctor
}

// LoadDeserializer returns a new deserializer for format.
func (r *Registry) LoadDeserializer(format string) (converter.Deserializer, error) {
	r.mu.RLock()
	ctor, ok := r.deserializers[format]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: deserializer for format %q", errors.ErrPluginNotFound, format)
	}
	return ctor(), nil
}

// LoadSerializer returns a new serializer for format.
func (r *Registry) LoadSerializer(format string) (converter.Serializer, error) {
	r.mu.RLock()
	ctor, ok := r.serializers[format]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: serializer for format %q", errors.ErrPluginNotFound, format)
	}
	return ctor(), nil
}

// Formats returns the formats that can be both read and written, sorted.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]string, 0, len(r.deserializers))
	for format := range r.deserializers {
		if _, ok := r.serializers[format]; ok {
			formats = append(formats, format)
		}
	}
	sort.Strings(formats)
	return formats
}

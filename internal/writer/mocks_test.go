package writer

import (
	"fmt"
	"sync"

	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/converter"
	"github.com/jittakal/kafbag/pkg/storage"
)

// mockStorage reports its size as the number of messages written since open.
type mockStorage struct {
	factory *mockFactory
	path    string

	mu         sync.Mutex
	topics     []bag.TopicMetadata
	writes     []*bag.Message
	batches    [][]*bag.Message
	closed     bool
	writeErr   error
	batchErr   error
	persistErr error
}

func (s *mockStorage) Write(msg *bag.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, msg)
	return nil
}

func (s *mockStorage) WriteBatch(msgs []*bag.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batchErr != nil {
		return s.batchErr
	}
	s.batches = append(s.batches, msgs)
	return nil
}

func (s *mockStorage) CreateTopic(topic bag.TopicMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.topics = append(s.topics, topic)
	return nil
}

func (s *mockStorage) RemoveTopic(topic bag.TopicMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.topics {
		if t.Name == topic.Name {
			s.topics = append(s.topics[:i], s.topics[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("topic %s not declared", topic.Name)
}

func (s *mockStorage) BagfileSize() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.writes)
	for _, b := range s.batches {
		n += len(b)
	}
	return uint64(n)
}

func (s *mockStorage) RelativeFilePath() string {
	return s.path
}

func (s *mockStorage) UpdateMetadata(metadata bag.BagMetadata) error {
	if s.persistErr != nil {
		return s.persistErr
	}
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()

	s.factory.persisted = append(s.factory.persisted, metadata)
	return nil
}

func (s *mockStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// messages returns everything written to this file, singles and batches in call order.
func (s *mockStorage) messages() []*bag.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]*bag.Message(nil), s.writes...)
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

type mockFactory struct {
	mu        sync.Mutex
	minSize   uint64
	minErr    error
	probes    int
	opened    []*mockStorage
	openErrAt int
	persisted []bag.BagMetadata
	configure func(s *mockStorage)
}

var _ storage.Factory = (*mockFactory)(nil)

func newMockFactory() *mockFactory {
	return &mockFactory{openErrAt: -1}
}

func (f *mockFactory) OpenReadWrite(options bag.StorageOptions) (storage.ReadWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openErrAt == len(f.opened) {
		return nil, fmt.Errorf("cannot open %s", options.URI)
	}
	s := &mockStorage{factory: f, path: options.URI}
	if f.configure != nil {
		f.configure(s)
	}
	f.opened = append(f.opened, s)
	return s, nil
}

func (f *mockFactory) MinimumSplitFileSize(storageID string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.probes++
	return f.minSize, f.minErr
}

func (f *mockFactory) storages() []*mockStorage {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*mockStorage(nil), f.opened...)
}

func (f *mockFactory) persists() []bag.BagMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]bag.BagMetadata(nil), f.persisted...)
}

func (f *mockFactory) allMessages() []*bag.Message {
	var out []*bag.Message
	for _, s := range f.storages() {
		out = append(out, s.messages()...)
	}
	return out
}

type mockMetadataIO struct {
	mu      sync.Mutex
	written []bag.BagMetadata
	uris    []string
	err     error
}

var _ storage.MetadataIO = (*mockMetadataIO)(nil)

func (m *mockMetadataIO) WriteMetadata(uri string, metadata bag.BagMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uris = append(m.uris, uri)
	m.written = append(m.written, metadata)
	return m.err
}

func (m *mockMetadataIO) ReadMetadata(uri string) (bag.BagMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.written) == 0 {
		return bag.BagMetadata{}, fmt.Errorf("no metadata at %s", uri)
	}
	return m.written[len(m.written)-1], nil
}

func (m *mockMetadataIO) MetadataFileExists(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.written) > 0
}

// countingConverterFactory wraps a factory and counts lookups.
type countingConverterFactory struct {
	inner   converter.Factory
	mu      sync.Mutex
	lookups int
}

func (c *countingConverterFactory) LoadDeserializer(format string) (converter.Deserializer, error) {
	c.mu.Lock()
	c.lookups++
	c.mu.Unlock()
	return c.inner.LoadDeserializer(format)
}

func (c *countingConverterFactory) LoadSerializer(format string) (converter.Serializer, error) {
	c.mu.Lock()
	c.lookups++
	c.mu.Unlock()
	return c.inner.LoadSerializer(format)
}

type mockMetrics struct {
	mu               sync.Mutex
	written          map[string]int
	conversionErrors int
	splits           map[string]int
	backgroundErrors int
	dropped          float64
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{written: make(map[string]int), splits: make(map[string]int)}
}

func (m *mockMetrics) IncMessagesWritten(topic string, mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written[mode]++
}

func (m *mockMetrics) IncConversionFailures(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversionErrors++
}

func (m *mockMetrics) IncSplits(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.splits[reason]++
}

func (m *mockMetrics) IncBackgroundWriteErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backgroundErrors++
}

func (m *mockMetrics) SetCacheUsage(bytes float64, messages float64) {}

func (m *mockMetrics) AddSnapshotDropped(count float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped += count
}

package writer

import (
	"sync"
	"time"

	"github.com/jittakal/kafbag/pkg/bag"
)

// fileStats accumulates statistics for the active bagfile.
type fileStats struct {
	path     string
	count    uint64
	minTime  int64
	maxTime  int64
	byTopic  map[string]uint64
	hasStart bool
}

func newFileStats(path string) *fileStats {
	return &fileStats{path: path, byTopic: make(map[string]uint64)}
}

func (f *fileStats) record(msg *bag.Message) {
	ts := msg.RecvTimestamp
	if !f.hasStart || ts < f.minTime {
		f.minTime = ts
	}
	if !f.hasStart || ts > f.maxTime {
		f.maxTime = ts
	}
	f.hasStart = true
	f.count++
	f.byTopic[msg.TopicName]++
}

func (f *fileStats) info() bag.FileInfo {
	info := bag.FileInfo{Path: f.path, MessageCount: f.count}
	if f.hasStart {
		info.StartingTime = time.Unix(0, f.minTime)
		info.Duration = time.Duration(f.maxTime - f.minTime)
	}
	return info
}

// Aggregator maintains the in-progress BagMetadata of a recording.
//
// Files holds closed bagfiles only, and the aggregate counters are derived from
// them, so every snapshot satisfies MessageCount == sum of Files[i].MessageCount.
// Record may be called from the cache consumer goroutine while the writer
// goroutine reads; all methods are safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	metadata bag.BagMetadata

	topicOrder  []string
	topics      map[string]bag.TopicMetadata
	topicCounts map[string]uint64

	current *fileStats
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.Reset(bag.StorageOptions{})
	return a
}

// Reset discards all state and starts metadata for a new bag.
func (a *Aggregator) Reset(options bag.StorageOptions) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.metadata = bag.BagMetadata{
		Version:           bag.MetadataVersion,
		StorageIdentifier: options.StorageID,
		CompressionFormat: options.CompressionFormat,
		CompressionMode:   options.CompressionMode,
	}
	if len(options.CustomData) > 0 {
		a.metadata.CustomData = make(map[string]string, len(options.CustomData))
		for k, v := range options.CustomData {
			a.metadata.CustomData[k] = v
		}
	}
	a.topicOrder = nil
	a.topics = make(map[string]bag.TopicMetadata)
	a.topicCounts = make(map[string]uint64)
	a.current = nil
}

// StartFile begins statistics for a new bagfile at the given relative path.
func (a *Aggregator) StartFile(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.metadata.RelativeFilePaths = append(a.metadata.RelativeFilePaths, path)
	a.current = newFileStats(path)
}

// AddTopic registers a topic. Registering a known topic is a no-op.
func (a *Aggregator) AddTopic(topic bag.TopicMetadata) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.topics[topic.Name]; ok {
		return
	}
	a.topicOrder = append(a.topicOrder, topic.Name)
	a.topics[topic.Name] = topic
}

// RemoveTopic forgets a topic and its message count.
func (a *Aggregator) RemoveTopic(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.topics[name]; !ok {
		return
	}
	delete(a.topics, name)
	delete(a.topicCounts, name)
	for i, n := range a.topicOrder {
		if n == name {
			a.topicOrder = append(a.topicOrder[:i], a.topicOrder[i+1:]...)
			break
		}
	}
}

// Record accounts messages that were written to the active bagfile.
func (a *Aggregator) Record(msgs ...*bag.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return
	}
	for _, msg := range msgs {
		a.current.record(msg)
	}
}

// CurrentFile returns the number of messages in the active file and its earliest timestamp.
func (a *Aggregator) CurrentFile() (uint64, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || !a.current.hasStart {
		return 0, time.Time{}
	}
	return a.current.count, time.Unix(0, a.current.minTime)
}

// CloseFile folds the active file into the closed file list and recomputes
// the aggregate fields. size is the final bagfile size reported by the backend.
func (a *Aggregator) CloseFile(size uint64) bag.FileInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return bag.FileInfo{}
	}

	info := a.current.info()
	a.metadata.Files = append(a.metadata.Files, info)
	a.metadata.BagSize += size
	for topic, n := range a.current.byTopic {
		if _, ok := a.topics[topic]; ok {
			a.topicCounts[topic] += n
		}
	}
	a.current = nil

	a.recompute()
	return info
}

// Snapshot returns a deep copy of the current metadata.
func (a *Aggregator) Snapshot() bag.BagMetadata {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.metadata.Clone()
	out.TopicsWithMessageCount = make([]bag.TopicInformation, 0, len(a.topicOrder))
	for _, name := range a.topicOrder {
		out.TopicsWithMessageCount = append(out.TopicsWithMessageCount, bag.TopicInformation{
			Topic:        a.topics[name],
			MessageCount: a.topicCounts[name],
		})
	}
	return out
}

// recompute derives the aggregate counters from the closed files.
// Duration spans from the earliest start to the latest end over files with messages,
// which is not the sum of per-file durations when timestamps overlap a split.
func (a *Aggregator) recompute() {
	var (
		count    uint64
		start    time.Time
		end      time.Time
		hasStart bool
	)
	for _, f := range a.metadata.Files {
		count += f.MessageCount
		if f.MessageCount == 0 {
			continue
		}
		if !hasStart || f.StartingTime.Before(start) {
			start = f.StartingTime
		}
		if !hasStart || f.End().After(end) {
			end = f.End()
		}
		hasStart = true
	}

	a.metadata.MessageCount = count
	if hasStart {
		a.metadata.StartingTime = start
		a.metadata.Duration = end.Sub(start)
	}
}

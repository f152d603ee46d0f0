package writer

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jittakal/kafbag/pkg/bag"
)

func TestAggregator_Lifecycle(t *testing.T) {
	a := NewAggregator()
	a.Reset(bag.StorageOptions{
		StorageID:         "avro",
		CompressionFormat: "zstd",
		CompressionMode:   bag.CompressionModeFile,
		CustomData:        map[string]string{"k": "v"},
	})
	a.AddTopic(bag.TopicMetadata{Name: "/a", Type: "A"})
	a.AddTopic(bag.TopicMetadata{Name: "/b", Type: "B"})
	a.AddTopic(bag.TopicMetadata{Name: "/a", Type: "ignored"})

	a.StartFile("bag_0")
	a.Record(
		&bag.Message{TopicName: "/a", RecvTimestamp: 10},
		&bag.Message{TopicName: "/b", RecvTimestamp: 30},
		&bag.Message{TopicName: "/a", RecvTimestamp: 20},
	)

	inProgress := a.Snapshot()
	if inProgress.MessageCount != 0 || len(inProgress.Files) != 0 {
		t.Errorf("in-progress snapshot counts open file: %+v", inProgress)
	}
	if count, first := a.CurrentFile(); count != 3 || first.UnixNano() != 10 {
		t.Errorf("CurrentFile() = %d, %d; want 3, 10", count, first.UnixNano())
	}

	info := a.CloseFile(1024)
	want := bag.FileInfo{Path: "bag_0", StartingTime: time.Unix(0, 10), Duration: 20, MessageCount: 3}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("CloseFile() mismatch (-want +got):\n%s", diff)
	}

	a.StartFile("bag_1")
	a.Record(&bag.Message{TopicName: "/b", RecvTimestamp: 5})
	a.CloseFile(512)

	m := a.Snapshot()
	if m.Version != bag.MetadataVersion || m.StorageIdentifier != "avro" {
		t.Errorf("header = %d/%q", m.Version, m.StorageIdentifier)
	}
	if m.CompressionFormat != "zstd" || m.CompressionMode != bag.CompressionModeFile {
		t.Errorf("compression = %q/%q", m.CompressionFormat, m.CompressionMode)
	}
	if m.BagSize != 1536 {
		t.Errorf("BagSize = %d, want 1536", m.BagSize)
	}
	if m.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4", m.MessageCount)
	}
	if m.StartingTime.UnixNano() != 5 || m.Duration != 25 {
		t.Errorf("aggregate = %d + %v, want 5 + 25ns", m.StartingTime.UnixNano(), m.Duration)
	}
	if diff := cmp.Diff([]string{"bag_0", "bag_1"}, m.RelativeFilePaths); diff != "" {
		t.Errorf("RelativeFilePaths mismatch (-want +got):\n%s", diff)
	}

	wantTopics := []bag.TopicInformation{
		{Topic: bag.TopicMetadata{Name: "/a", Type: "A"}, MessageCount: 2},
		{Topic: bag.TopicMetadata{Name: "/b", Type: "B"}, MessageCount: 2},
	}
	if diff := cmp.Diff(wantTopics, m.TopicsWithMessageCount); diff != "" {
		t.Errorf("TopicsWithMessageCount mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregator_SnapshotIsDeepCopy(t *testing.T) {
	a := NewAggregator()
	a.Reset(bag.StorageOptions{CustomData: map[string]string{"k": "v"}})
	a.StartFile("bag_0")

	m := a.Snapshot()
	m.RelativeFilePaths[0] = "mutated"
	m.CustomData["k"] = "mutated"

	again := a.Snapshot()
	if again.RelativeFilePaths[0] != "bag_0" || again.CustomData["k"] != "v" {
		t.Errorf("snapshot shares state with aggregator: %+v", again)
	}
}

func TestAggregator_RemoveTopic(t *testing.T) {
	a := NewAggregator()
	a.AddTopic(bag.TopicMetadata{Name: "/a"})
	a.AddTopic(bag.TopicMetadata{Name: "/b"})
	a.StartFile("bag_0")
	a.Record(&bag.Message{TopicName: "/a", RecvTimestamp: 1})
	a.RemoveTopic("/a")
	a.RemoveTopic("/missing")
	a.CloseFile(0)

	m := a.Snapshot()
	if len(m.TopicsWithMessageCount) != 1 || m.TopicsWithMessageCount[0].Topic.Name != "/b" {
		t.Errorf("topics = %+v, want only /b", m.TopicsWithMessageCount)
	}
	if m.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", m.MessageCount)
	}
}

func TestAggregator_RecordWithoutFile(t *testing.T) {
	a := NewAggregator()
	a.Record(&bag.Message{TopicName: "/a", RecvTimestamp: 1})

	if info := a.CloseFile(10); info != (bag.FileInfo{}) {
		t.Errorf("CloseFile() without file = %+v, want zero", info)
	}
	if m := a.Snapshot(); m.MessageCount != 0 || m.BagSize != 0 {
		t.Errorf("snapshot = %+v, want empty", m)
	}
}

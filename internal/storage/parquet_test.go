package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap/zaptest"

	"github.com/jittakal/kafbag/pkg/bag"
)

func TestParquetBagfile_WriteAndRead(t *testing.T) {
	tests := []struct {
		name   string
		format string
	}{
		{"uncompressed", ""},
		{"snappy", "snappy"},
		{"zstd", "zstd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri := filepath.Join(t.TempDir(), "bag_0")
			options := bag.StorageOptions{URI: uri}
			if tt.format != "" {
				options.CompressionMode = bag.CompressionModeFile
				options.CompressionFormat = tt.format
			}

			metrics := newMockMetrics()
			rw, err := openParquetBagfile(options, zaptest.NewLogger(t), metrics)
			if err != nil {
				t.Fatalf("openParquetBagfile() error = %v", err)
			}
			if got, want := rw.RelativeFilePath(), uri+".parquet"; got != want {
				t.Errorf("RelativeFilePath() = %v, want %v", got, want)
			}

			topics := []bag.TopicMetadata{
				{Name: "/a", Type: "A", SerializationFormat: "json"},
				{Name: "/b", Type: "B", SerializationFormat: "json"},
			}
			for _, topic := range topics {
				if err := rw.CreateTopic(topic); err != nil {
					t.Fatalf("CreateTopic() error = %v", err)
				}
			}

			if err := rw.Write(&bag.Message{TopicName: "/a", Data: []byte("one"), RecvTimestamp: 1, SendTimestamp: 1}); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			afterFirst := rw.BagfileSize()
			if afterFirst == 0 {
				t.Errorf("BagfileSize() = 0 after flushed write")
			}
			if err := rw.WriteBatch([]*bag.Message{
				{TopicName: "/b", Data: []byte("two"), RecvTimestamp: 2},
				{TopicName: "/a", Data: []byte("three"), RecvTimestamp: 3},
			}); err != nil {
				t.Fatalf("WriteBatch() error = %v", err)
			}
			if rw.BagfileSize() <= afterFirst {
				t.Errorf("BagfileSize() did not grow: %d <= %d", rw.BagfileSize(), afterFirst)
			}
			if err := rw.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			rows, err := parquet.ReadFile[MessageRow](rw.RelativeFilePath())
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			want := []MessageRow{
				{TopicName: "/a", RecvTimestamp: 1, SendTimestamp: 1, Data: []byte("one")},
				{TopicName: "/b", RecvTimestamp: 2, Data: []byte("two")},
				{TopicName: "/a", RecvTimestamp: 3, Data: []byte("three")},
			}
			if diff := cmp.Diff(want, rows); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}

			file, err := os.Open(rw.RelativeFilePath())
			if err != nil {
				t.Fatal(err)
			}
			defer file.Close()
			info, err := file.Stat()
			if err != nil {
				t.Fatal(err)
			}
			pf, err := parquet.OpenFile(file, info.Size())
			if err != nil {
				t.Fatalf("OpenFile() error = %v", err)
			}
			raw, ok := pf.Lookup(parquetTopicsKey)
			if !ok {
				t.Fatalf("footer has no %s key", parquetTopicsKey)
			}
			var gotTopics []bag.TopicMetadata
			if err := json.Unmarshal([]byte(raw), &gotTopics); err != nil {
				t.Fatalf("topics footer: %v", err)
			}
			if diff := cmp.Diff(topics, gotTopics); diff != "" {
				t.Errorf("topics mismatch (-want +got):\n%s", diff)
			}

			if metrics.filesWritten["parquet/success"] != 1 {
				t.Errorf("files written = %v, want one success", metrics.filesWritten)
			}
		})
	}
}

func TestCompressionCodec(t *testing.T) {
	tests := []struct {
		name  string
		codec string
	}{
		{"snappy", "snappy"},
		{"gzip", "GZIP"},
		{"lz4", "lz4"},
		{"zstd", "zstd"},
		{"none", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if opt := compressionCodec(tt.codec); opt == nil {
				t.Errorf("compressionCodec(%q) = nil", tt.codec)
			}
		})
	}
}

func TestBagfile_SizeTracksDisk(t *testing.T) {
	for _, storageID := range []string{StorageIDAvro, StorageIDParquet} {
		t.Run(storageID, func(t *testing.T) {
			uri := filepath.Join(t.TempDir(), "rec_0")
			rw, err := NewRegistry(WithLogger(zaptest.NewLogger(t))).OpenReadWrite(bag.StorageOptions{URI: uri, StorageID: storageID})
			if err != nil {
				t.Fatalf("OpenReadWrite() error = %v", err)
			}
			if err := rw.CreateTopic(bag.TopicMetadata{Name: "/a", Type: "A", SerializationFormat: "json"}); err != nil {
				t.Fatalf("CreateTopic() error = %v", err)
			}

			payload := make([]byte, 1000)
			previous := rw.BagfileSize()
			for i := 0; i < 5; i++ {
				if err := rw.Write(&bag.Message{TopicName: "/a", Data: payload, RecvTimestamp: int64(i + 1)}); err != nil {
					t.Fatalf("Write() error = %v", err)
				}
				size := rw.BagfileSize()
				if size <= previous {
					t.Errorf("write %d: BagfileSize() = %d, want more than %d", i, size, previous)
				}
				info, err := os.Stat(rw.RelativeFilePath())
				if err != nil {
					t.Fatal(err)
				}
				if uint64(info.Size()) != size {
					t.Errorf("write %d: BagfileSize() = %d, on disk %d", i, size, info.Size())
				}
				previous = size
			}
			if err := rw.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
		})
	}
}

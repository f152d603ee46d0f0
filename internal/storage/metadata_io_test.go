package storage

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
)

func sampleMetadata() bag.BagMetadata {
	start := time.Unix(1_700_000_000, 100)
	return bag.BagMetadata{
		Version:           bag.MetadataVersion,
		BagSize:           4096,
		StorageIdentifier: StorageIDAvro,
		RelativeFilePaths: []string{"rec_0.avro", "rec_1.avro"},
		Duration:          3 * time.Second,
		StartingTime:      start,
		MessageCount:      5,
		TopicsWithMessageCount: []bag.TopicInformation{
			{Topic: bag.TopicMetadata{ID: 1, Name: "/orders", Type: "Order", SerializationFormat: "json", OfferedQoSProfiles: "- depth: 10"}, MessageCount: 3},
			{Topic: bag.TopicMetadata{ID: 2, Name: "/payments", Type: "Payment", SerializationFormat: "json", TypeDescriptionHash: "abc"}, MessageCount: 2},
		},
		CompressionFormat: "zstd",
		CompressionMode:   bag.CompressionModeFile,
		Files: []bag.FileInfo{
			{Path: "rec_0.avro", StartingTime: start, Duration: time.Second, MessageCount: 3},
			{Path: "rec_1.avro", StartingTime: start.Add(2 * time.Second), Duration: time.Second, MessageCount: 2},
		},
		CustomData: map[string]string{"recording_id": "r-1"},
	}
}

func TestYAMLMetadataIO_RoundTrip(t *testing.T) {
	uri := filepath.Join(t.TempDir(), "rec")
	mio := NewYAMLMetadataIO()

	if mio.MetadataFileExists(uri) {
		t.Fatalf("MetadataFileExists() = true before write")
	}

	want := sampleMetadata()
	if err := mio.WriteMetadata(uri, want); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}
	if !mio.MetadataFileExists(uri) {
		t.Errorf("MetadataFileExists() = false after write")
	}

	got, err := mio.ReadMetadata(uri)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestYAMLMetadataIO_Layout(t *testing.T) {
	uri := t.TempDir()
	if err := NewYAMLMetadataIO().WriteMetadata(uri, sampleMetadata()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(uri, MetadataFilename))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"bagfile_information:",
		"storage_identifier: avro",
		"nanoseconds_since_epoch: 1700000000000000100",
		"relative_file_paths:",
		"topics_with_message_count:",
		"bag_size: 4096",
	} {
		if !strings.Contains(string(data), key) {
			t.Errorf("metadata.yaml missing %q", key)
		}
	}

	entries, err := os.ReadDir(uri)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("bag directory has %d entries, want only %s", len(entries), MetadataFilename)
	}
}

func TestYAMLMetadataIO_Overwrite(t *testing.T) {
	uri := t.TempDir()
	mio := NewYAMLMetadataIO()

	first := sampleMetadata()
	second := sampleMetadata()
	second.MessageCount = 99

	if err := mio.WriteMetadata(uri, first); err != nil {
		t.Fatal(err)
	}
	if err := mio.WriteMetadata(uri, second); err != nil {
		t.Fatal(err)
	}

	got, err := mio.ReadMetadata(uri)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount != 99 {
		t.Errorf("MessageCount = %d, want 99", got.MessageCount)
	}
}

func TestYAMLMetadataIO_ReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing file", ""},
		{"malformed yaml", "bagfile_information: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri := t.TempDir()
			if tt.content != "" {
				if err := os.WriteFile(filepath.Join(uri, MetadataFilename), []byte(tt.content), 0644); err != nil {
					t.Fatal(err)
				}
			}

			_, err := NewYAMLMetadataIO().ReadMetadata(uri)
			var storageErr *errors.StorageError
			if !stderrors.As(err, &storageErr) || storageErr.Operation != "read_metadata" {
				t.Errorf("ReadMetadata() error = %v, want read_metadata StorageError", err)
			}
		})
	}
}

func TestTimestampField_ZeroTime(t *testing.T) {
	if got := toTimestamp(time.Time{}); got.NanosecondsSinceEpoch != 0 {
		t.Errorf("toTimestamp(zero) = %d, want 0", got.NanosecondsSinceEpoch)
	}
	if got := (timestampField{}).time(); !got.IsZero() {
		t.Errorf("time() of 0 = %v, want zero time", got)
	}
}

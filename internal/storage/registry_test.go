package storage

import (
	stderrors "errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
)

func TestRegistry_MinimumSplitFileSize(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name      string
		storageID string
		want      uint64
		wantErr   bool
	}{
		{"avro", StorageIDAvro, avroMinimumSplitSize, false},
		{"parquet", StorageIDParquet, parquetMinimumSplitSize, false},
		{"default", "", avroMinimumSplitSize, false},
		{"unknown", "sqlite3", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.MinimumSplitFileSize(tt.storageID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MinimumSplitFileSize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !stderrors.Is(err, errors.ErrPluginNotFound) {
				t.Errorf("error = %v, want ErrPluginNotFound", err)
			}
			if got != tt.want {
				t.Errorf("MinimumSplitFileSize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistry_OpenReadWrite(t *testing.T) {
	metrics := newMockMetrics()
	r := NewRegistry(WithLogger(zaptest.NewLogger(t)), WithMetrics(metrics))

	tests := []struct {
		name       string
		options    bag.StorageOptions
		wantSuffix string
		wantConfig bool
		wantErr    error
	}{
		{
			name:       "default avro",
			options:    bag.StorageOptions{},
			wantSuffix: ".avro",
		},
		{
			name:       "parquet",
			options:    bag.StorageOptions{StorageID: StorageIDParquet},
			wantSuffix: ".parquet",
		},
		{
			name:    "unknown plugin",
			options: bag.StorageOptions{StorageID: "mcap"},
			wantErr: errors.ErrPluginNotFound,
		},
		{
			name:       "unsupported compression",
			options:    bag.StorageOptions{CompressionMode: bag.CompressionModeFile, CompressionFormat: "lzma"},
			wantConfig: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.options.URI = filepath.Join(t.TempDir(), "bag_0")

			rw, err := r.OpenReadWrite(tt.options)
			if tt.wantErr != nil {
				if !stderrors.Is(err, tt.wantErr) {
					t.Errorf("OpenReadWrite() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if tt.wantConfig {
				if !errors.IsConfigError(err) {
					t.Errorf("OpenReadWrite() error = %v, want ConfigError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenReadWrite() error = %v", err)
			}
			defer rw.Close()

			if !strings.HasSuffix(rw.RelativeFilePath(), tt.wantSuffix) {
				t.Errorf("RelativeFilePath() = %v, want suffix %v", rw.RelativeFilePath(), tt.wantSuffix)
			}
		})
	}
}

func TestRegistry_StorageIDs(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", Plugin{Open: openAvroBagfile})

	want := []string{"avro", "custom", "parquet"}
	if diff := cmp.Diff(want, r.StorageIDs()); diff != "" {
		t.Errorf("StorageIDs() mismatch (-want +got):\n%s", diff)
	}
}

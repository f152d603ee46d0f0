package storage

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/jittakal/kafbag/pkg/bag"
)

// CompressionZstd is the compression format applied by the storage layer itself.
const CompressionZstd = "zstd"

// ValidateCompression checks the compression options of a storage plugin.
// blockCodecs lists the formats the plugin can apply natively in file mode.
func ValidateCompression(options bag.StorageOptions, blockCodecs []string) error {
	mode := normalizeMode(options.CompressionMode)
	format := strings.ToLower(options.CompressionFormat)

	switch mode {
	case bag.CompressionModeNone:
		return nil
	case bag.CompressionModeMessage:
		if format != CompressionZstd {
			return fmt.Errorf("compression format %q is not supported in message mode", options.CompressionFormat)
		}
		return nil
	case bag.CompressionModeFile:
		if format == CompressionZstd {
			return nil
		}
		for _, codec := range blockCodecs {
			if format == codec {
				return nil
			}
		}
		return fmt.Errorf("compression format %q is not supported in file mode", options.CompressionFormat)
	default:
		return fmt.Errorf("unknown compression mode %q", options.CompressionMode)
	}
}

func normalizeMode(mode string) string {
	if mode == "" {
		return bag.CompressionModeNone
	}
	return strings.ToLower(mode)
}

// messageCompressor compresses message payloads individually.
type messageCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newMessageCompressor() (*messageCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &messageCompressor{encoder: enc, decoder: dec}, nil
}

// compress returns a copy of msg with a compressed payload.
func (c *messageCompressor) compress(msg *bag.Message) *bag.Message {
	out := *msg
	out.Data = c.encoder.EncodeAll(msg.Data, make([]byte, 0, len(msg.Data)))
	return &out
}

func (c *messageCompressor) decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

func (c *messageCompressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// newFileCompressor wraps w in a zstd stream.
func newFileCompressor(w io.Writer) (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd stream: %w", err)
	}
	return enc, nil
}

// newFileDecompressor reads a zstd stream written by newFileCompressor.
func newFileDecompressor(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	return dec.IOReadCloser(), nil
}

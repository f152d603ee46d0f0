package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/errors"
)

// Ensure implementation satisfies interface at compile time.
var _ Uploader = (*S3Uploader)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// Validate checks the required S3 settings.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	if c.SSEKMSKeyID != "" && !c.SSEEnabled {
		return fmt.Errorf("s3 sse_kms_key_id requires sse_enabled")
	}
	return nil
}

// S3Uploader uploads bagfiles to AWS S3 with multipart uploads and optional
// server-side encryption.
type S3Uploader struct {
	uploader    *manager.Uploader
	bucket      string
	sseEnabled  bool
	sseKMSKeyID string
	logger      *zap.Logger
	metrics     MetricsCollector
}

// NewS3Uploader creates a new S3 uploader.
func NewS3Uploader(ctx context.Context, cfg S3Config, logger *zap.Logger, metrics MetricsCollector) (*S3Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB parts
		u.Concurrency = 5
	})

	logger.Info("S3 uploader created",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.Bool("sse_enabled", cfg.SSEEnabled),
	)

	return &S3Uploader{
		uploader:    uploader,
		bucket:      cfg.Bucket,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Backend returns "s3".
func (u *S3Uploader) Backend() string {
	return "s3"
}

// Upload copies the file at localPath to s3://bucket/key.
func (u *S3Uploader) Upload(ctx context.Context, localPath string, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		u.incError("file_open")
		return &errors.StorageError{Operation: "upload", Path: localPath, Err: err}
	}
	defer file.Close()

	input := u.putObjectInput(key)
	input.Body = file

	result, err := u.uploader.Upload(ctx, input)
	if err != nil {
		u.incError("upload")
		return &errors.StorageError{Operation: "upload", Path: localPath, Err: fmt.Errorf("failed to upload to S3: %w", err)}
	}

	u.logger.Debug("uploaded to S3",
		zap.String("bucket", u.bucket),
		zap.String("key", key),
		zap.String("location", result.Location),
	)
	return nil
}

// putObjectInput builds the request without a body.
func (u *S3Uploader) putObjectInput(key string) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(strings.TrimPrefix(key, "/")),
		ContentType: aws.String(contentType(key)),
	}
	if u.sseEnabled {
		if u.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(u.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}
	return input
}

func (u *S3Uploader) incError(operation string) {
	if u.metrics != nil {
		u.metrics.IncStorageErrors("s3", operation)
	}
}

// Close closes the S3 uploader.
func (u *S3Uploader) Close() error {
	u.logger.Info("closing S3 uploader")
	return nil
}

// contentType maps a bag file to its MIME type.
func contentType(name string) string {
	ext := filepath.Ext(name)
	if ext == ".zst" {
		return "application/zstd"
	}
	switch ext {
	case ".avro":
		return "application/avro"
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}

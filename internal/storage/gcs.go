package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jittakal/kafbag/internal/errors"
)

// Ensure implementation satisfies interface at compile time.
var _ Uploader = (*GCSUploader)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// Validate checks the required GCS settings.
func (c GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	if c.CredentialsFile != "" && c.CredentialsJSON != "" {
		return fmt.Errorf("gcs credentials_file and credentials_json are mutually exclusive")
	}
	return nil
}

// clientOptions selects the authentication method.
func (c GCSConfig) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	switch {
	case c.UseDefaultCredential:
		// application default credentials
	case c.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	case c.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	return opts
}

// GCSUploader uploads bagfiles to Google Cloud Storage.
type GCSUploader struct {
	client  *gcs.Client
	bucket  string
	logger  *zap.Logger
	metrics MetricsCollector
}

// NewGCSUploader creates a new Google Cloud Storage uploader.
func NewGCSUploader(ctx context.Context, cfg GCSConfig, logger *zap.Logger, metrics MetricsCollector) (*GCSUploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := gcs.NewClient(ctx, cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS uploader created",
		zap.String("bucket", cfg.Bucket),
		zap.String("project_id", cfg.ProjectID),
		zap.Bool("default_credentials", cfg.UseDefaultCredential),
	)

	return &GCSUploader{
		client:  client,
		bucket:  cfg.Bucket,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Backend returns "gcs".
func (u *GCSUploader) Backend() string {
	return "gcs"
}

// Upload copies the file at localPath to gs://bucket/key.
func (u *GCSUploader) Upload(ctx context.Context, localPath string, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		u.incError("file_open")
		return &errors.StorageError{Operation: "upload", Path: localPath, Err: err}
	}
	defer file.Close()

	objectPath := strings.TrimPrefix(key, "/")
	w := u.client.Bucket(u.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType(objectPath)

	written, err := io.Copy(w, file)
	if err != nil {
		u.incError("upload")
		w.Close()
		return &errors.StorageError{Operation: "upload", Path: localPath, Err: fmt.Errorf("failed to write to GCS: %w", err)}
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		u.incError("close")
		return &errors.StorageError{Operation: "upload", Path: localPath, Err: fmt.Errorf("failed to close GCS writer: %w", err)}
	}

	u.logger.Debug("uploaded to GCS",
		zap.String("bucket", u.bucket),
		zap.String("object", objectPath),
		zap.Int64("bytes_written", written),
	)
	return nil
}

func (u *GCSUploader) incError(operation string) {
	if u.metrics != nil {
		u.metrics.IncStorageErrors("gcs", operation)
	}
}

// Close closes the GCS client.
func (u *GCSUploader) Close() error {
	u.logger.Info("closing GCS uploader")
	if u.client != nil {
		return u.client.Close()
	}
	return nil
}

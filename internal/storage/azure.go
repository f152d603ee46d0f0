package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/errors"
)

// Ensure implementation satisfies interface at compile time.
var _ Uploader = (*AzureUploader)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// Validate checks the required Azure settings.
func (c AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account_name is required")
	}
	if c.AccountKey == "" {
		return fmt.Errorf("azure account_key is required")
	}
	if c.ContainerName == "" {
		return fmt.Errorf("azure container_name is required")
	}
	return nil
}

// ConnectionString builds the account connection string.
func (c AzureConfig) ConnectionString() string {
	if c.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			c.AccountName, c.AccountKey, c.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		c.AccountName, c.AccountKey)
}

// AzureUploader uploads bagfiles to Azure Blob Storage.
type AzureUploader struct {
	client        *azblob.Client
	containerName string
	logger        *zap.Logger
	metrics       MetricsCollector
}

// NewAzureUploader creates a new Azure Blob uploader.
func NewAzureUploader(cfg AzureConfig, logger *zap.Logger, metrics MetricsCollector) (*AzureUploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure uploader created",
		zap.String("container", cfg.ContainerName),
		zap.String("account", cfg.AccountName),
	)

	return &AzureUploader{
		client:        client,
		containerName: cfg.ContainerName,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Backend returns "azure".
func (u *AzureUploader) Backend() string {
	return "azure"
}

// Upload copies the file at localPath to the blob named key.
func (u *AzureUploader) Upload(ctx context.Context, localPath string, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		u.incError("file_open")
		return &errors.StorageError{Operation: "upload", Path: localPath, Err: err}
	}
	defer file.Close()

	blobPath := strings.TrimPrefix(key, "/")
	ct := contentType(blobPath)
	_, err = u.client.UploadFile(ctx, u.containerName, blobPath, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		u.incError("upload")
		return &errors.StorageError{Operation: "upload", Path: localPath, Err: fmt.Errorf("failed to upload to Azure Blob: %w", err)}
	}

	u.logger.Debug("uploaded to Azure Blob",
		zap.String("container", u.containerName),
		zap.String("blob", blobPath),
	)
	return nil
}

func (u *AzureUploader) incError(operation string) {
	if u.metrics != nil {
		u.metrics.IncStorageErrors("azure", operation)
	}
}

// Close closes the Azure uploader.
func (u *AzureUploader) Close() error {
	u.logger.Info("Azure uploader closed")
	return nil
}

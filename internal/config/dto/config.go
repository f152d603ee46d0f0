package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jittakal/kafbag/pkg/bag"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Recording     RecordingConfig     `mapstructure:"recording"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol string         `mapstructure:"security_protocol"`
	SASLMechanism    string         `mapstructure:"sasl_mechanism"`
	SASLUsername     string         `mapstructure:"sasl_username"`
	SASLPassword     string         `mapstructure:"sasl_password"`
	AWSRegion        string         `mapstructure:"aws_region"`
	Consumer         ConsumerConfig `mapstructure:"consumer"`
	DLQ              DLQConfig      `mapstructure:"dlq"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
}

// RecordingConfig describes the bag being recorded.
type RecordingConfig struct {
	URI                       string            `mapstructure:"uri"`
	StorageID                 string            `mapstructure:"storage_id"`
	MaxBagfileSize            string            `mapstructure:"max_bagfile_size"`
	MaxBagfileDuration        time.Duration     `mapstructure:"max_bagfile_duration"`
	MaxCacheSize              string            `mapstructure:"max_cache_size"`
	SnapshotMode              bool              `mapstructure:"snapshot_mode"`
	InputSerializationFormat  string            `mapstructure:"input_serialization_format"`
	OutputSerializationFormat string            `mapstructure:"output_serialization_format"`
	CompressionFormat         string            `mapstructure:"compression_format"`
	CompressionMode           string            `mapstructure:"compression_mode"`
	Topics                    []TopicConfig     `mapstructure:"topics"`
	CustomData                map[string]string `mapstructure:"custom_data"`
}

// TopicConfig maps a Kafka topic onto a bag topic.
type TopicConfig struct {
	// Kafka is the source Kafka topic.
	Kafka string `mapstructure:"kafka"`
	// Name is the bag topic name. Defaults to "/" + Kafka.
	Name                string `mapstructure:"name"`
	Type                string `mapstructure:"type"`
	SerializationFormat string `mapstructure:"serialization_format"`
}

// ArchiveConfig selects where closed bagfiles are uploaded.
type ArchiveConfig struct {
	Backend              string      `mapstructure:"backend"`
	Prefix               string      `mapstructure:"prefix"`
	MaxConcurrentUploads int         `mapstructure:"max_concurrent_uploads"`
	S3                   S3Config    `mapstructure:"s3"`
	Azure                AzureConfig `mapstructure:"azure"`
	GCS                  GCSConfig   `mapstructure:"gcs"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	Endpoint             string `mapstructure:"endpoint"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Control ControlConfig `mapstructure:"control"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ControlConfig enables the recording control endpoints on the health server.
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	ForceTimeout time.Duration `mapstructure:"force_timeout"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.Kafka.Consumer.GroupID == "" {
		return fmt.Errorf("kafka consumer group ID is required")
	}
	if err := c.Recording.Validate(); err != nil {
		return err
	}
	return c.Archive.Validate()
}

// Validate checks the recording settings, including the human-readable sizes.
func (c *RecordingConfig) Validate() error {
	_, err := c.StorageOptions()
	return err
}

// StorageOptions converts the recording settings into writer storage options.
func (c *RecordingConfig) StorageOptions() (bag.StorageOptions, error) {
	maxBagfileSize, err := parseSize("recording.max_bagfile_size", c.MaxBagfileSize)
	if err != nil {
		return bag.StorageOptions{}, err
	}
	maxCacheSize, err := parseSize("recording.max_cache_size", c.MaxCacheSize)
	if err != nil {
		return bag.StorageOptions{}, err
	}
	if c.MaxBagfileDuration < 0 {
		return bag.StorageOptions{}, fmt.Errorf("recording.max_bagfile_duration must not be negative")
	}

	opts := bag.StorageOptions{
		URI:                c.URI,
		StorageID:          c.StorageID,
		MaxBagfileSize:     maxBagfileSize,
		MaxBagfileDuration: c.MaxBagfileDuration,
		MaxCacheSize:       maxCacheSize,
		SnapshotMode:       c.SnapshotMode,
		CompressionFormat:  c.CompressionFormat,
		CompressionMode:    c.CompressionMode,
	}
	if len(c.CustomData) > 0 {
		opts.CustomData = make(map[string]string, len(c.CustomData))
		for k, v := range c.CustomData {
			opts.CustomData[k] = v
		}
	}
	if err := opts.Validate(); err != nil {
		return bag.StorageOptions{}, fmt.Errorf("recording: %w", err)
	}
	return opts, nil
}

// ConverterOptions returns the serialization formats of the recording.
func (c *RecordingConfig) ConverterOptions() bag.ConverterOptions {
	return bag.ConverterOptions{
		InputSerializationFormat:  c.InputSerializationFormat,
		OutputSerializationFormat: c.OutputSerializationFormat,
	}
}

// Topic returns the mapping for a Kafka topic, falling back to the defaults.
func (c *RecordingConfig) Topic(kafkaTopic string) TopicConfig {
	for _, t := range c.Topics {
		if t.Kafka == kafkaTopic {
			if t.Name == "" {
				t.Name = "/" + kafkaTopic
			}
			return t
		}
	}
	return TopicConfig{Kafka: kafkaTopic, Name: "/" + kafkaTopic}
}

func parseSize(field, value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "0" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q: %w", field, value, err)
	}
	return size, nil
}

// Validate validates the archive backend selection.
func (c *ArchiveConfig) Validate() error {
	switch c.Backend {
	case "", "none":
		return nil
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("s3 region is required")
		}
	case "azure":
		if c.Azure.AccountName == "" {
			return fmt.Errorf("azure account name is required")
		}
		if c.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
	case "gcs":
		if c.GCS.Bucket == "" {
			return fmt.Errorf("gcs bucket is required")
		}
	default:
		return fmt.Errorf("unsupported archive backend: %s", c.Backend)
	}
	if c.MaxConcurrentUploads < 0 {
		return fmt.Errorf("archive max concurrent uploads must not be negative")
	}
	return nil
}

// Enabled reports whether closed bagfiles are uploaded.
func (c *ArchiveConfig) Enabled() bool {
	return c.Backend != "" && c.Backend != "none"
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/config"
	"github.com/jittakal/kafbag/internal/config/dto"
	"github.com/jittakal/kafbag/internal/converter"
	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/internal/events"
	"github.com/jittakal/kafbag/internal/kafka"
	"github.com/jittakal/kafbag/internal/observability"
	"github.com/jittakal/kafbag/internal/recorder"
	"github.com/jittakal/kafbag/internal/server"
	"github.com/jittakal/kafbag/internal/storage"
	"github.com/jittakal/kafbag/internal/validator"
	"github.com/jittakal/kafbag/internal/writer"
	"github.com/jittakal/kafbag/pkg/bag"
	pkgstorage "github.com/jittakal/kafbag/pkg/storage"
)

const (
	defaultTopicType           = "kafka/Record"
	defaultSerializationFormat = "json"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	recordingID := uuid.NewString()
	logger = logger.With(zap.String("recording_id", recordingID))
	logger.Info("starting kafbag",
		zap.String("version", cfg.Application.Version),
		zap.String("environment", cfg.Application.Environment),
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, func() error {
			logger.Debug("running cleanup", zap.String("component", name))
			if err := fn(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	runCleanup := func() error {
		var errs error
		for _, fn := range cleanupFuncs {
			errs = multierr.Append(errs, fn())
		}
		return errs
	}

	storageOptions, err := cfg.Recording.StorageOptions()
	if err != nil {
		return err
	}
	if storageOptions.CustomData == nil {
		storageOptions.CustomData = make(map[string]string)
	}
	storageOptions.CustomData["recording_id"] = recordingID
	storageOptions.CustomData["recorder"] = cfg.Application.Name

	storageRegistry := storage.NewRegistry(
		storage.WithLogger(logger.Named("storage")),
		storage.WithMetrics(metrics),
	)
	converters := converter.NewDefaultRegistry()
	var storageFactory pkgstorage.Factory = storageRegistry
	var metadataIO pkgstorage.MetadataIO = storage.NewYAMLMetadataIO()

	archiveCtx, cancelArchive := context.WithCancel(context.Background())
	defer cancelArchive()
	if cfg.Archive.Enabled() {
		uploader, err := newUploader(archiveCtx, cfg.Archive, logger, metrics)
		if err != nil {
			return fmt.Errorf("failed to create %s uploader: %w", cfg.Archive.Backend, err)
		}
		archiver := storage.NewArchiver(archiveCtx, uploader, storage.ArchiveConfig{
			Prefix:               cfg.Archive.Prefix,
			MaxConcurrentUploads: cfg.Archive.MaxConcurrentUploads,
		}, logger.Named("archive"), metrics)
		storageFactory = archiver.WrapFactory(storageFactory)
		metadataIO = archiver.WrapMetadataIO(metadataIO)
		// Registered first so that it runs after the writer wrote the final metadata.
		defer func() {
			if err := archiver.Close(); err != nil {
				logger.Error("archive incomplete", zap.Error(err))
			}
		}()
	}

	bagWriter := writer.New(storageFactory, metadataIO, converters,
		writer.WithLogger(logger.Named("writer")),
		writer.WithMetrics(metrics),
		writer.WithErrorHandler(func(err error) {
			logger.Error("background write failed",
				zap.Bool("retryable", errors.IsRetryable(err)),
				zap.Error(err),
			)
		}),
	)
	bagWriter.AddEventCallbacks(events.Callbacks{
		WriteSplit: func(info bag.BagSplitInfo) {
			logger.Info("bagfile split",
				zap.String("closed_file", info.ClosedFile),
				zap.String("opened_file", info.OpenedFile),
			)
		},
	})
	if err := bagWriter.Open(storageOptions, cfg.Recording.ConverterOptions()); err != nil {
		logger.Error("failed to open bag",
			zap.String("storage_id", storageOptions.StorageID),
			zap.Strings("available_storage_ids", storageRegistry.StorageIDs()),
			zap.Strings("available_formats", converters.Formats()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to open bag %s: %w", storageOptions.URI, err)
	}

	security := kafka.SecurityConfig{
		Protocol:      cfg.Kafka.SecurityProtocol,
		SASLMechanism: cfg.Kafka.SASLMechanism,
		SASLUsername:  cfg.Kafka.SASLUsername,
		SASLPassword:  cfg.Kafka.SASLPassword,
		AWSRegion:     cfg.Kafka.AWSRegion,
	}

	dlqPublisher, err := kafka.NewDLQPublisher(cfg.Kafka.BootstrapServers, security, kafka.DLQConfig{
		Enabled:     cfg.Kafka.DLQ.Enabled,
		TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
	}, logger.Named("dlq"), recordingID)
	if err != nil {
		bagWriter.Shutdown()
		return fmt.Errorf("failed to create DLQ publisher: %w", err)
	}
	addCleanup("dlq-publisher", dlqPublisher.Close)

	consumer, err := kafka.NewSaramaConsumer(kafka.ConsumerConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		Security:            security,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
	}, logger.Named("consumer"), metrics)
	if err != nil {
		bagWriter.Shutdown()
		return multierr.Append(fmt.Errorf("failed to create consumer: %w", err), runCleanup())
	}

	rec := recorder.New(bagWriter, topicResolver(cfg.Recording),
		recorder.WithValidator(validator.NewBagValidator()),
		recorder.WithDLQ(dlqPublisher),
		recorder.WithLogger(logger.Named("recorder")),
		recorder.WithMetrics(metrics),
	)

	health := &recordingHealth{writer: bagWriter}
	var controller server.Controller
	if cfg.Observability.Control.Enabled {
		controller = recordingControl{SequentialWriter: bagWriter, recorder: rec}
	}
	httpServer := server.NewServer(server.Config{
		HealthPort:    cfg.Observability.Health.Port,
		LivenessPath:  cfg.Observability.Health.LivenessPath,
		ReadinessPath: cfg.Observability.Health.ReadinessPath,
		MetricsPort:   cfg.Observability.Metrics.Port,
		MetricsPath:   cfg.Observability.Metrics.Path,
		ControlPath:   cfg.Observability.Control.Path,
	}, health, controller, registry, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		bagWriter.Shutdown()
		return multierr.Append(fmt.Errorf("failed to start HTTP server: %w", err), runCleanup())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.Subscribe(ctx, cfg.Kafka.Consumer.Topics); err != nil {
		bagWriter.Shutdown()
		return multierr.Append(fmt.Errorf("failed to subscribe to topics: %w", err), runCleanup())
	}
	records, consumerErrs, err := consumer.Consume(ctx)
	if err != nil {
		bagWriter.Shutdown()
		return multierr.Append(fmt.Errorf("failed to start consuming: %w", err), runCleanup())
	}
	health.consuming.Store(true)
	logger.Info("recording started",
		zap.String("uri", storageOptions.URI),
		zap.String("storage_id", storageOptions.StorageID),
		zap.Strings("topics", cfg.Kafka.Consumer.Topics),
		zap.Bool("snapshot_mode", storageOptions.SnapshotMode),
	)

	recordErr := make(chan error, 1)
	go func() {
		recordErr <- rec.Run(ctx, records, consumerErrs)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received termination signal", zap.String("signal", sig.String()))
	case err := <-recordErr:
		if err != nil {
			logger.Error("recording stopped", zap.Error(err))
			runErr = err
		}
	}

	logger.Info("initiating graceful shutdown")
	health.consuming.Store(false)
	cancel()

	forceTimer := time.AfterFunc(cfg.Shutdown.ForceTimeout, func() {
		logger.Error("graceful shutdown timed out, exiting")
		os.Exit(1)
	})
	defer forceTimer.Stop()

	select {
	case <-recordErr:
	case <-time.After(cfg.Shutdown.GracePeriod):
		logger.Warn("recorder did not stop within grace period")
	}

	// The consumer stops first so that no record is acknowledged after the bag is closed.
	errs := multierr.Combine(
		wrapErr("kafka-consumer", consumer.Close()),
		wrapErr("writer", bagWriter.Close()),
	)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod)
	defer cancelShutdown()
	errs = multierr.Append(errs, wrapErr("http-server", httpServer.Shutdown(shutdownCtx)))
	errs = multierr.Append(errs, runCleanup())

	rec.LogSummary()
	if errs != nil {
		logger.Error("shutdown completed with errors", zap.Error(errs))
	} else {
		logger.Info("application stopped successfully")
	}
	return multierr.Append(runErr, errs)
}

func wrapErr(component string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", component, err)
}

// topicResolver maps Kafka topics onto bag topics using the configured
// mappings and the recording defaults.
func topicResolver(cfg dto.RecordingConfig) recorder.TopicResolver {
	format := cfg.InputSerializationFormat
	if format == "" {
		format = defaultSerializationFormat
	}
	return func(kafkaTopic string) bag.TopicMetadata {
		t := cfg.Topic(kafkaTopic)
		topic := bag.TopicMetadata{
			Name:                t.Name,
			Type:                t.Type,
			SerializationFormat: t.SerializationFormat,
		}
		if topic.Type == "" {
			topic.Type = defaultTopicType
		}
		if topic.SerializationFormat == "" {
			topic.SerializationFormat = format
		}
		return topic
	}
}

func newUploader(ctx context.Context, cfg dto.ArchiveConfig, logger *zap.Logger, metrics *observability.Metrics) (storage.Uploader, error) {
	switch cfg.Backend {
	case "s3":
		return storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			SSEEnabled:   cfg.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.S3.SSEKMSKeyID,
		}, logger.Named("s3"), metrics)
	case "gcs":
		return storage.NewGCSUploader(ctx, storage.GCSConfig{
			Bucket:               cfg.GCS.Bucket,
			ProjectID:            cfg.GCS.ProjectID,
			Endpoint:             cfg.GCS.Endpoint,
			CredentialsFile:      cfg.GCS.CredentialsFile,
			CredentialsJSON:      cfg.GCS.CredentialsJSON,
			UseDefaultCredential: cfg.GCS.UseDefaultCredential,
		}, logger.Named("gcs"), metrics)
	case "azure":
		return storage.NewAzureUploader(storage.AzureConfig{
			AccountName:   cfg.Azure.AccountName,
			AccountKey:    cfg.Azure.AccountKey,
			ContainerName: cfg.Azure.Container,
			Endpoint:      cfg.Azure.Endpoint,
		}, logger.Named("azure"), metrics)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s (supported: s3, azure, gcs)", cfg.Backend)
	}
}

// recordingControl exposes the writer and the recorder counters to the control endpoints.
type recordingControl struct {
	*writer.SequentialWriter
	recorder *recorder.Recorder
}

func (c recordingControl) Stats() any {
	return c.recorder.Stats()
}

// recordingHealth reports ready while the bag is open and records are consumed.
type recordingHealth struct {
	writer    *writer.SequentialWriter
	consuming atomic.Bool
}

func (h *recordingHealth) Liveness() bool {
	return true
}

func (h *recordingHealth) Readiness(ctx context.Context) bool {
	return h.writer.IsOpen() && h.consuming.Load()
}

func (h *recordingHealth) IsHealthy() bool {
	return h.Readiness(context.Background())
}

func (h *recordingHealth) GetStatus() map[string]string {
	status := map[string]string{"writer": "closed", "consumer": "stopped"}
	if h.writer.IsOpen() {
		status["writer"] = "open"
	}
	if h.consuming.Load() {
		status["consumer"] = "running"
	}
	return status
}

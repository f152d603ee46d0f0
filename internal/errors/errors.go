// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrWriterNotOpen     = errors.New("writer is not open")
	ErrWriterAlreadyOpen = errors.New("writer is already open")
	ErrNotSnapshotMode   = errors.New("writer is not in snapshot mode")
	ErrUnknownTopic      = errors.New("topic has not been created")
	ErrPluginNotFound    = errors.New("plugin not found")
	ErrCacheClosed       = errors.New("cache is closed")
	ErrConsumerClosed    = errors.New("consumer is closed")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrStorageClosed     = errors.New("bagfile is closed")
	ErrConnectionLost    = errors.New("connection lost")
)

// ConfigError is returned when writer options cannot be honored. No bagfile is created.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: field=%s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: field=%s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ConversionError represents a failure converting a message between formats.
type ConversionError struct {
	Topic string
	// Stage is "deserialize" or "serialize".
	Stage  string
	Format string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion error: topic=%s stage=%s format=%s: %v",
		e.Topic, e.Stage, e.Format, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ProcessingError represents an error while recording a consumed Kafka record.
type ProcessingError struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing error: topic=%s partition=%d offset=%d: %v",
		e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ValidationError represents a topic or message validation failure.
type ValidationError struct {
	Topic  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: topic=%s field=%s: %s",
		e.Topic, e.Field, e.Reason)
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking specific error types and sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, ErrConnectionLost) {
		return true
	}

	return false
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	return e.Operation == "write" || e.Operation == "upload" || e.Operation == "open"
}

// IsRetryable determines if a ProcessingError is retryable.
func (e *ProcessingError) IsRetryable() bool {
	return IsRetryable(e.Err)
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// IsConversionError reports whether err is or wraps a ConversionError.
func IsConversionError(err error) bool {
	var convErr *ConversionError
	return errors.As(err, &convErr)
}

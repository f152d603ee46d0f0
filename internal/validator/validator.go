// Package validator checks topics and messages before they reach the writer.
package validator

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
)

// BagValidator validates topic declarations and messages.
type BagValidator struct {
	maxMessageSize uint64
}

// Option configures a BagValidator.
type Option func(*BagValidator)

// WithMaxMessageSize rejects payloads larger than size bytes. 0 disables the check.
func WithMaxMessageSize(size uint64) Option {
	return func(v *BagValidator) {
		v.maxMessageSize = size
	}
}

// NewBagValidator creates a new validator.
func NewBagValidator(opts ...Option) *BagValidator {
	v := &BagValidator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateTopic checks a topic declaration. Names are absolute, slash
// separated and free of whitespace and empty segments.
func (v *BagValidator) ValidateTopic(topic bag.TopicMetadata) error {
	if err := validateTopicName(topic.Name); err != nil {
		return err
	}

	if topic.Type == "" {
		return &errors.ValidationError{
			Topic:  topic.Name,
			Field:  "type",
			Reason: "required field is missing",
		}
	}

	if topic.SerializationFormat == "" {
		return &errors.ValidationError{
			Topic:  topic.Name,
			Field:  "serialization_format",
			Reason: "required field is missing",
		}
	}

	return nil
}

// ValidateMessage checks a message before it is written.
func (v *BagValidator) ValidateMessage(msg *bag.Message) error {
	if msg == nil {
		return &errors.ValidationError{
			Field:  "message",
			Reason: "message is nil",
		}
	}

	if msg.TopicName == "" {
		return &errors.ValidationError{
			Field:  "topic_name",
			Reason: "required field is missing",
		}
	}

	if msg.RecvTimestamp < 0 {
		return &errors.ValidationError{
			Topic:  msg.TopicName,
			Field:  "recv_timestamp",
			Reason: fmt.Sprintf("negative timestamp: %d", msg.RecvTimestamp),
		}
	}

	if v.maxMessageSize > 0 && msg.Size() > v.maxMessageSize {
		return &errors.ValidationError{
			Topic:  msg.TopicName,
			Field:  "data",
			Reason: fmt.Sprintf("payload of %d bytes exceeds limit of %d bytes", msg.Size(), v.maxMessageSize),
		}
	}

	return nil
}

func validateTopicName(name string) error {
	invalid := func(reason string) error {
		return &errors.ValidationError{Topic: name, Field: "name", Reason: reason}
	}

	switch {
	case name == "":
		return invalid("required field is missing")
	case !strings.HasPrefix(name, "/"):
		return invalid("topic name must start with '/'")
	case len(name) > 1 && strings.HasSuffix(name, "/"):
		return invalid("topic name must not end with '/'")
	case strings.Contains(name, "//"):
		return invalid("topic name must not contain empty segments")
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
		return invalid("topic name must not contain whitespace")
	}
	return nil
}

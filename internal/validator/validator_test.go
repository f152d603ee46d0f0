package validator

import (
	stderrors "errors"
	"testing"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
)

func TestNewBagValidator(t *testing.T) {
	validator := NewBagValidator()
	if validator == nil {
		t.Fatal("expected non-nil validator")
	}
}

func TestBagValidator_ValidateTopic(t *testing.T) {
	validator := NewBagValidator()

	tests := []struct {
		name      string
		topic     bag.TopicMetadata
		wantField string
	}{
		{
			name:  "valid topic",
			topic: bag.TopicMetadata{Name: "/orders", Type: "shop/Order", SerializationFormat: "json"},
		},
		{
			name:  "nested topic",
			topic: bag.TopicMetadata{Name: "/robot/arm/joint_states", Type: "sensor/JointState", SerializationFormat: "msgpack"},
		},
		{
			name:      "missing name",
			topic:     bag.TopicMetadata{Type: "t", SerializationFormat: "json"},
			wantField: "name",
		},
		{
			name:      "relative name",
			topic:     bag.TopicMetadata{Name: "orders", Type: "t", SerializationFormat: "json"},
			wantField: "name",
		},
		{
			name:      "trailing slash",
			topic:     bag.TopicMetadata{Name: "/orders/", Type: "t", SerializationFormat: "json"},
			wantField: "name",
		},
		{
			name:      "empty segment",
			topic:     bag.TopicMetadata{Name: "/robot//arm", Type: "t", SerializationFormat: "json"},
			wantField: "name",
		},
		{
			name:      "whitespace",
			topic:     bag.TopicMetadata{Name: "/my topic", Type: "t", SerializationFormat: "json"},
			wantField: "name",
		},
		{
			name:      "missing type",
			topic:     bag.TopicMetadata{Name: "/orders", SerializationFormat: "json"},
			wantField: "type",
		},
		{
			name:      "missing serialization format",
			topic:     bag.TopicMetadata{Name: "/orders", Type: "t"},
			wantField: "serialization_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateTopic(tt.topic)
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("ValidateTopic() error = %v, want nil", err)
				}
				return
			}

			var validationErr *errors.ValidationError
			if !stderrors.As(err, &validationErr) {
				t.Fatalf("ValidateTopic() error = %v, want ValidationError", err)
			}
			if validationErr.Field != tt.wantField {
				t.Errorf("Field = %s, want %s", validationErr.Field, tt.wantField)
			}
		})
	}
}

func TestBagValidator_ValidateMessage(t *testing.T) {
	tests := []struct {
		name      string
		validator *BagValidator
		msg       *bag.Message
		wantField string
	}{
		{
			name:      "valid message",
			validator: NewBagValidator(),
			msg:       &bag.Message{TopicName: "/orders", Data: []byte("x"), RecvTimestamp: 1},
		},
		{
			name:      "empty payload",
			validator: NewBagValidator(),
			msg:       &bag.Message{TopicName: "/orders"},
		},
		{
			name:      "nil message",
			validator: NewBagValidator(),
			msg:       nil,
			wantField: "message",
		},
		{
			name:      "missing topic",
			validator: NewBagValidator(),
			msg:       &bag.Message{Data: []byte("x")},
			wantField: "topic_name",
		},
		{
			name:      "negative timestamp",
			validator: NewBagValidator(),
			msg:       &bag.Message{TopicName: "/orders", RecvTimestamp: -1},
			wantField: "recv_timestamp",
		},
		{
			name:      "payload over limit",
			validator: NewBagValidator(WithMaxMessageSize(4)),
			msg:       &bag.Message{TopicName: "/orders", Data: []byte("12345")},
			wantField: "data",
		},
		{
			name:      "payload at limit",
			validator: NewBagValidator(WithMaxMessageSize(4)),
			msg:       &bag.Message{TopicName: "/orders", Data: []byte("1234")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator.ValidateMessage(tt.msg)
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("ValidateMessage() error = %v, want nil", err)
				}
				return
			}

			var validationErr *errors.ValidationError
			if !stderrors.As(err, &validationErr) {
				t.Fatalf("ValidateMessage() error = %v, want ValidationError", err)
			}
			if validationErr.Field != tt.wantField {
				t.Errorf("Field = %s, want %s", validationErr.Field, tt.wantField)
			}
		})
	}
}

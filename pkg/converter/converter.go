// Package converter defines interfaces for converting messages between serialization formats.
package converter

import "github.com/jittakal/kafbag/pkg/bag"

// Message is the format-independent representation a message passes through
// when converted between serialization formats.
type Message struct {
	TopicName string
	TypeName  string
	Timestamp int64
	Value     any
}

// Deserializer decodes serialized messages into the canonical representation.
type Deserializer interface {
	// Deserialize decodes msg, whose topic has the given type, into out.
	Deserialize(msg *bag.Message, typeName string, out *Message) error
}

// Serializer encodes canonical messages into a serialization format.
type Serializer interface {
	// Serialize encodes in into out.Data. Topic and timestamps of out are left to the caller.
	Serialize(in *Message, typeName string, out *bag.Message) error
}

// Factory resolves converter plugins by serialization format name.
type Factory interface {
	// LoadDeserializer returns the deserializer for format.
	LoadDeserializer(format string) (Deserializer, error)

	// LoadSerializer returns the serializer for format.
	LoadSerializer(format string) (Serializer, error)
}

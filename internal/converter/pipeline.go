package converter

import (
	"sync"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/converter"
)

// Pipeline converts messages from the input to the output serialization format.
// Plugins are resolved once, when the pipeline is created.
type Pipeline struct {
	inputFormat  string
	outputFormat string
	deserializer converter.Deserializer
	serializer   converter.Serializer

	mu         sync.RWMutex
	topicTypes map[string]string
}

// NewPipeline resolves the plugins for options from factory.
// A missing plugin is returned as an error wrapping errors.ErrPluginNotFound.
func NewPipeline(factory converter.Factory, options bag.ConverterOptions) (*Pipeline, error) {
	deserializer, err := factory.LoadDeserializer(options.InputSerializationFormat)
	if err != nil {
		return nil, err
	}
	serializer, err := factory.LoadSerializer(options.OutputSerializationFormat)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		inputFormat:  options.InputSerializationFormat,
		outputFormat: options.OutputSerializationFormat,
		deserializer: deserializer,
		serializer:   serializer,
		topicTypes:   make(map[string]string),
	}, nil
}

// OutputFormat returns the format messages are converted into.
func (p *Pipeline) OutputFormat() string {
	return p.outputFormat
}

// AddTopic records the type name used when converting messages of topic.
func (p *Pipeline) AddTopic(topic, typeName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.topicTypes[topic] = typeName
}

// RemoveTopic forgets the type of topic.
func (p *Pipeline) RemoveTopic(topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.topicTypes, topic)
}

// Convert deserializes msg and serializes it into a new message with the same
// topic and timestamps. msg is not modified.
func (p *Pipeline) Convert(msg *bag.Message) (*bag.Message, error) {
	p.mu.RLock()
	typeName := p.topicTypes[msg.TopicName]
	p.mu.RUnlock()

	canonical := converter.Message{
		TopicName: msg.TopicName,
		TypeName:  typeName,
		Timestamp: msg.RecvTimestamp,
	}
	if err := p.deserializer.Deserialize(msg, typeName, &canonical); err != nil {
		return nil, &errors.ConversionError{
			Topic:  msg.TopicName,
			Stage:  "deserialize",
			Format: p.inputFormat,
			Err:    err,
		}
	}

	out := &bag.Message{
		TopicName:     msg.TopicName,
		RecvTimestamp: msg.RecvTimestamp,
		SendTimestamp: msg.SendTimestamp,
	}
	if err := p.serializer.Serialize(&canonical, typeName, out); err != nil {
		return nil, &errors.ConversionError{
			Topic:  msg.TopicName,
			Stage:  "serialize",
			Format: p.outputFormat,
			Err:    err,
		}
	}

	return out, nil
}

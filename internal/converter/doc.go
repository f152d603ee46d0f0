// Package converter provides serialization format conversion for recorded messages.
//
// A Registry maps format names to plugin constructors and implements the
// pkg/converter.Factory interface. A Pipeline is built from a registry once,
// when a writer is opened, and converts each message by decoding it into the
// canonical representation and encoding it into the output format.
//
// # Built-in Formats
//
//	json         encoding/json
//	msgpack      github.com/vmihailenco/msgpack/v5
//	yaml         go.yaml.in/yaml/v3
//	cloudevents  structured-mode CloudEvents with JSON data
//
// # Usage
//
//	registry := converter.NewDefaultRegistry()
//	pipeline, err := converter.NewPipeline(registry, bag.ConverterOptions{
//	    InputSerializationFormat:  "json",
//	    OutputSerializationFormat: "msgpack",
//	})
//	if err != nil {
//	    // errors.Is(err, errors.ErrPluginNotFound)
//	}
//	pipeline.AddTopic("/orders", "shop.Order")
//	out, err := pipeline.Convert(msg)
package converter

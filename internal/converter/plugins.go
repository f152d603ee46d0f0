package converter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.yaml.in/yaml/v3"

	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/converter"
)

// Ensure plugins satisfy the plugin interface.
var (
	_ Plugin = jsonPlugin{}
	_ Plugin = msgpackPlugin{}
	_ Plugin = yamlPlugin{}
	_ Plugin = (*cloudEventsPlugin)(nil)
)

type jsonPlugin struct{}

func (jsonPlugin) Deserialize(msg *bag.Message, typeName string, out *converter.Message) error {
	if err := json.Unmarshal(msg.Data, &out.Value); err != nil {
		return fmt.Errorf("failed to decode json: %w", err)
	}
	return nil
}

func (jsonPlugin) Serialize(in *converter.Message, typeName string, out *bag.Message) error {
	data, err := json.Marshal(in.Value)
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	out.Data = data
	return nil
}

type msgpackPlugin struct{}

func (msgpackPlugin) Deserialize(msg *bag.Message, typeName string, out *converter.Message) error {
	if err := msgpack.Unmarshal(msg.Data, &out.Value); err != nil {
		return fmt.Errorf("failed to decode msgpack: %w", err)
	}
	return nil
}

func (msgpackPlugin) Serialize(in *converter.Message, typeName string, out *bag.Message) error {
	data, err := msgpack.Marshal(in.Value)
	if err != nil {
		return fmt.Errorf("failed to encode msgpack: %w", err)
	}
	out.Data = data
	return nil
}

type yamlPlugin struct{}

func (yamlPlugin) Deserialize(msg *bag.Message, typeName string, out *converter.Message) error {
	if err := yaml.Unmarshal(msg.Data, &out.Value); err != nil {
		return fmt.Errorf("failed to decode yaml: %w", err)
	}
	return nil
}

func (yamlPlugin) Serialize(in *converter.Message, typeName string, out *bag.Message) error {
	data, err := yaml.Marshal(in.Value)
	if err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	out.Data = data
	return nil
}

// cloudEventsPlugin reads and writes structured-mode CloudEvents with a JSON payload.
// The event type carries the topic type name.
type cloudEventsPlugin struct {
	source string
}

func newCloudEventsPlugin() *cloudEventsPlugin {
	return &cloudEventsPlugin{source: "kafbag"}
}

func (p *cloudEventsPlugin) Deserialize(msg *bag.Message, typeName string, out *converter.Message) error {
	e := cloudevents.NewEvent()
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		return fmt.Errorf("failed to decode cloudevent: %w", err)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid cloudevent: %w", err)
	}

	if len(e.Data()) > 0 {
		if err := e.DataAs(&out.Value); err != nil {
			return fmt.Errorf("failed to decode cloudevent data: %w", err)
		}
	}
	if out.TypeName == "" {
		out.TypeName = e.Type()
	}
	if !e.Time().IsZero() {
		out.Timestamp = e.Time().UnixNano()
	}
	return nil
}

func (p *cloudEventsPlugin) Serialize(in *converter.Message, typeName string, out *bag.Message) error {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(p.source + "/" + strings.TrimPrefix(in.TopicName, "/"))
	if typeName == "" {
		typeName = "kafbag.message"
	}
	e.SetType(typeName)
	e.SetTime(time.Unix(0, in.Timestamp).UTC())
	e.SetSubject(in.TopicName)

	if in.Value != nil {
		if err := e.SetData(cloudevents.ApplicationJSON, in.Value); err != nil {
			return fmt.Errorf("failed to set cloudevent data: %w", err)
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode cloudevent: %w", err)
	}
	out.Data = data
	return nil
}

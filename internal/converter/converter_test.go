package converter

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
	"github.com/jittakal/kafbag/pkg/converter"
)

func TestRegistry_Load(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"msgpack", FormatMsgpack, false},
		{"yaml", FormatYAML, false},
		{"cloudevents", FormatCloudEvents, false},
		{"unknown format", "protobuf", true},
		{"empty format", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.LoadDeserializer(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadDeserializer() error = %v, wantErr %v", err, tt.wantErr)
			}
			s, err := r.LoadSerializer(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadSerializer() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				if !stderrors.Is(err, errors.ErrPluginNotFound) {
					t.Errorf("error = %v, want ErrPluginNotFound", err)
				}
				return
			}
			if d == nil || s == nil {
				t.Error("expected non-nil plugins")
			}
		})
	}
}

func TestRegistry_Formats(t *testing.T) {
	r := NewDefaultRegistry()

	want := []string{FormatCloudEvents, FormatJSON, FormatMsgpack, FormatYAML}
	if diff := cmp.Diff(want, r.Formats()); diff != "" {
		t.Errorf("Formats() mismatch (-want +got):\n%s", diff)
	}

	r.RegisterSerializer("write-only", func() converter.Serializer { return jsonPlugin{} })
	if diff := cmp.Diff(want, r.Formats()); diff != "" {
		t.Errorf("Formats() should ignore one-directional plugins (-want +got):\n%s", diff)
	}
}

func TestNewPipeline_MissingPlugin(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		name    string
		options bag.ConverterOptions
	}{
		{"missing input", bag.ConverterOptions{InputSerializationFormat: "cdr", OutputSerializationFormat: FormatJSON}},
		{"missing output", bag.ConverterOptions{InputSerializationFormat: FormatJSON, OutputSerializationFormat: "cdr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPipeline(r, tt.options)
			if err == nil {
				t.Fatal("expected error")
			}
			if !stderrors.Is(err, errors.ErrPluginNotFound) {
				t.Errorf("error = %v, want ErrPluginNotFound", err)
			}
			if p != nil {
				t.Error("expected nil pipeline")
			}
		})
	}
}

func TestPipeline_Convert(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output string
		data   []byte
		decode func(t *testing.T, data []byte) any
	}{
		{
			name:   "json to msgpack",
			input:  FormatJSON,
			output: FormatMsgpack,
			data:   []byte(`{"orderId":"o-1","status":"created"}`),
			decode: func(t *testing.T, data []byte) any {
				var v map[string]any
				if err := msgpack.Unmarshal(data, &v); err != nil {
					t.Fatalf("msgpack.Unmarshal() error = %v", err)
				}
				return v
			},
		},
		{
			name:   "yaml to json",
			input:  FormatYAML,
			output: FormatJSON,
			data:   []byte("orderId: o-1\nstatus: created\n"),
			decode: func(t *testing.T, data []byte) any {
				var v map[string]any
				if err := json.Unmarshal(data, &v); err != nil {
					t.Fatalf("json.Unmarshal() error = %v", err)
				}
				return v
			},
		},
	}

	want := map[string]any{"orderId": "o-1", "status": "created"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPipeline(NewDefaultRegistry(), bag.ConverterOptions{
				InputSerializationFormat:  tt.input,
				OutputSerializationFormat: tt.output,
			})
			if err != nil {
				t.Fatalf("NewPipeline() error = %v", err)
			}
			p.AddTopic("/orders", "shop.Order")

			in := &bag.Message{TopicName: "/orders", Data: tt.data, RecvTimestamp: 42, SendTimestamp: 41}
			out, err := p.Convert(in)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}

			if out == in {
				t.Error("Convert() must return a new message")
			}
			if out.TopicName != "/orders" || out.RecvTimestamp != 42 || out.SendTimestamp != 41 {
				t.Errorf("Convert() = %+v, want topic and timestamps preserved", out)
			}
			if diff := cmp.Diff(want, tt.decode(t, out.Data)); diff != "" {
				t.Errorf("converted payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPipeline_ConvertErrors(t *testing.T) {
	p, err := NewPipeline(NewDefaultRegistry(), bag.ConverterOptions{
		InputSerializationFormat:  FormatJSON,
		OutputSerializationFormat: FormatMsgpack,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	in := &bag.Message{TopicName: "/orders", Data: []byte(`{not json`)}
	_, err = p.Convert(in)

	var convErr *errors.ConversionError
	if !stderrors.As(err, &convErr) {
		t.Fatalf("Convert() error = %v, want ConversionError", err)
	}
	if convErr.Stage != "deserialize" || convErr.Format != FormatJSON || convErr.Topic != "/orders" {
		t.Errorf("ConversionError = %+v", convErr)
	}
}

func TestCloudEventsPlugin_RoundTrip(t *testing.T) {
	p, err := NewPipeline(NewDefaultRegistry(), bag.ConverterOptions{
		InputSerializationFormat:  FormatJSON,
		OutputSerializationFormat: FormatCloudEvents,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	p.AddTopic("/orders", "shop.Order")

	out, err := p.Convert(&bag.Message{TopicName: "/orders", Data: []byte(`{"orderId":"o-1"}`), RecvTimestamp: 1_700_000_000_000_000_000})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	e := cloudevents.NewEvent()
	if err := json.Unmarshal(out.Data, &e); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if e.Type() != "shop.Order" {
		t.Errorf("Type() = %q, want shop.Order", e.Type())
	}
	if e.Source() != "kafbag/orders" {
		t.Errorf("Source() = %q, want kafbag/orders", e.Source())
	}
	if e.ID() == "" {
		t.Error("expected generated event id")
	}
	if got := e.Time().UnixNano(); got != 1_700_000_000_000_000_000 {
		t.Errorf("Time() = %d, want message timestamp", got)
	}

	back, err := NewPipeline(NewDefaultRegistry(), bag.ConverterOptions{
		InputSerializationFormat:  FormatCloudEvents,
		OutputSerializationFormat: FormatJSON,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	restored, err := back.Convert(out)
	if err != nil {
		t.Fatalf("Convert() back error = %v", err)
	}
	if string(restored.Data) != `{"orderId":"o-1"}` {
		t.Errorf("restored payload = %s", restored.Data)
	}
}

func TestCloudEventsPlugin_RejectsInvalidEvent(t *testing.T) {
	plugin := newCloudEventsPlugin()

	err := plugin.Deserialize(&bag.Message{Data: []byte(`{"specversion":"1.0"}`)}, "", &converter.Message{})
	if err == nil {
		t.Fatal("expected validation error for event without id, source and type")
	}
}

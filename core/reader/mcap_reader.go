package reader

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/valyala/fastjson"

	"telemetry-pipeline/core/models"
)

// MCAPReader reads MCAP recordings. Message payloads are decoded per
// the channel's message encoding; currently JSON-encoded payloads are
// supported, with each top-level field emitted as its own record.
type MCAPReader struct{}

// NewMCAPReader creates an MCAP-backed Reader.
func NewMCAPReader() *MCAPReader {
	return &MCAPReader{}
}

// Summary reads the file's summary section only; no message decoding.
func (m *MCAPReader) Summary(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := mcap.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open mcap file: %w", err)
	}
	defer r.Close()

	info, err := r.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to read mcap summary: %w", err)
	}

	out := &Summary{}
	if info.Statistics != nil {
		out.MessageCount = info.Statistics.MessageCount
		out.StartTimeNS = int64(info.Statistics.MessageStartTime)
		out.EndTimeNS = int64(info.Statistics.MessageEndTime)
	}
	seen := make(map[string]bool)
	for _, ch := range info.Channels {
		if ch.Topic != "" && !seen[ch.Topic] {
			seen[ch.Topic] = true
			out.Topics = append(out.Topics, ch.Topic)
		}
	}
	return out, nil
}

// Records streams decoded samples for one topic (or all topics when
// topic is empty).
func (m *MCAPReader) Records(path string, topic string, fn func(models.LogRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := mcap.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open mcap file: %w", err)
	}
	defer r.Close()

	opts := []mcap.ReadOpt{mcap.UsingIndex(false)}
	if topic != "" {
		opts = append(opts, mcap.WithTopics([]string{topic}))
	}
	it, err := r.Messages(opts...)
	if err != nil {
		return fmt.Errorf("failed to iterate mcap messages: %w", err)
	}

	var parser fastjson.Parser
	msg := &mcap.Message{}
	for {
		_, channel, message, err := it.NextInto(msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read mcap message: %w", err)
		}

		switch channel.MessageEncoding {
		case "json":
			if err := emitJSONFields(&parser, message, fn); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported message encoding %q on topic %s",
				channel.MessageEncoding, channel.Topic)
		}
	}
}

// emitJSONFields flattens a JSON payload's top-level fields into one
// record each, sharing the message's log time.
func emitJSONFields(parser *fastjson.Parser, message *mcap.Message, fn func(models.LogRecord) error) error {
	v, err := parser.ParseBytes(message.Data)
	if err != nil {
		return fmt.Errorf("malformed json payload: %w", err)
	}
	obj, err := v.Object()
	if err != nil {
		return fmt.Errorf("json payload is not an object: %w", err)
	}

	var emitErr error
	obj.Visit(func(key []byte, field *fastjson.Value) {
		if emitErr != nil {
			return
		}
		emitErr = fn(models.LogRecord{
			Timestamp: int64(message.LogTime),
			Channel:   string(key),
			Value:     jsonValue(field),
		})
	})
	return emitErr
}

func jsonValue(v *fastjson.Value) models.Value {
	switch v.Type() {
	case fastjson.TypeNumber:
		return models.FloatValue(v.GetFloat64())
	case fastjson.TypeString:
		return models.TextValue(string(v.GetStringBytes()))
	case fastjson.TypeTrue:
		return models.BoolValue(true)
	case fastjson.TypeFalse:
		return models.BoolValue(false)
	case fastjson.TypeArray:
		items := v.GetArray()
		list := make([]models.Value, len(items))
		for i, item := range items {
			list[i] = jsonValue(item)
		}
		return models.ListValue(list)
	case fastjson.TypeNull:
		return models.TextValue("")
	default:
		// Nested objects keep their raw JSON text.
		return models.TextValue(v.String())
	}
}

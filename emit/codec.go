package emit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/robsok/dt-replay-demo/errors"
)

// wireEvent is the serialized event shape shared by all codecs:
// {"ts": "<ISO-8601 UTC>", "stream": "<id>", "data": {...}}.
type wireEvent struct {
	TS     string         `json:"ts"     msgpack:"ts"`
	Stream string         `json:"stream" msgpack:"stream"`
	Data   map[string]any `json:"data"   msgpack:"data"`
}

func toWire(event Event) wireEvent {
	return wireEvent{
		TS:     event.TS.UTC().Format(time.RFC3339Nano),
		Stream: event.Stream,
		Data:   event.Data,
	}
}

func (w wireEvent) toEvent() (Event, error) {
	ts, err := time.Parse(time.RFC3339Nano, w.TS)
	if err != nil {
		return Event{}, errors.WrapInvalid(err, "Codec", "Decode", "parse event timestamp")
	}
	return Event{TS: ts.UTC(), Stream: w.Stream, Data: w.Data}, nil
}

// Codec serializes events for the wire. Both directions are needed: the
// replay side encodes, the archive/twin/feed side decodes.
type Codec interface {
	Name() string
	Encode(event Event) ([]byte, error)
	Decode(data []byte) (Event, error)
}

// JSONCodec is the default wire encoding.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Encode serializes the event as a JSON object.
func (JSONCodec) Encode(event Event) ([]byte, error) {
	data, err := json.Marshal(toWire(event))
	if err != nil {
		return nil, errors.WrapInvalid(err, "JSONCodec", "Encode", "marshal event")
	}
	return data, nil
}

// Decode parses a JSON-encoded event.
func (JSONCodec) Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, errors.WrapInvalid(err, "JSONCodec", "Decode", "unmarshal event")
	}
	return w.toEvent()
}

// MsgPackCodec is the compact binary encoding, selected with
// broker.encoding: msgpack.
type MsgPackCodec struct{}

// Name returns "msgpack".
func (MsgPackCodec) Name() string { return "msgpack" }

// Encode serializes the event as MessagePack.
func (MsgPackCodec) Encode(event Event) ([]byte, error) {
	data, err := msgpack.Marshal(toWire(event))
	if err != nil {
		return nil, errors.WrapInvalid(err, "MsgPackCodec", "Encode", "marshal event")
	}
	return data, nil
}

// Decode parses a MessagePack-encoded event.
func (MsgPackCodec) Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Event{}, errors.WrapInvalid(err, "MsgPackCodec", "Decode", "unmarshal event")
	}
	return w.toEvent()
}

// CodecFor resolves a configured encoding name to a codec. An empty name
// selects JSON.
func CodecFor(encoding string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgPackCodec{}, nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Codec", "CodecFor",
			fmt.Sprintf("unknown encoding %q", encoding))
	}
}

package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Chunk payloads are decoded into json.RawMessage values, so this codec
// round-trips item content byte-for-byte without interpreting it.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

package codec

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONCodec uses json-iterator in standard-library compatible mode.
// It honours encoding/json tags, json.RawMessage and json.Marshaler, so envelope
// types stay plain structs.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Valid(data []byte) bool {
	return json.Valid(data)
}

func (c *JSONCodec) ContentType() string {
	return "application/json"
}

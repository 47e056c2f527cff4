package client

import (
	"encoding/json"

	"resilient-rpc/codec"
)

// Result is the outcome of a call that reached a node.
// Unsupported is set when the node does not know the method; Raw is empty then.
type Result struct {
	Raw         json.RawMessage
	Unsupported bool
}

// IsNull reports whether the node answered without a usable value.
func (r Result) IsNull() bool {
	return len(r.Raw) == 0 || string(r.Raw) == "null"
}

// Decode unmarshals the result into v.
func (r Result) Decode(v any) error {
	if r.Unsupported {
		return ErrUnsupportedMethod
	}
	return codec.Default().Decode(r.Raw, v)
}

// Package message defines the JSON-RPC 2.0 envelopes exchanged between a client and a node.
//
// Request is the "envelope" for every call. It is serialized by the codec layer and
// POSTed to an endpoint by the transport layer. Response carries either a result or an
// error object; Result is kept raw so the caller decides how to decode it.
package message

import (
	"encoding/json"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// Version is the only JSON-RPC version spoken on the wire.
const Version = "2.0"

// Request carries the data for a single JSON-RPC call.
//
//   - Params is always a JSON array, "[]" when the call has no parameters.
//   - ID is a raw JSON scalar so a server can echo whatever the client sent.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// NewRequest builds a request with a numeric id. A nil params value is sent as "[]".
func NewRequest(id uint64, method string, params json.RawMessage) *Request {
	if len(params) == 0 {
		params = json.RawMessage("[]")
	}
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
		ID:      json.RawMessage(strconv.FormatUint(id, 10)),
	}
}

// Response is the reply to a Request. Exactly one of Result and Error is expected,
// but nodes in the wild send other shapes too; see protocol.Classify.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// UnmarshalJSON keeps "result": null apart from a missing result: the former decodes to
// a Result of "null", the latter leaves Result empty.
func (r *Response) UnmarshalJSON(data []byte) error {
	type envelope Response
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, (*envelope)(r)); err != nil {
		return err
	}
	if len(r.Result) == 0 && jsoniter.Get(data, "result").ValueType() == jsoniter.NilValue {
		r.Result = json.RawMessage("null")
	}
	return nil
}

// HasResult reports whether the response carried a result field.
func (r *Response) HasResult() bool {
	return len(r.Result) > 0
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Package protocol holds the JSON-RPC 2.0 error codes and decides what a decoded
// response means for the caller.
//
// A response falls into one of three outcomes:
//
//	result present                  → OutcomeResult
//	error matching UnsupportedFunc  → OutcomeUnsupported (capability absent, node healthy)
//	any other error object          → OutcomeServerError (retried like a transport failure)
//	neither result nor error        → OutcomeUnsupported
//
// Keeping "capability absent" apart from "node unreachable" lets a caller fall back to
// defaults for a missing method without treating a healthy node as an outage.
package protocol

import (
	"strings"

	"resilient-rpc/message"
)

// Standard JSON-RPC 2.0 error codes, plus the generic server error used by the mock node.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
	CodeRateLimited    = -32005
)

// MethodNotFoundMessage is the message nodes send with CodeMethodNotFound.
const MethodNotFoundMessage = "Method not found"

// Outcome classifies a well-formed response.
type Outcome int

const (
	OutcomeResult Outcome = iota
	OutcomeUnsupported
	OutcomeServerError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResult:
		return "result"
	case OutcomeUnsupported:
		return "unsupported"
	case OutcomeServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// UnsupportedFunc reports whether an error object means the method is not available
// on the node.
type UnsupportedFunc func(e *message.RPCError) bool

// DefaultUnsupported matches the structured code and, for nodes that send a generic
// code, a case-insensitive "method not found" substring of the message.
func DefaultUnsupported(e *message.RPCError) bool {
	if e == nil {
		return false
	}
	if e.Code == CodeMethodNotFound {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), strings.ToLower(MethodNotFoundMessage))
}

// Classify maps a decoded response to an Outcome. A nil predicate means DefaultUnsupported.
func Classify(resp *message.Response, unsupported UnsupportedFunc) Outcome {
	if unsupported == nil {
		unsupported = DefaultUnsupported
	}
	switch {
	case resp.Error != nil:
		if unsupported(resp.Error) {
			return OutcomeUnsupported
		}
		return OutcomeServerError
	case resp.HasResult():
		return OutcomeResult
	default:
		return OutcomeUnsupported
	}
}

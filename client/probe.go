package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultProbeMethods are tried by Probe when no methods are given. Substrate-style nodes
// usually answer at least one of them.
var DefaultProbeMethods = []string{"system_chain", "system_name", "rpc_methods"}

type ProbeResult struct {
	Method string
	Raw    json.RawMessage
}

// Probe calls methods in order and returns the first one that produced a non-null result.
// Unsupported methods and unavailable calls move on to the next method; cancelling ctx
// stops the probe.
func (c *Client) Probe(ctx context.Context, methods ...string) (ProbeResult, error) {
	if len(methods) == 0 {
		methods = DefaultProbeMethods
	}

	var lastErr error
	for _, method := range methods {
		res, err := c.Call(ctx, method)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ProbeResult{}, err
			}
			lastErr = err
		case res.Unsupported || res.IsNull():
			lastErr = fmt.Errorf("%s: %w", method, ErrUnsupportedMethod)
		default:
			return ProbeResult{Method: method, Raw: res.Raw}, nil
		}
		c.logger.Debug("probe method gave no result", zap.String("method", method), zap.Error(lastErr))
	}

	return ProbeResult{}, fmt.Errorf("%w (tried %s): %w", ErrNoProbeMethod, strings.Join(methods, ", "), lastErr)
}

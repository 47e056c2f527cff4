package client

import (
	"errors"
	"fmt"

	"resilient-rpc/transport"
)

var (
	// ErrConfig matches every *ConfigError.
	ErrConfig = errors.New("invalid client config")
	// ErrInvalidRequest is returned before any network interaction for malformed calls.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnsupportedMethod is returned by Result.Decode for an unsupported outcome.
	ErrUnsupportedMethod = errors.New("method not supported by node")
	// ErrUnavailable matches every *UnavailableError.
	ErrUnavailable = errors.New("rpc unavailable")
	// ErrNoProbeMethod is returned by Probe when no method produced a result.
	ErrNoProbeMethod = errors.New("no probe method available")
)

// TransportError is the retryable failure of one attempt.
type TransportError = transport.TransportError

type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrConfig, e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// UnavailableError is returned after every attempt of a call failed.
// Err is the last attempt's failure, usually a *TransportError.
type UnavailableError struct {
	Method   string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("rpc %s unavailable after %d attempts: %v", e.Method, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

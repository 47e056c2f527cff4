package client

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxRetries     = 3
	DefaultBaseRetryDelay = time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Config is supplied at construction and never changes afterwards.
type Config struct {
	// Endpoints is the ranked endpoint set; index 0 is the primary.
	Endpoints []string `mapstructure:"endpoints" yaml:"endpoints"`
	// MaxRetries is the number of additional attempts after the first. 0 means a single attempt.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// BaseRetryDelay is the backoff unit: attempt k waits BaseRetryDelay*(k-1).
	BaseRetryDelay time.Duration `mapstructure:"base_retry_delay" yaml:"base_retry_delay"`
	// RequestTimeout bounds a single attempt.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// RateLimit caps outgoing attempts per second. 0 disables throttling.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
	// KeepFailoverOnExhaustion keeps the active endpoint where it is after a call runs out
	// of attempts. By default the client goes back to the primary.
	KeepFailoverOnExhaustion bool `mapstructure:"keep_failover_on_exhaustion" yaml:"keep_failover_on_exhaustion"`
}

// DefaultConfig returns a Config with every default filled in and no endpoints.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		BaseRetryDelay: DefaultBaseRetryDelay,
		RequestTimeout: DefaultRequestTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseRetryDelay == 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = 1
	}
	return c
}

// Validate checks c as New would use it.
func (c Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return &ConfigError{Field: "endpoints", Reason: "at least one endpoint is required"}
	}
	for i, e := range c.Endpoints {
		if strings.TrimSpace(e) == "" {
			return &ConfigError{Field: fmt.Sprintf("endpoints[%d]", i), Reason: "must not be blank"}
		}
	}
	if c.MaxRetries < 0 {
		return &ConfigError{Field: "max_retries", Reason: "must not be negative"}
	}
	if c.BaseRetryDelay <= 0 {
		return &ConfigError{Field: "base_retry_delay", Reason: "must be positive"}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigError{Field: "request_timeout", Reason: "must be positive"}
	}
	if c.RateLimit < 0 {
		return &ConfigError{Field: "rate_limit", Reason: "must not be negative"}
	}
	if c.RateBurst < 0 {
		return &ConfigError{Field: "rate_burst", Reason: "must not be negative"}
	}
	return nil
}

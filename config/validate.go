package config

import (
	"fmt"
	"strings"

	"github.com/BaSui01/swarmhandoff/types"
)

// ValidationError carries every rule a configuration violated.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "config validation failed: " + strings.Join(e.Violations, "; ")
}

// Code lets callers classify the error alongside types.Error values.
func (e *ValidationError) Code() types.ErrorCode { return types.ErrConfigValidation }

// Validate checks every rule independently and aggregates the violations.
func Validate(c HandoffConfig) error {
	var v violations

	v.unit("confidence_threshold", c.ConfidenceThreshold)
	v.unit("minimum_confidence_for_handoff", c.MinimumConfidenceForHandoff)
	if c.MinimumConfidenceForHandoff > c.ConfidenceThreshold {
		v.addf("minimum_confidence_for_handoff (%g) must not exceed confidence_threshold (%g)",
			c.MinimumConfidenceForHandoff, c.ConfidenceThreshold)
	}

	v.nonNegative("max_handoff_depth", float64(c.MaxHandoffDepth))
	v.nonNegative("latency_target_ms", float64(c.LatencyTargetMs))
	v.nonNegative("max_latency_threshold_ms", float64(c.MaxLatencyThresholdMs))
	if c.MaxLatencyThresholdMs < c.LatencyTargetMs {
		v.addf("max_latency_threshold_ms (%d) must be >= latency_target_ms (%d)",
			c.MaxLatencyThresholdMs, c.LatencyTargetMs)
	}
	v.nonNegative("throughput_target", c.ThroughputTarget)

	v.nonNegative("max_retries", float64(c.MaxRetries))
	v.nonNegative("retry_delay_ms", float64(c.RetryDelayMs))
	v.nonNegative("handshake_timeout_ms", float64(c.HandshakeTimeoutMs))

	v.nonNegative("circuit_breaker.failure_threshold", float64(c.CircuitBreaker.FailureThreshold))
	v.nonNegative("circuit_breaker.reset_timeout_ms", float64(c.CircuitBreaker.ResetTimeoutMs))
	v.nonNegative("circuit_breaker.half_open_max_calls", float64(c.CircuitBreaker.HalfOpenMaxCalls))

	r := c.Resources
	v.nonNegative("resources.max_concurrent_handshakes", float64(r.MaxConcurrentHandshakes))
	v.nonNegative("resources.max_concurrent_handoffs", float64(r.MaxConcurrentHandoffs))
	v.nonNegative("resources.max_context_size_bytes", float64(r.MaxContextSizeBytes))
	v.nonNegative("resources.max_handoffs_per_second", r.MaxHandoffsPerSecond)
	v.percent("resources.cpu_usage_limit_percent", r.CPUUsageLimitPercent)
	v.percent("resources.memory_usage_limit_percent", r.MemoryUsageLimitPercent)

	v.enum("backoff_strategy", c.BackoffStrategy, string(c.BackoffStrategy))
	v.enum("log_level", c.LogLevel, string(c.LogLevel))
	v.enum("fallback_strategy", c.FallbackStrategy, string(c.FallbackStrategy))

	return v.err()
}

type violations []string

func (v *violations) addf(format string, args ...any) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

func (v *violations) unit(field string, x float64) {
	if x < 0 || x > 1 {
		v.addf("%s must be between 0 and 1, got %g", field, x)
	}
}

func (v *violations) nonNegative(field string, x float64) {
	if x < 0 {
		v.addf("%s must be non-negative, got %g", field, x)
	}
}

func (v *violations) percent(field string, x float64) {
	if x < 0 || x > 100 {
		v.addf("%s must be between 0 and 100, got %g", field, x)
	}
}

func (v *violations) enum(field string, e enumValue, raw string) {
	if !e.Valid() {
		v.addf("%s must be one of [%s], got %q", field, strings.Join(e.Values(), ", "), raw)
	}
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Violations: v}
}

package config

import (
	"fmt"
	"slices"
)

// Built-in preset names, ordered from most lenient to highest throughput.
const (
	PresetDevelopment     = "development"
	PresetProduction      = "production"
	PresetHighPerformance = "highPerformance"
)

// PresetNames lists the built-in presets.
func PresetNames() []string {
	return []string{PresetDevelopment, PresetProduction, PresetHighPerformance}
}

// DefaultHandoffConfig 返回默认配置（与 production 预设一致）
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		ConfidenceThreshold:         0.8,
		MinimumConfidenceForHandoff: 0.6,
		MaxHandoffDepth:             3,

		LatencyTargetMs:       1000,
		MaxLatencyThresholdMs: 5000,
		ThroughputTarget:      50,

		MaxRetries:         3,
		RetryDelayMs:       1000,
		BackoffStrategy:    BackoffExponential,
		HandshakeTimeoutMs: 5000,

		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			ResetTimeoutMs:   60000,
			HalfOpenMaxCalls: 1,
		},
		Resources: ResourceConfig{
			MaxConcurrentHandshakes: 100,
			MaxConcurrentHandoffs:   100,
			MaxContextSizeBytes:     5 << 20,
			MaxHandoffsPerSecond:    100,
			CPUUsageLimitPercent:    80,
			MemoryUsageLimitPercent: 80,
		},

		LogLevel:         LogLevelInfo,
		EnableMetrics:    true,
		FallbackStrategy: FallbackLeastLoaded,
	}
}

// Preset returns a copy of the named preset.
func Preset(name string) (HandoffConfig, error) {
	cfg := DefaultHandoffConfig()

	switch name {
	case PresetDevelopment:
		// 宽松阈值、更多重试、无熔断，便于本地调试
		cfg.ConfidenceThreshold = 0.6
		cfg.MinimumConfidenceForHandoff = 0.4
		cfg.MaxHandoffDepth = 5
		cfg.LatencyTargetMs = 2000
		cfg.MaxLatencyThresholdMs = 10000
		cfg.ThroughputTarget = 5
		cfg.MaxRetries = 5
		cfg.RetryDelayMs = 500
		cfg.BackoffStrategy = BackoffLinear
		cfg.HandshakeTimeoutMs = 10000
		cfg.CircuitBreaker = CircuitBreakerConfig{
			Enabled:          false,
			FailureThreshold: 10,
			ResetTimeoutMs:   30000,
			HalfOpenMaxCalls: 3,
		}
		cfg.Resources = ResourceConfig{
			MaxConcurrentHandshakes: 20,
			MaxConcurrentHandoffs:   20,
			MaxContextSizeBytes:     10 << 20,
			MaxHandoffsPerSecond:    0,
			CPUUsageLimitPercent:    90,
			MemoryUsageLimitPercent: 90,
		}
		cfg.LogLevel = LogLevelDebug

	case PresetProduction:
		// 默认值即生产配置

	case PresetHighPerformance:
		// 低延迟目标、少重试、快速熔断
		cfg.ConfidenceThreshold = 0.7
		cfg.MinimumConfidenceForHandoff = 0.5
		cfg.MaxHandoffDepth = 2
		cfg.LatencyTargetMs = 200
		cfg.MaxLatencyThresholdMs = 1000
		cfg.ThroughputTarget = 500
		cfg.MaxRetries = 1
		cfg.RetryDelayMs = 100
		cfg.BackoffStrategy = BackoffLinear
		cfg.HandshakeTimeoutMs = 2000
		cfg.CircuitBreaker = CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 3,
			ResetTimeoutMs:   15000,
			HalfOpenMaxCalls: 1,
		}
		cfg.Resources = ResourceConfig{
			MaxConcurrentHandshakes: 500,
			MaxConcurrentHandoffs:   500,
			MaxContextSizeBytes:     1 << 20,
			MaxHandoffsPerSecond:    1000,
			CPUUsageLimitPercent:    95,
			MemoryUsageLimitPercent: 90,
		}
		cfg.LogLevel = LogLevelWarn

	default:
		return HandoffConfig{}, fmt.Errorf("unknown preset %q (known: %v)", name, PresetNames())
	}

	return cfg, nil
}

// IsPreset reports whether name is a built-in preset.
func IsPreset(name string) bool {
	return slices.Contains(PresetNames(), name)
}

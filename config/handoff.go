// =============================================================================
// 📦 Handoff 协议配置
// =============================================================================
// 决策阈值、性能目标、重试 / 熔断参数与资源上限。
//
// 所有入口（局部更新、预设、环境变量、文件）都经过同一个 Validate，
// 校验失败时保留上一份生效配置。
// =============================================================================
package config

import (
	"slices"
	"strings"
	"time"
)

// =============================================================================
// 🎯 枚举类型
// =============================================================================

// enumValue is implemented by string enums so the env overlay can reject
// values outside the declared set.
type enumValue interface {
	Valid() bool
	Values() []string
}

// BackoffStrategy selects how retry delays grow.
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

func (b BackoffStrategy) Values() []string {
	return []string{string(BackoffLinear), string(BackoffExponential)}
}

func (b BackoffStrategy) Valid() bool { return slices.Contains(b.Values(), string(b)) }

// LogLevel is the verbosity a preset asks for.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (l LogLevel) Values() []string {
	return []string{string(LogLevelDebug), string(LogLevelInfo), string(LogLevelWarn), string(LogLevelError)}
}

func (l LogLevel) Valid() bool { return slices.Contains(l.Values(), string(l)) }

// FallbackStrategy controls the cascade after a primary handoff path fails.
type FallbackStrategy string

const (
	// FallbackLeastLoaded retries once against the least-loaded agent other than the source.
	FallbackLeastLoaded FallbackStrategy = "least_loaded"
	// FallbackNone surfaces the primary failure directly.
	FallbackNone FallbackStrategy = "none"
)

func (f FallbackStrategy) Values() []string {
	return []string{string(FallbackLeastLoaded), string(FallbackNone)}
}

func (f FallbackStrategy) Valid() bool { return slices.Contains(f.Values(), string(f)) }

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// HandoffConfig 是 handoff 协议层的完整策略配置
type HandoffConfig struct {
	// 决策阈值
	ConfidenceThreshold         float64 `yaml:"confidence_threshold" toml:"confidence_threshold" json:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	MinimumConfidenceForHandoff float64 `yaml:"minimum_confidence_for_handoff" toml:"minimum_confidence_for_handoff" json:"minimum_confidence_for_handoff" env:"MIN_CONFIDENCE"`
	MaxHandoffDepth             int     `yaml:"max_handoff_depth" toml:"max_handoff_depth" json:"max_handoff_depth" env:"MAX_DEPTH"`

	// 性能目标
	LatencyTargetMs       int     `yaml:"latency_target_ms" toml:"latency_target_ms" json:"latency_target_ms" env:"LATENCY_TARGET_MS"`
	MaxLatencyThresholdMs int     `yaml:"max_latency_threshold_ms" toml:"max_latency_threshold_ms" json:"max_latency_threshold_ms" env:"MAX_LATENCY_MS"`
	ThroughputTarget      float64 `yaml:"throughput_target" toml:"throughput_target" json:"throughput_target" env:"THROUGHPUT_TARGET"`

	// 重试
	MaxRetries         int             `yaml:"max_retries" toml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	RetryDelayMs       int             `yaml:"retry_delay_ms" toml:"retry_delay_ms" json:"retry_delay_ms" env:"RETRY_DELAY_MS"`
	BackoffStrategy    BackoffStrategy `yaml:"backoff_strategy" toml:"backoff_strategy" json:"backoff_strategy" env:"BACKOFF_STRATEGY"`
	HandshakeTimeoutMs int             `yaml:"handshake_timeout_ms" toml:"handshake_timeout_ms" json:"handshake_timeout_ms" env:"HANDSHAKE_TIMEOUT_MS"`

	// 熔断
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" toml:"circuit_breaker" json:"circuit_breaker" env:"CIRCUIT_BREAKER"`

	// 资源上限
	Resources ResourceConfig `yaml:"resources" toml:"resources" json:"resources" env:"RESOURCES"`

	LogLevel         LogLevel         `yaml:"log_level" toml:"log_level" json:"log_level" env:"LOG_LEVEL"`
	EnableMetrics    bool             `yaml:"enable_metrics" toml:"enable_metrics" json:"enable_metrics" env:"ENABLE_METRICS"`
	FallbackStrategy FallbackStrategy `yaml:"fallback_strategy" toml:"fallback_strategy" json:"fallback_strategy" env:"FALLBACK_STRATEGY"`
}

// CircuitBreakerConfig 熔断器参数
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled" toml:"enabled" json:"enabled" env:"ENABLED"`
	FailureThreshold int  `yaml:"failure_threshold" toml:"failure_threshold" json:"failure_threshold" env:"FAILURE_THRESHOLD"`
	ResetTimeoutMs   int  `yaml:"reset_timeout_ms" toml:"reset_timeout_ms" json:"reset_timeout_ms" env:"RESET_TIMEOUT_MS"`
	HalfOpenMaxCalls int  `yaml:"half_open_max_calls" toml:"half_open_max_calls" json:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
}

// ResourceConfig 资源上限；0 表示不限制
type ResourceConfig struct {
	MaxConcurrentHandshakes int     `yaml:"max_concurrent_handshakes" toml:"max_concurrent_handshakes" json:"max_concurrent_handshakes" env:"MAX_CONCURRENT_HANDSHAKES"`
	MaxConcurrentHandoffs   int     `yaml:"max_concurrent_handoffs" toml:"max_concurrent_handoffs" json:"max_concurrent_handoffs" env:"MAX_CONCURRENT_HANDOFFS"`
	MaxContextSizeBytes     int     `yaml:"max_context_size_bytes" toml:"max_context_size_bytes" json:"max_context_size_bytes" env:"MAX_CONTEXT_SIZE_BYTES"`
	MaxHandoffsPerSecond    float64 `yaml:"max_handoffs_per_second" toml:"max_handoffs_per_second" json:"max_handoffs_per_second" env:"MAX_HANDOFFS_PER_SECOND"`
	CPUUsageLimitPercent    float64 `yaml:"cpu_usage_limit_percent" toml:"cpu_usage_limit_percent" json:"cpu_usage_limit_percent" env:"CPU_LIMIT_PERCENT"`
	MemoryUsageLimitPercent float64 `yaml:"memory_usage_limit_percent" toml:"memory_usage_limit_percent" json:"memory_usage_limit_percent" env:"MEMORY_LIMIT_PERCENT"`
}

// =============================================================================
// 🔍 辅助方法
// =============================================================================

// DefaultHandshakeTimeout 未配置（<=0）时的关联等待上限
const DefaultHandshakeTimeout = 5 * time.Second

// HandshakeTimeout returns the correlation bound for handshake and negotiation
// waits. Zero or negative values mean DefaultHandshakeTimeout.
func (c HandoffConfig) HandshakeTimeout() time.Duration {
	if c.HandshakeTimeoutMs <= 0 {
		return DefaultHandshakeTimeout
	}
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// RetryDelay returns the base retry delay.
func (c HandoffConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// LatencyTarget returns the latency target as a duration.
func (c HandoffConfig) LatencyTarget() time.Duration {
	return time.Duration(c.LatencyTargetMs) * time.Millisecond
}

// ResetTimeout returns how long an open breaker waits before probing again.
func (c CircuitBreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutMs) * time.Millisecond
}

// Exponential reports whether retries back off exponentially.
func (c HandoffConfig) Exponential() bool {
	return strings.EqualFold(string(c.BackoffStrategy), string(BackoffExponential))
}

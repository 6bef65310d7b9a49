// =============================================================================
// 📦 swarmhandoff 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Agent:     DefaultAgentConfig(),
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Handoff:   DefaultHandoffConfig(),
	}
}

// DefaultAgentConfig 返回默认 Agent 身份
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		ID:              "agent-1",
		Name:            "swarm agent",
		ProtocolVersion: "1.0",
		Auth: AuthConfig{
			Issuer:   "swarmhandoff",
			Audience: "swarm",
			TokenTTL: 5 * time.Minute,
		},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "swarm:handoff:",
		ContextTTL:   10 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "swarmhandoff",
		SampleRate:   0.1,
		Insecure:     true,
	}
}

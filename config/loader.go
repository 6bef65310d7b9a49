// =============================================================================
// 📦 swarmhandoff 进程配置加载器
// =============================================================================
// 统一配置加载，支持 YAML / TOML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("swarm.yaml").
//	    WithEnvPrefix("SWARM").
//	    Load()
//
// 配置优先级: 默认值 → 配置文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是一个 swarmhandoff 进程的完整配置
type Config struct {
	// Agent 本进程代表的蜂群成员
	Agent AgentConfig `yaml:"agent" toml:"agent" env:"AGENT"`

	// Server HTTP 服务（/ws 事件桥、/metrics、/health）
	Server ServerConfig `yaml:"server" toml:"server" env:"SERVER"`

	// Redis 上下文存储
	Redis RedisConfig `yaml:"redis" toml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" toml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry" env:"TELEMETRY"`

	// Handoff 协议策略
	Handoff HandoffConfig `yaml:"handoff" toml:"handoff" env:"HANDOFF"`

	// Preset 非空时先加载该预设，再叠加 handoff 段
	Preset string `yaml:"preset" toml:"preset" env:"PRESET"`
}

// AgentConfig 本地 Agent 身份
type AgentConfig struct {
	ID              string   `yaml:"id" toml:"id" env:"ID"`
	Name            string   `yaml:"name" toml:"name" env:"NAME"`
	Capabilities    []string `yaml:"capabilities" toml:"capabilities" env:"CAPABILITIES"`
	ProtocolVersion string   `yaml:"protocol_version" toml:"protocol_version" env:"PROTOCOL_VERSION"`
	// Peers 需要建立事件桥的远端 ws 地址
	Peers []string `yaml:"peers" toml:"peers" env:"PEERS"`
	// Auth 握手鉴权
	Auth AuthConfig `yaml:"auth" toml:"auth" env:"AUTH"`
}

// AuthConfig 握手 JWT 鉴权；Secret 为空时不鉴权
type AuthConfig struct {
	Secret   string        `yaml:"secret" toml:"secret" env:"SECRET"`
	Issuer   string        `yaml:"issuer" toml:"issuer" env:"ISSUER"`
	Audience string        `yaml:"audience" toml:"audience" env:"AUDIENCE"`
	TokenTTL time.Duration `yaml:"token_ttl" toml:"token_ttl" env:"TOKEN_TTL"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" toml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 同时设置时以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" toml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" toml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否使用 Redis 作为上下文存储（否则使用内存存储）
	Enabled      bool          `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Addr         string        `yaml:"addr" toml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" toml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" toml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" toml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" toml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string        `yaml:"key_prefix" toml:"key_prefix" env:"KEY_PREFIX"`
	ContextTTL   time.Duration `yaml:"context_ttl" toml:"context_ttl" env:"CONTEXT_TTL"`
	// 连接 Redis 时启用 TLS
	TLS bool `yaml:"tls" toml:"tls" env:"TLS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" toml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" toml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" toml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" toml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" toml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" toml:"sample_rate" env:"SAMPLE_RATE"`
	// 以明文 gRPC 连接 collector（本机 sidecar 场景）
	Insecure bool `yaml:"insecure" toml:"insecure" env:"INSECURE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookup     EnvLookup
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "SWARM",
		lookup:    os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup 替换环境变量来源（测试用）
func (l *Loader) WithEnvLookup(lookup EnvLookup) *Loader {
	l.lookup = lookup
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → 预设 → 配置文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	var errs []string
	overlayEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, l.lookup, &errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load config from env: %w", &ValidationError{Violations: errs})
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile 先应用文件中声明的预设，再用文件内容覆盖
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var head struct {
		Preset string `yaml:"preset" toml:"preset" json:"preset"`
	}
	if err := decodeFile(l.configPath, data, &head); err != nil {
		return err
	}
	if head.Preset != "" {
		preset, err := Preset(head.Preset)
		if err != nil {
			return err
		}
		cfg.Handoff = preset
	}
	return decodeFile(l.configPath, data, cfg)
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// Validate 验证进程配置（handoff 段的规则错误会一并汇总）
func (c *Config) Validate() error {
	var errs []error

	if c.Agent.ID == "" {
		errs = append(errs, errors.New("agent.id is required"))
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port %d", c.Server.HTTPPort))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tls_cert_file and server.tls_key_file must be set together"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %g", c.Telemetry.SampleRate))
	}
	if err := Validate(c.Handoff); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen 熔断器打开
	ErrCircuitOpen = types.NewError(types.ErrCircuitOpen, "circuit breaker is open")
	// ErrTooManyCallsInHalfOpen 半开状态下试探请求已满
	ErrTooManyCallsInHalfOpen = types.NewError(types.ErrCircuitOpen, "too many calls in half-open state")
)

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int
	// ResetTimeout 熔断恢复等待时间（Open -> HalfOpen）
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开状态下允许的试探请求数
	HalfOpenMaxCalls int
	// OnStateChange 状态变更回调
	OnStateChange func(name string, from, to State)
}

// FromConfig 从 handoff 配置构建熔断参数
func FromConfig(cfg config.CircuitBreakerConfig) Config {
	return Config{
		Threshold:        cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout(),
		HalfOpenMaxCalls: cfg.HalfOpenMaxCalls,
	}
}

// Breaker 是按连续失败计数的熔断器
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu                sync.Mutex
	state             State
	failureCount      int
	openedAt          time.Time
	halfOpenCallCount int
}

// New 创建熔断器
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &Breaker{
		name:   name,
		config: cfg,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("breaker", name)),
		now:    time.Now,
		state:  StateClosed,
	}
}

// Call 在熔断器保护下执行 fn
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.beforeCall(); err != nil {
		return zero, fmt.Errorf("%s: %w", b.name, err)
	}
	result, err := fn(ctx)
	// 调用方取消不计入失败
	b.afterCall(err == nil || errors.Is(err, context.Canceled))
	return result, err
}

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.halfOpenCallCount = 0
	b.setState(StateClosed)
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.ResetTimeout {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.halfOpenCallCount = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failureCount = 0
		if b.state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.failureCount++
	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.setState(StateOpen)
	b.logger.Warn("circuit breaker opened", zap.Int("failures", b.failureCount))
}

// setState 需持有锁
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// Set 按名称（通常是目标 agent）懒创建熔断器
type Set struct {
	mu       sync.Mutex
	config   Config
	breakers map[string]*Breaker
	logger   *zap.Logger
}

// NewSet 创建熔断器集合
func NewSet(cfg Config, logger *zap.Logger) *Set {
	return &Set{config: cfg, breakers: make(map[string]*Breaker), logger: logger}
}

// Get 返回 name 对应的熔断器
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = New(name, s.config, s.logger)
		s.breakers[name] = b
	}
	return b
}

// Reconfigure 丢弃所有熔断器，之后按新参数创建
func (s *Set) Reconfigure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	s.breakers = make(map[string]*Breaker)
}

// States 返回各熔断器当前状态
func (s *Set) States() map[string]State {
	s.mu.Lock()
	breakers := make(map[string]*Breaker, len(s.breakers))
	for k, v := range s.breakers {
		breakers[k] = v
	}
	s.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for k, b := range breakers {
		out[k] = b.State()
	}
	return out
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/config"
)

// Policy 定义重试策略
// 总尝试次数 = MaxRetries + 1
type Policy struct {
	MaxRetries   int                                               // 额外重试次数（0 表示只执行一次）
	InitialDelay time.Duration                                     // 第一次重试前的延迟
	MaxDelay     time.Duration                                     // 延迟上限（0 表示不限制）
	Multiplier   float64                                           // 1 为线性（固定延迟），2 为指数退避
	Jitter       bool                                              // ±25% 随机抖动
	Retryable    func(err error) bool                              // 为空则所有错误都可重试
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// FromConfig 从 handoff 配置构建重试策略
func FromConfig(cfg config.HandoffConfig) Policy {
	p := Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay(),
		Multiplier:   1,
	}
	if cfg.Exponential() {
		p.Multiplier = 2
	}
	return p
}

// ExhaustedError 所有尝试均失败
type ExhaustedError struct {
	Label    string
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation %s failed after %d attempts: %v", e.Label, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

// Do 执行 fn，失败时按策略重试
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := max(p.MaxRetries, 0)

	var (
		zero    T
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= maxRetries+1; attempt++ {
		// 第一次执行不延迟
		if attempt > 1 {
			delay := p.Delay(attempt - 1)

			logger.Debug("retrying operation",
				zap.String("operation", label),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxRetries+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			if p.OnRetry != nil {
				p.OnRetry(attempt-1, lastErr, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("operation %s cancelled during backoff: %w", label, err)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			logger.Debug("error not retryable", zap.String("operation", label), zap.Error(err))
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	attempts := min(attempt, maxRetries+1)

	logger.Warn("retries exhausted",
		zap.String("operation", label),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))

	return zero, &ExhaustedError{Label: label, Attempts: attempts, Cause: lastErr}
}

// Delay 返回第 retry 次重试（从 1 开始）前的等待时间：
// InitialDelay × Multiplier^(retry-1)
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 || p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(retry-1))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsExhausted 判断错误是否来自重试耗尽
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}

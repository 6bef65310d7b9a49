package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/config"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Policy{MaxRetries: 3}, zap.NewNop(), "noop",
		func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryThenSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Policy{MaxRetries: 3, InitialDelay: time.Millisecond}, nil, "flaky",
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("temporary error")
			}
			return calls, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestDo_MaxRetriesTwoMeansThreeAttempts(t *testing.T) {
	calls := 0
	root := errors.New("backend unreachable")

	_, err := Do(context.Background(), Policy{MaxRetries: 2}, zap.NewNop(), "initiate",
		func(context.Context) (any, error) {
			calls++
			return nil, root
		})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, root))
	assert.True(t, IsExhausted(err))
	assert.Equal(t, "operation initiate failed after 3 attempts: backend unreachable", err.Error())
}

func TestDo_NonRetryableStopsEarly(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	_, err := Do(context.Background(), Policy{
		MaxRetries: 5,
		Retryable:  func(err error) bool { return !errors.Is(err, fatal) },
	}, nil, "op", func(context.Context) (any, error) {
		calls++
		return nil, fatal
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "after 1 attempts")
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var retries []int

	_, err := Do(ctx, Policy{
		MaxRetries:   3,
		InitialDelay: time.Hour,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retries = append(retries, attempt)
			cancel()
		},
	}, nil, "slow", func(context.Context) (any, error) {
		return nil, errors.New("nope")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []int{1}, retries)
}

func TestPolicy_Delay(t *testing.T) {
	linear := Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 1}
	assert.Equal(t, 100*time.Millisecond, linear.Delay(1))
	assert.Equal(t, 100*time.Millisecond, linear.Delay(3))

	exp := Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, exp.Delay(1))
	assert.Equal(t, 200*time.Millisecond, exp.Delay(2))
	assert.Equal(t, 400*time.Millisecond, exp.Delay(3))

	capped := Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 150 * time.Millisecond}
	assert.Equal(t, 150*time.Millisecond, capped.Delay(4))

	assert.Zero(t, exp.Delay(0))
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultHandoffConfig()
	cfg.MaxRetries = 4
	cfg.RetryDelayMs = 250
	cfg.BackoffStrategy = config.BackoffExponential

	p := FromConfig(cfg)
	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 2.0, p.Multiplier)

	cfg.BackoffStrategy = config.BackoffLinear
	assert.Equal(t, 1.0, FromConfig(cfg).Multiplier)
}

// Property: a permanently failing op runs exactly MaxRetries+1 times and the
// error reports that count.
func TestProperty_AttemptCount(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("attempts == maxRetries+1", prop.ForAll(
		func(maxRetries int) bool {
			calls := 0
			_, err := Do(context.Background(), Policy{MaxRetries: maxRetries}, nil, "prop",
				func(context.Context) (any, error) {
					calls++
					return nil, errors.New("fail")
				})
			var ex *ExhaustedError
			return errors.As(err, &ex) && calls == maxRetries+1 && ex.Attempts == calls
		},
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

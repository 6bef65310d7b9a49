package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/types"
)

var errBackend = errors.New("backend down")

func fail(context.Context) (int, error)    { return 0, errBackend }
func succeed(context.Context) (int, error) { return 1, nil }

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	b := New("target", cfg, zap.NewNop())
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := Call(context.Background(), b, fail)
		assert.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, StateOpen, b.State())

	_, err := Call(context.Background(), b, succeed)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCircuitOpen))
	assert.Contains(t, err.Error(), "target: circuit breaker is open")
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	var transitions []string
	b, now := newTestBreaker(Config{
		Threshold:    1,
		ResetTimeout: time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_, _ = Call(context.Background(), b, fail)
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(2 * time.Second)
	got, err := Call(context.Background(), b, succeed)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{Threshold: 1, ResetTimeout: time.Second})

	_, _ = Call(context.Background(), b, fail)
	*now = now.Add(2 * time.Second)
	_, _ = Call(context.Background(), b, fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 2})

	_, _ = Call(context.Background(), b, fail)
	_, _ = Call(context.Background(), b, succeed)
	_, _ = Call(context.Background(), b, fail)
	assert.Equal(t, StateClosed, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestSet_PerTargetAndReconfigure(t *testing.T) {
	s := NewSet(FromConfig(config.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeoutMs: 60000}), zap.NewNop())

	_, _ = Call(context.Background(), s.Get("a"), fail)
	_, err := Call(context.Background(), s.Get("b"), succeed)
	require.NoError(t, err)

	states := s.States()
	assert.Equal(t, StateOpen, states["a"])
	assert.Equal(t, StateClosed, states["b"])

	s.Reconfigure(FromConfig(config.CircuitBreakerConfig{FailureThreshold: 5}))
	assert.Empty(t, s.States())
	assert.Equal(t, StateClosed, s.Get("a").State())
}

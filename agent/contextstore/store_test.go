package contextstore

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/internal/cache"
	"github.com/BaSui01/swarmhandoff/types"
)

type store interface {
	InitiateHandoff(ctx context.Context, req *types.HandoffRequest) (*types.HandoffResponse, error)
	CompleteHandoff(ctx context.Context, handoffID, targetAgentID string) (any, error)
}

func newRedisStore(t *testing.T, opts ...Option) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := cache.NewManager(context.Background(), cache.Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "test:",
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, NewRedisStore(m, opts...)
}

func stores(t *testing.T) map[string]store {
	_, rs := newRedisStore(t)
	return map[string]store{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func request(id string) *types.HandoffRequest {
	return &types.HandoffRequest{
		HandoffID:     id,
		SourceAgentID: "agent-a",
		TargetAgentID: "agent-b",
		TaskID:        "task-1",
		Context: map[string]any{
			"summary": strings.Repeat("quarterly numbers ", 50),
			"step":    3,
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			resp, err := s.InitiateHandoff(ctx, request("h-1"))
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Equal(t, "h-1", resp.HandoffID)
			assert.Positive(t, resp.CompressedSize)
			assert.Less(t, resp.CompressedSize, 900, "repetitive context compresses")

			got, err := s.CompleteHandoff(ctx, "h-1", "agent-b")
			require.NoError(t, err)
			m, ok := got.(map[string]any)
			require.True(t, ok)
			assert.EqualValues(t, 3, m["step"])
			assert.Equal(t, strings.Repeat("quarterly numbers ", 50), m["summary"])
		})
	}
}

func TestStore_OneShot(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.InitiateHandoff(ctx, request("h-1"))
			require.NoError(t, err)

			_, err = s.CompleteHandoff(ctx, "h-1", "agent-b")
			require.NoError(t, err)

			_, err = s.CompleteHandoff(ctx, "h-1", "agent-b")
			assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
		})
	}
}

func TestStore_WrongTargetKeepsEntry(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.InitiateHandoff(ctx, request("h-1"))
			require.NoError(t, err)

			_, err = s.CompleteHandoff(ctx, "h-1", "agent-c")
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrProtocol))
			assert.Contains(t, err.Error(), "addressed to agent-b")

			_, err = s.CompleteHandoff(ctx, "h-1", "agent-b")
			assert.NoError(t, err)
		})
	}
}

func TestStore_Validation(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.InitiateHandoff(ctx, nil)
			assert.Error(t, err)

			_, err = s.InitiateHandoff(ctx, &types.HandoffRequest{HandoffID: "h-1"})
			assert.True(t, types.IsErrorCode(err, types.ErrProtocol))

			late := request("h-2")
			late.Deadline = time.Now().Add(-time.Second)
			_, err = s.InitiateHandoff(ctx, late)
			assert.ErrorContains(t, err, "deadline already passed")

			bad := request("h-3")
			bad.Context = func() {}
			_, err = s.InitiateHandoff(ctx, bad)
			assert.ErrorContains(t, err, "encode context")
		})
	}
}

func TestStore_MaxSize(t *testing.T) {
	_, rs := newRedisStore(t, WithMaxSize(16))
	for name, s := range map[string]store{"memory": NewMemoryStore(WithMaxSize(16)), "redis": rs} {
		t.Run(name, func(t *testing.T) {
			_, err := s.InitiateHandoff(context.Background(), request("h-1"))
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrCapacityExceeded)
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	s := NewMemoryStore(WithTTL(time.Minute), func(o *options) {
		o.now = func() time.Time { return time.Unix(0, now.Load()) }
	})

	_, err := s.InitiateHandoff(context.Background(), request("h-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	now.Add(int64(2 * time.Minute))
	assert.Equal(t, 0, s.Len())
	_, err = s.CompleteHandoff(context.Background(), "h-1", "agent-b")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestRedisStore_TTLFromDeadline(t *testing.T) {
	mr, s := newRedisStore(t, WithTTL(time.Hour))
	req := request("h-1")
	req.Deadline = time.Now().Add(30 * time.Second)

	_, err := s.InitiateHandoff(context.Background(), req)
	require.NoError(t, err)

	ttl := mr.TTL("test:ctx:h-1")
	assert.Greater(t, ttl, 20*time.Second)
	assert.LessOrEqual(t, ttl, 30*time.Second)

	mr.FastForward(31 * time.Second)
	_, err = s.CompleteHandoff(context.Background(), "h-1", "agent-b")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestRedisStore_ConcurrentCompleteOnlyOneWins(t *testing.T) {
	_, s := newRedisStore(t)
	_, err := s.InitiateHandoff(context.Background(), request("h-1"))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CompleteHandoff(context.Background(), "h-1", "agent-b"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	_, err := s.InitiateHandoff(ctx, request("h-1"))
	assert.ErrorIs(t, err, context.Canceled)
}

package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/config"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := NewManager(context.Background(), Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "test:",
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestFromConfig(t *testing.T) {
	rc := config.DefaultRedisConfig()
	cfg := FromConfig(rc)
	assert.Equal(t, rc.Addr, cfg.Addr)
	assert.Equal(t, "swarm:handoff:", cfg.KeyPrefix)
	assert.Equal(t, 10*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.False(t, cfg.TLS)

	rc.TLS = true
	assert.True(t, FromConfig(rc).TLS)
}

func TestNewManager_TLSAgainstPlainServerFails(t *testing.T) {
	mr := miniredis.RunT(t)
	_, err := NewManager(context.Background(), Config{
		Addr:        mr.Addr(),
		TLS:         true,
		DialTimeout: 500 * time.Millisecond,
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestManager_SetAndGetBytes_UsesPrefix(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.SetBytes(ctx, "h-1", []byte("payload"), 0))

	raw, err := mr.Get("test:h-1")
	require.NoError(t, err)
	assert.Equal(t, "payload", raw)

	got, err := manager.GetBytes(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	// 默认 TTL 生效
	assert.Equal(t, time.Minute, mr.TTL("test:h-1"))
}

func TestManager_GetMiss(t *testing.T) {
	_, manager := setupTestRedis(t)

	_, err := manager.GetBytes(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_TakeBytesIsOneShot(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.SetBytes(ctx, "h-2", []byte("ctx"), time.Minute))

	got, err := manager.TakeBytes(ctx, "h-2")
	require.NoError(t, err)
	assert.Equal(t, []byte("ctx"), got)

	_, err = manager.TakeBytes(ctx, "h-2")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	type envelope struct {
		Target string `json:"target"`
		Size   int    `json:"size"`
	}
	require.NoError(t, manager.SetJSON(ctx, "env", envelope{Target: "agent-b", Size: 42}, 0))

	var out envelope
	require.NoError(t, manager.GetJSON(ctx, "env", &out))
	assert.Equal(t, "agent-b", out.Target)
	assert.Equal(t, 42, out.Size)

	assert.Error(t, manager.SetJSON(ctx, "bad", make(chan int), 0))

	require.NoError(t, manager.SetBytes(ctx, "not-json", []byte("nope"), 0))
	assert.Error(t, manager.GetJSON(ctx, "not-json", &out))
}

func TestManager_DeleteAndExists(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.SetBytes(ctx, "a", []byte("1"), 0))
	ok, err := manager.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, manager.Delete(ctx, "a"))
	require.NoError(t, manager.Delete(ctx))

	ok, err = manager.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_TTLExpiry(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.SetBytes(ctx, "short", []byte("v"), 100*time.Millisecond))
	mr.FastForward(200 * time.Millisecond)

	_, err := manager.GetBytes(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_ConnectFailure(t *testing.T) {
	manager, err := NewManager(context.Background(), Config{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	}, nil)
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	mr := miniredis.RunT(t)
	manager, err := NewManager(context.Background(), Config{
		Addr:                mr.Addr(),
		HealthCheckInterval: 10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
	_, err = manager.GetBytes(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_ConcurrentOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-%d", id)
			assert.NoError(t, manager.SetBytes(ctx, key, []byte("value"), time.Minute))
			got, err := manager.GetBytes(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, []byte("value"), got)
		}(i)
	}
	wg.Wait()
}

package swarm

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/swarmhandoff/types"
)

func TestDirectory_RegisterAndGet(t *testing.T) {
	d := NewDirectory(nil)
	require.Error(t, d.Register(types.Agent{}))

	caps := []string{"summarize"}
	require.NoError(t, d.Register(types.Agent{ID: "a", Capabilities: caps, Locality: types.Remote()}))
	caps[0] = "mutated"

	a, ok := d.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"summarize"}, a.Capabilities)

	a.Capabilities[0] = "changed"
	again, _ := d.Get("a")
	assert.Equal(t, "summarize", again.Capabilities[0])
}

func TestDirectory_Capabilities(t *testing.T) {
	d := NewDirectory(nil)
	require.NoError(t, d.Register(types.Agent{ID: "bare"}))
	require.NoError(t, d.Register(types.Agent{ID: "rich", Capabilities: []string{"code"}}))

	_, ok := d.Capabilities("bare")
	assert.False(t, ok)
	_, ok = d.Capabilities("missing")
	assert.False(t, ok)
	caps, ok := d.Capabilities("rich")
	assert.True(t, ok)
	assert.Equal(t, []string{"code"}, caps)
}

func TestDirectory_AdjustWorkload(t *testing.T) {
	d := NewDirectory(nil)
	require.NoError(t, d.Register(types.Agent{ID: "a", Workload: 1}))

	n, err := d.AdjustWorkload("a", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = d.AdjustWorkload("a", -10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = d.AdjustWorkload("ghost", 1)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	// 重新注册保留当前负载
	_, _ = d.AdjustWorkload("a", 4)
	require.NoError(t, d.Register(types.Agent{ID: "a", Name: "renamed"}))
	a, _ := d.Get("a")
	assert.Equal(t, 4, a.Workload)
	assert.Equal(t, "renamed", a.Name)
}

func TestDirectory_LeastLoaded(t *testing.T) {
	d := NewDirectory(nil)
	_, ok := d.LeastLoaded()
	assert.False(t, ok)

	require.NoError(t, d.Register(types.Agent{ID: "src", Workload: 0}))
	require.NoError(t, d.Register(types.Agent{ID: "b", Workload: 2}))
	require.NoError(t, d.Register(types.Agent{ID: "a", Workload: 2}))
	require.NoError(t, d.Register(types.Agent{ID: "c", Workload: 5}))

	best, ok := d.LeastLoaded("src")
	require.True(t, ok)
	assert.Equal(t, "a", best.ID, "ties go to the lowest id")

	best, _ = d.LeastLoaded()
	assert.Equal(t, "src", best.ID)

	_, ok = d.LeastLoaded("src", "a", "b", "c")
	assert.False(t, ok)
}

func TestDirectory_LeastLoadedIsMinimum(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		loads := rapid.SliceOfN(rapid.IntRange(0, 50), 1, 20).Draw(t, "loads")
		d := NewDirectory(nil)
		minLoad := loads[0]
		for i, l := range loads {
			_ = d.Register(types.Agent{ID: fmt.Sprintf("agent-%02d", i), Workload: l})
			minLoad = min(minLoad, l)
		}
		best, ok := d.LeastLoaded()
		if !ok || best.Workload != minLoad {
			t.Fatalf("expected workload %d, got %+v", minLoad, best)
		}
	})
}

func TestDirectory_ConcurrentWorkload(t *testing.T) {
	d := NewDirectory(nil)
	require.NoError(t, d.Register(types.Agent{ID: "a"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.AdjustWorkload("a", 1)
		}()
	}
	wg.Wait()

	a, _ := d.Get("a")
	assert.Equal(t, 50, a.Workload)
	assert.Len(t, d.Agents(), 1)
	assert.Equal(t, 1, d.Len())
}

package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/swarmhandoff/types"
)

func TestStatusTable_ProgressIsClamped(t *testing.T) {
	st := newStatusTable()
	require.NoError(t, st.admit("h-1", 0, nil))

	require.True(t, st.update("h-1", func(s *Status) { s.Progress = -10 }))
	s, _ := st.get("h-1")
	assert.Equal(t, 0, s.Progress)

	require.True(t, st.update("h-1", func(s *Status) { s.Progress = 150 }))
	s, _ = st.get("h-1")
	assert.Equal(t, 100, s.Progress)
	assert.Equal(t, StateQueued, s.Status)
}

func TestStatusTable_AdmitEnforcesLimit(t *testing.T) {
	st := newStatusTable()
	require.NoError(t, st.admit("h-1", 2, nil))
	require.NoError(t, st.admit("h-2", 2, nil))

	err := st.admit("h-3", 2, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCapacityExceeded)
	assert.Contains(t, err.Error(), "concurrent handoffs limit 2")
	_, ok := st.get("h-3")
	assert.False(t, ok)

	// a finished handoff frees its slot but stays queryable
	st.update("h-1", func(s *Status) { s.Status = StateCompleted })
	assert.Equal(t, 1, st.inFlight())
	require.NoError(t, st.admit("h-3", 2, nil))
	_, ok = st.get("h-1")
	assert.True(t, ok)
}

func TestStatusTable_RemoveCancelsAndDropsLateUpdates(t *testing.T) {
	st := newStatusTable()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, st.admit("h-1", 0, cancel))

	assert.True(t, st.remove("h-1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, 0, st.inFlight())

	assert.False(t, st.update("h-1", func(s *Status) { s.Progress = 50 }))
	_, ok := st.get("h-1")
	assert.False(t, ok)
	assert.False(t, st.remove("h-1"))
}

func TestStatusTable_SweepDropsOldFinishedEntries(t *testing.T) {
	st := newStatusTable()
	require.NoError(t, st.admit("done", 0, nil))
	require.NoError(t, st.admit("live", 0, nil))
	st.update("done", func(s *Status) { s.Status = StateFailed })

	st.mu.Lock()
	st.sweep(time.Now().Add(statusRetention + time.Minute))
	st.mu.Unlock()

	_, ok := st.get("done")
	assert.False(t, ok)
	_, ok = st.get("live")
	assert.True(t, ok)
}

func TestStats_LatencyWindow(t *testing.T) {
	var s stats
	for i := 1; i <= LatencyWindow+20; i++ {
		s.attempt()
		s.succeed(time.Duration(i) * time.Millisecond)
	}
	s.attempt()
	s.fail()

	m := s.snapshot()
	assert.Equal(t, int64(LatencyWindow+21), m.Attempted)
	assert.Equal(t, int64(LatencyWindow+20), m.Succeeded)
	assert.Equal(t, int64(1), m.Failed)

	require.Len(t, m.LatencyHistory, LatencyWindow)
	assert.Equal(t, 21*time.Millisecond, m.LatencyHistory[0])
	assert.Equal(t, 120*time.Millisecond, m.LatencyHistory[LatencyWindow-1])
	// mean of 21..120 ms
	assert.Equal(t, 70500*time.Microsecond, m.AverageLatency)
	assert.InDelta(t, 120.0/121.0, m.SuccessRate(), 1e-9)
}

func TestStats_Empty(t *testing.T) {
	var s stats
	m := s.snapshot()
	assert.Empty(t, m.LatencyHistory)
	assert.Zero(t, m.AverageLatency)
	assert.Zero(t, m.SuccessRate())
}

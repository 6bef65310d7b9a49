package handoff

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/swarmhandoff/agent/contextstore"
	"github.com/BaSui01/swarmhandoff/agent/events"
	"github.com/BaSui01/swarmhandoff/agent/swarm"
	"github.com/BaSui01/swarmhandoff/agent/worker"
	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/internal/circuitbreaker"
	"github.com/BaSui01/swarmhandoff/internal/metrics"
	"github.com/BaSui01/swarmhandoff/internal/retry"
	"github.com/BaSui01/swarmhandoff/testutil"
	"github.com/BaSui01/swarmhandoff/testutil/mocks"
	"github.com/BaSui01/swarmhandoff/types"
)

// =============================================================================
// fixtures
// =============================================================================

func testConfig(mutate ...func(*config.HandoffConfig)) config.HandoffConfig {
	cfg := config.DefaultHandoffConfig()
	cfg.MaxRetries = 2
	cfg.RetryDelayMs = 1
	cfg.BackoffStrategy = config.BackoffLinear
	cfg.LatencyTargetMs = 60000
	cfg.MaxLatencyThresholdMs = 120000
	for _, m := range mutate {
		m(&cfg)
	}
	return cfg
}

type fixture struct {
	exec    *Executor
	workers *worker.Registry
	dir     *swarm.Directory
	bus     *events.SimpleBus
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, cfg config.HandoffConfig, opts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	mgr, err := config.NewManager(cfg, config.WithManagerLogger(logger))
	require.NoError(t, err)

	f := &fixture{
		workers: worker.NewRegistry(logger),
		dir:     swarm.NewDirectory(logger),
		bus:     testutil.NewBus(t),
		reg:     prometheus.NewRegistry(),
	}
	base := []Option{
		WithLogger(logger),
		WithConfigManager(mgr),
		WithWorkers(f.workers),
		WithDirectory(f.dir),
		WithBus(f.bus),
		WithMetrics(metrics.NewCollector("test", f.reg, logger)),
	}
	f.exec, err = New(append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func (f *fixture) addWorker(t *testing.T, id string, kind types.BackendType, b worker.Backend) {
	t.Helper()
	require.NoError(t, f.workers.Register(worker.Worker{ID: id, Name: id, Backend: kind, Model: "m-" + id}))
	f.workers.RegisterBackend(kind, b)
}

func (f *fixture) addAgent(t *testing.T, id string, workload int) {
	t.Helper()
	require.NoError(t, f.dir.Register(types.Agent{ID: id, Locality: types.Remote()}))
	if workload > 0 {
		_, err := f.dir.AdjustWorkload(id, workload)
		require.NoError(t, err)
	}
}

func workload(t *testing.T, dir *swarm.Directory, id string) int {
	t.Helper()
	a, ok := dir.Get(id)
	require.True(t, ok)
	return a.Workload
}

// =============================================================================
// local path
// =============================================================================

func TestExecutor_LocalFallbackToAlternateBackend(t *testing.T) {
	f := newFixture(t, testConfig(func(c *config.HandoffConfig) { c.MaxRetries = 0 }))
	rec := testutil.RecordEvents(t, f.bus, events.HandoffStarted, events.HandoffCompleted)

	chat := mocks.NewScriptedBackend().WithError(errors.New("chat backend down"))
	prompt := mocks.NewScriptedBackend().WithResponse("answer from B")
	f.addWorker(t, "A", types.BackendChat, chat)
	f.addWorker(t, "B", types.BackendPrompt, prompt)

	res, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "A", "task-1", map[string]any{"draft": "v1"})
	require.NoError(t, err)

	assert.Equal(t, "answer from B", res.Output)
	assert.Equal(t, "B", res.WorkerID)
	assert.Equal(t, "A", res.TargetAgentID)
	assert.Equal(t, PathLocal, res.Path)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, chat.CallCount())
	assert.Equal(t, 1, prompt.CallCount())
	assert.Contains(t, prompt.LastPrompt(), "task-1")
	assert.Contains(t, prompt.LastPrompt(), `"draft": "v1"`)

	require.NoError(t, promtest.GatherAndCompare(f.reg, strings.NewReader(`
# HELP test_handoff_fallbacks_total Fallback attempts by kind and outcome
# TYPE test_handoff_fallbacks_total counter
test_handoff_fallbacks_total{kind="local_backend",outcome="accepted"} 1
`), "test_handoff_fallbacks_total"))

	m := f.exec.GetMetrics()
	assert.Equal(t, int64(1), m.Attempted)
	assert.Equal(t, int64(1), m.Succeeded)
	assert.Len(t, m.LatencyHistory, 1)

	st, ok := f.exec.Status(res.HandoffID)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, st.Status)
	assert.Equal(t, 100, st.Progress)

	testutil.AssertEventuallyTrue(t, func() bool {
		return rec.Count(events.HandoffStarted) == 1 && rec.Count(events.HandoffCompleted) == 1
	}, time.Second)
}

func TestExecutor_RetryExhaustion(t *testing.T) {
	f := newFixture(t, testConfig(func(c *config.HandoffConfig) { c.FallbackStrategy = config.FallbackNone }))
	rec := testutil.RecordEvents(t, f.bus, events.HandoffFailed)

	chat := mocks.NewScriptedBackend().WithError(errors.New("model overloaded"))
	f.addWorker(t, "A", types.BackendChat, chat)

	_, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "A", "task-1", nil)
	require.Error(t, err)

	assert.Equal(t, 3, chat.CallCount(), "maxRetries=2 makes three attempts")
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "handoff failed: "), msg)
	assert.Contains(t, msg, "Failed to handoff to local agent")
	assert.Contains(t, msg, "failed after 3 attempts")
	assert.Contains(t, msg, "model overloaded")
	assert.True(t, retry.IsExhausted(err))

	m := f.exec.GetMetrics()
	assert.Equal(t, int64(1), m.Attempted)
	assert.Equal(t, int64(1), m.Failed)
	assert.Zero(t, m.Succeeded)

	testutil.AssertEventuallyTrue(t, func() bool { return rec.Count(events.HandoffFailed) == 1 }, time.Second)
}

func TestExecutor_AlternateUnavailable(t *testing.T) {
	f := newFixture(t, testConfig(func(c *config.HandoffConfig) {
		c.MaxRetries = 0
		c.FallbackStrategy = config.FallbackNone
	}))
	chat := mocks.NewScriptedBackend().WithError(errors.New("down"))
	prompt := mocks.NewScriptedBackend().WithUnavailable()
	f.addWorker(t, "A", types.BackendChat, chat)
	f.addWorker(t, "B", types.BackendPrompt, prompt)

	_, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "A", "task-1", nil)
	require.Error(t, err)
	assert.Zero(t, prompt.CallCount())
	assert.Equal(t, 1, prompt.ProbeCount())
}

// =============================================================================
// collaborator path
// =============================================================================

func TestExecutor_CollaboratorRoundTrip(t *testing.T) {
	store := contextstore.NewMemoryStore()
	f := newFixture(t, testConfig(), WithCollaborator(store))
	f.addAgent(t, "remote", 0)

	res, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "remote", "task-1",
		map[string]any{"step": "draft"}, WithPriority(3), WithDeadline(time.Now().Add(time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, PathCollaborator, res.Path)
	assert.Equal(t, "remote", res.TargetAgentID)
	assert.Equal(t, map[string]any{"step": "draft"}, res.Output)
	assert.Positive(t, res.CompressedSize)
	assert.Zero(t, store.Len(), "completion consumes the staged context")
	assert.Zero(t, workload(t, f.dir, "remote"))
	assert.Zero(t, f.exec.InFlight())
}

func TestExecutor_CollaboratorRetriesTransientFailure(t *testing.T) {
	store := mocks.NewScriptedStore().FailInitiate("remote", 1)
	f := newFixture(t, testConfig(), WithCollaborator(store))

	res, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "remote", "task-1", "ctx")
	require.NoError(t, err)
	assert.Equal(t, "ctx", res.Output)
	assert.Len(t, store.InitiateCalls(), 2)
	assert.Equal(t, []string{"remote"}, store.CompleteTargets())
}

func TestExecutor_CascadeToLeastLoaded(t *testing.T) {
	store := mocks.NewScriptedStore().FailInitiate("remote-1", -1)
	f := newFixture(t, testConfig(func(c *config.HandoffConfig) { c.MaxRetries = 0 }), WithCollaborator(store))
	f.addAgent(t, "src", 0)
	f.addAgent(t, "remote-1", 3)
	f.addAgent(t, "remote-2", 1)

	res, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "remote-1", "task-1", "ctx")
	require.NoError(t, err)

	assert.Equal(t, PathCascade, res.Path)
	assert.Equal(t, "remote-2", res.TargetAgentID)
	assert.Equal(t, 3, workload(t, f.dir, "remote-1"))
	assert.Equal(t, 1, workload(t, f.dir, "remote-2"))

	require.NoError(t, promtest.GatherAndCompare(f.reg, strings.NewReader(`
# HELP test_handoff_fallbacks_total Fallback attempts by kind and outcome
# TYPE test_handoff_fallbacks_total counter
test_handoff_fallbacks_total{kind="least_loaded",outcome="accepted"} 1
`), "test_handoff_fallbacks_total"))
}

func TestExecutor_CascadeFailureReturnsPrimaryError(t *testing.T) {
	store := mocks.NewScriptedStore().
		FailInitiate("remote-1", -1).
		FailInitiate("remote-2", -1)
	f := newFixture(t, testConfig(func(c *config.HandoffConfig) { c.MaxRetries = 0 }), WithCollaborator(store))
	f.addAgent(t, "remote-1", 3)
	f.addAgent(t, "remote-2", 1)

	var hookErr error
	f.exec.hooks.OnError = func(_ context.Context, _ Info, err error) error {
		hookErr = err
		return nil
	}

	_, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "remote-1", "task-1", "ctx")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "handoff failed: "))
	assert.Contains(t, err.Error(), "initiate failed for remote-1")
	assert.Equal(t, err, hookErr)
	assert.Len(t, store.InitiateCalls(), 2)
	assert.Equal(t, int64(1), f.exec.GetMetrics().Failed)
}

func TestExecutor_RemoteTargetWithoutCollaborator(t *testing.T) {
	f := newFixture(t, testConfig(func(c *config.HandoffConfig) { c.FallbackStrategy = config.FallbackNone }))

	_, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "nowhere", "task-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no context-handoff collaborator")
}

func TestExecutor_CircuitBreakerOpens(t *testing.T) {
	store := mocks.NewScriptedStore().FailInitiate("remote", -1)
	f := newFixture(t, testConfig(func(c *config.HandoffConfig) {
		c.MaxRetries = 0
		c.FallbackStrategy = config.FallbackNone
		c.CircuitBreaker.FailureThreshold = 1
	}), WithCollaborator(store))
	ctx := testutil.TestContext(t)

	_, err := f.exec.InitiateHandoff(ctx, "src", "remote", "task-1", nil)
	require.Error(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, f.exec.BreakerStates()["remote"])

	_, err = f.exec.InitiateHandoff(ctx, "src", "remote", "task-2", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Len(t, store.InitiateCalls(), 1)
}

// =============================================================================
// capacity, hooks, cancellation
// =============================================================================

func TestExecutor_ConcurrentCapacity(t *testing.T) {
	f := newFixture(t, testConfig(func(c *config.HandoffConfig) { c.Resources.MaxConcurrentHandoffs = 1 }))
	f.addWorker(t, "A", types.BackendChat, mocks.NewScriptedBackend().WithDelay(300*time.Millisecond))
	ctx := testutil.TestContext(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.exec.InitiateHandoff(ctx, "src", "A", "slow", nil)
		assert.NoError(t, err)
	}()
	testutil.AssertEventuallyTrue(t, func() bool { return f.exec.InFlight() == 1 }, time.Second)

	_, err := f.exec.InitiateHandoff(ctx, "src", "A", "rejected", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCapacityExceeded)
	assert.Contains(t, err.Error(), "concurrent handoffs limit 1")

	wg.Wait()
	assert.Zero(t, f.exec.InFlight())
	m := f.exec.GetMetrics()
	assert.Equal(t, int64(2), m.Attempted)
	assert.Equal(t, int64(1), m.Failed)
}

func TestExecutor_RateLimitFollowsConfigChanges(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addWorker(t, "A", types.BackendChat, mocks.NewScriptedBackend())
	ctx := testutil.TestContext(t)

	for i := 0; i < 3; i++ {
		_, err := f.exec.InitiateHandoff(ctx, "src", "A", "t", nil)
		require.NoError(t, err)
	}

	require.NoError(t, f.exec.UpdateConfig(func(c *config.HandoffConfig) { c.Resources.MaxHandoffsPerSecond = 0.5 }))
	_, err := f.exec.InitiateHandoff(ctx, "src", "A", "t", nil)
	require.NoError(t, err)
	_, err = f.exec.InitiateHandoff(ctx, "src", "A", "t", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handoff rate")
}

func TestExecutor_HooksAreIsolated(t *testing.T) {
	var (
		mu        sync.Mutex
		completed time.Duration
		started   Info
	)
	hooks := Hooks{
		OnStart: func(_ context.Context, info Info) error {
			mu.Lock()
			started = info
			mu.Unlock()
			panic("start hook exploded")
		},
		OnComplete: func(_ context.Context, _ Info, d time.Duration) error {
			mu.Lock()
			completed = d
			mu.Unlock()
			return errors.New("complete hook failed")
		},
	}
	f := newFixture(t, testConfig(), WithHooks(hooks))
	f.addWorker(t, "A", types.BackendChat, mocks.NewScriptedBackend().WithDelay(2*time.Millisecond))

	res, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "A", "task-1", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, res.HandoffID, started.HandoffID)
	assert.Equal(t, "task-1", started.TaskID)
	assert.Positive(t, completed)
}

func TestExecutor_Cancel(t *testing.T) {
	ids := make(chan string, 1)
	var errorHooks int
	var mu sync.Mutex
	f := newFixture(t, testConfig(), WithHooks(Hooks{
		OnStart: func(_ context.Context, info Info) error {
			ids <- info.HandoffID
			return nil
		},
		OnError: func(context.Context, Info, error) error {
			mu.Lock()
			errorHooks++
			mu.Unlock()
			return nil
		},
	}))
	rec := testutil.RecordEvents(t, f.bus, events.HandoffFailed)
	backend := mocks.NewScriptedBackend().WithDelay(5 * time.Second)
	f.addWorker(t, "A", types.BackendChat, backend)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	done := make(chan error, 1)
	go func() {
		_, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "A", "task-1", nil)
		done <- err
	}()

	id, ok := testutil.WaitForChannel(ids, time.Second)
	require.True(t, ok)
	testutil.AssertEventuallyTrue(t, func() bool {
		st, ok := f.exec.Status(id)
		return ok && st.Status == StateTransferring
	}, time.Second)
	assert.True(t, f.exec.UpdateProgress(id, 150))
	st, _ := f.exec.Status(id)
	assert.Equal(t, 100, st.Progress)

	require.True(t, f.exec.Cancel(id))

	err, ok := testutil.WaitForChannel(done, 2*time.Second)
	require.True(t, ok, "cancel must stop the in-flight handoff")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	assert.ErrorIs(t, err, context.Canceled)

	_, ok = f.exec.Status(id)
	assert.False(t, ok)
	assert.False(t, f.exec.UpdateProgress(id, 50))
	assert.False(t, f.exec.Cancel(id))
	assert.Equal(t, 1, backend.CallCount(), "no retry after cancel")

	// 取消不是失败
	m := f.exec.GetMetrics()
	assert.Equal(t, int64(1), m.Attempted)
	assert.Zero(t, m.Failed)
	assert.Zero(t, m.Succeeded)
	mu.Lock()
	assert.Zero(t, errorHooks)
	mu.Unlock()
	testutil.AssertNeverTrue(t, func() bool { return rec.Count(events.HandoffFailed) > 0 }, 50*time.Millisecond)
	require.NoError(t, promtest.GatherAndCompare(f.reg, strings.NewReader(`
# HELP test_handoffs_total Total number of handoffs by path and status
# TYPE test_handoffs_total counter
test_handoffs_total{path="none",status="cancelled"} 1
`), "test_handoffs_total"))
}

// =============================================================================
// latency, fast path, configuration
// =============================================================================

func TestExecutor_LatencyAlert(t *testing.T) {
	f := newFixture(t, testConfig(func(c *config.HandoffConfig) {
		c.LatencyTargetMs = 1
		c.MaxLatencyThresholdMs = 60000
	}))
	rec := testutil.RecordEvents(t, f.bus, events.HandoffLatencyAlert)
	f.addWorker(t, "A", types.BackendChat, mocks.NewScriptedBackend().WithDelay(10*time.Millisecond))

	res, err := f.exec.InitiateHandoff(testutil.TestContext(t), "src", "A", "task-1", nil)
	require.NoError(t, err, "a latency breach never fails the handoff")

	testutil.AssertEventuallyTrue(t, func() bool { return rec.Count(events.HandoffLatencyAlert) == 1 }, time.Second)
	ev, _ := rec.Last(events.HandoffLatencyAlert)
	alert, err := events.Decode[LatencyAlert](ev)
	require.NoError(t, err)
	assert.Equal(t, "target", alert.Level)
	assert.Equal(t, res.HandoffID, alert.HandoffID)
	assert.GreaterOrEqual(t, alert.LatencyMs, int64(10))

	require.NoError(t, promtest.GatherAndCompare(f.reg, strings.NewReader(`
# HELP test_handoff_latency_breaches_total Handoffs whose latency exceeded the target or the max threshold
# TYPE test_handoff_latency_breaches_total counter
test_handoff_latency_breaches_total{level="target"} 1
`), "test_handoff_latency_breaches_total"))
}

func TestExecutor_LocalHandoff(t *testing.T) {
	f := newFixture(t, testConfig())

	_, err := f.exec.LocalHandoff(testutil.TestContext(t), types.Task{ID: "t-1"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, worker.ErrNoWorkers)

	first := mocks.NewScriptedBackend().WithResponse("first")
	f.addWorker(t, "w-1", types.BackendPrompt, first)
	f.addWorker(t, "w-2", types.BackendChat, mocks.NewScriptedBackend().WithResponse("second"))

	res, err := f.exec.LocalHandoff(testutil.TestContext(t), types.Task{
		ID:          "t-1",
		Description: "summarize the incident report",
		Context:     map[string]any{"ticket": "INC-7"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "w-1", res.WorkerID)
	assert.Equal(t, "first", res.Output)
	assert.True(t, res.MetTarget)
	assert.False(t, res.Fallback)
	assert.Contains(t, first.LastPrompt(), "summarize the incident report")
	assert.Contains(t, first.LastPrompt(), "INC-7")
}

func TestExecutor_ConfigurationAPI(t *testing.T) {
	f := newFixture(t, testConfig())
	before := f.exec.GetConfig()

	err := f.exec.UpdateConfig(func(c *config.HandoffConfig) { c.ConfidenceThreshold = 1.5 })
	require.Error(t, err)
	assert.Equal(t, before, f.exec.GetConfig())

	assert.True(t, f.exec.ShouldHandoff(0.85, 0))
	require.NoError(t, f.exec.UpdateConfig(func(c *config.HandoffConfig) { c.ConfidenceThreshold = 0.9 }))
	assert.False(t, f.exec.ShouldHandoff(0.85, 0))

	require.NoError(t, f.exec.LoadPreset(config.PresetHighPerformance))
	want, err := config.Preset(config.PresetHighPerformance)
	require.NoError(t, err)
	assert.Equal(t, want, f.exec.GetConfig())
	assert.Equal(t, config.PresetHighPerformance, f.exec.CheckConfigHealth().Preset)

	assert.Error(t, f.exec.LoadPreset("turbo"))
}

func TestExecutor_DefaultsWithoutOptions(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHandoffConfig(), e.GetConfig())
	assert.True(t, e.CheckConfigHealth().Healthy)
	assert.Zero(t, e.Workers().Len())
}

func TestBuildPrompt(t *testing.T) {
	info := Info{SourceAgentID: "planner", TaskID: "t-9"}

	p := BuildPrompt(info, "", nil)
	assert.Contains(t, p, "task t-9 from agent planner")
	assert.NotContains(t, p, "Context:")

	p = BuildPrompt(info, "write tests", "plain text context")
	assert.Contains(t, p, "Task:\nwrite tests")
	assert.Contains(t, p, "Context:\nplain text context")

	p = BuildPrompt(info, "", map[string]int{"n": 1})
	assert.Contains(t, p, `"n": 1`)
}

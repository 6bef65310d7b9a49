package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/swarmhandoff/agent/events"
	"github.com/BaSui01/swarmhandoff/agent/swarm"
	"github.com/BaSui01/swarmhandoff/agent/worker"
	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/internal/circuitbreaker"
	"github.com/BaSui01/swarmhandoff/internal/metrics"
	"github.com/BaSui01/swarmhandoff/internal/retry"
	"github.com/BaSui01/swarmhandoff/internal/telemetry"
	"github.com/BaSui01/swarmhandoff/types"
)

// Collaborator performs the two-step context handoff to a remote agent.
// contextstore.MemoryStore and contextstore.RedisStore implement it.
type Collaborator interface {
	InitiateHandoff(ctx context.Context, req *types.HandoffRequest) (*types.HandoffResponse, error)
	CompleteHandoff(ctx context.Context, handoffID, targetAgentID string) (any, error)
}

// Path names how a handoff was delivered.
type Path string

const (
	PathLocal        Path = "local"
	PathCollaborator Path = "collaborator"
	PathCascade      Path = "cascade"
	PathLocalFast    Path = "local_fast"
)

// Info identifies a handoff for hooks and events.
type Info struct {
	HandoffID     string `json:"handoff_id"`
	SourceAgentID string `json:"source_agent_id"`
	TargetAgentID string `json:"target_agent_id"`
	TaskID        string `json:"task_id"`
}

// Hooks are optional lifecycle callbacks. Errors and panics are logged and
// otherwise ignored.
type Hooks struct {
	OnStart    func(ctx context.Context, info Info) error
	OnComplete func(ctx context.Context, info Info, duration time.Duration) error
	OnError    func(ctx context.Context, info Info, err error) error
}

// Result 交接结果
type Result struct {
	HandoffID      string        `json:"handoff_id"`
	TargetAgentID  string        `json:"target_agent_id"`
	WorkerID       string        `json:"worker_id,omitempty"`
	Path           Path          `json:"path"`
	Fallback       bool          `json:"fallback"`
	Output         any           `json:"output,omitempty"`
	CompressedSize int           `json:"compressed_size,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// LatencyAlert is the payload of handoff.latency_alert events.
type LatencyAlert struct {
	Info
	Level          string `json:"level"`
	LatencyMs      int64  `json:"latency_ms"`
	TargetMs       int    `json:"target_ms"`
	MaxThresholdMs int    `json:"max_threshold_ms"`
}

// RequestOption adjusts the collaborator request of one handoff.
type RequestOption func(*types.HandoffRequest)

// WithPriority 设置交接优先级
func WithPriority(p int) RequestOption {
	return func(r *types.HandoffRequest) { r.Priority = p }
}

// WithDeadline bounds how long the staged context is kept.
func WithDeadline(t time.Time) RequestOption {
	return func(r *types.HandoffRequest) { r.Deadline = t }
}

// =============================================================================
// Options
// =============================================================================

// Option 配置 Executor
type Option func(*Executor)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConfigManager shares a configuration manager. Without it the executor
// owns one seeded with the production defaults.
func WithConfigManager(m *config.Manager) Option {
	return func(e *Executor) { e.cfgs = m }
}

// WithWorkers 设置本地 worker 注册表
func WithWorkers(r *worker.Registry) Option {
	return func(e *Executor) { e.workers = r }
}

// WithDirectory sets the agent table used to pick the cascade target.
func WithDirectory(d *swarm.Directory) Option {
	return func(e *Executor) { e.directory = d }
}

// WithCollaborator 设置上下文交接协作方
func WithCollaborator(c Collaborator) Option {
	return func(e *Executor) { e.collab = c }
}

// WithHooks 设置生命周期钩子
func WithHooks(h Hooks) Option {
	return func(e *Executor) { e.hooks = h }
}

// WithBus publishes handoff.* events on bus.
func WithBus(bus events.Bus) Option {
	return func(e *Executor) { e.bus = bus }
}

// WithMetrics 设置 Prometheus 采集器
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.collector = c }
}

// =============================================================================
// Executor
// =============================================================================

// Executor transfers tasks to local workers or remote agents with retries,
// one local fallback and one least-loaded cascade.
type Executor struct {
	cfgs      *config.Manager
	workers   *worker.Registry
	directory *swarm.Directory
	collab    Collaborator
	bus       events.Bus
	hooks     Hooks
	collector *metrics.Collector
	logger    *zap.Logger

	stats    stats
	statuses *statusTable

	limitMu  sync.RWMutex
	limiter  *rate.Limiter
	breakers *circuitbreaker.Set
}

// New creates an executor.
func New(opts ...Option) (*Executor, error) {
	e := &Executor{
		logger:   zap.NewNop(),
		statuses: newStatusTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "handoff_executor"))

	if e.cfgs == nil {
		m, err := config.NewManager(config.DefaultHandoffConfig(), config.WithManagerLogger(e.logger))
		if err != nil {
			return nil, err
		}
		e.cfgs = m
	}
	if e.workers == nil {
		e.workers = worker.NewRegistry(e.logger)
	}

	cfg := e.cfgs.Get()
	e.limiter = newLimiter(cfg.Resources.MaxHandoffsPerSecond)
	e.breakers = circuitbreaker.NewSet(circuitbreaker.FromConfig(cfg.CircuitBreaker), e.logger)
	e.cfgs.OnChange(e.reconfigure)
	return e, nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), int(math.Ceil(perSecond)))
}

func (e *Executor) reconfigure(old, next config.HandoffConfig) {
	if old.Resources.MaxHandoffsPerSecond != next.Resources.MaxHandoffsPerSecond {
		e.limitMu.Lock()
		e.limiter = newLimiter(next.Resources.MaxHandoffsPerSecond)
		e.limitMu.Unlock()
	}
	if old.CircuitBreaker != next.CircuitBreaker {
		e.breakers.Reconfigure(circuitbreaker.FromConfig(next.CircuitBreaker))
	}
	e.logger.Info("handoff configuration applied",
		zap.Int("max_retries", next.MaxRetries),
		zap.String("backoff", string(next.BackoffStrategy)),
		zap.Float64("max_handoffs_per_second", next.Resources.MaxHandoffsPerSecond))
}

func (e *Executor) allow() bool {
	e.limitMu.RLock()
	defer e.limitMu.RUnlock()
	return e.limiter.Allow()
}

// Workers returns the local worker registry.
func (e *Executor) Workers() *worker.Registry { return e.workers }

// InitiateHandoff transfers taskID with its context from source to target.
// Capacity rejections and exhausted primary plus cascade paths are errors
// prefixed "handoff failed:" or "capacity exceeded:".
func (e *Executor) InitiateHandoff(ctx context.Context, source, target, taskID string, handoffCtx any, opts ...RequestOption) (res *Result, err error) {
	cfg := e.cfgs.Get()
	info := Info{HandoffID: uuid.NewString(), SourceAgentID: source, TargetAgentID: target, TaskID: taskID}

	ctx, span := telemetry.StartSpan(ctx, "handoff.initiate",
		attribute.String("handoff.id", info.HandoffID),
		attribute.String("handoff.source", source),
		attribute.String("handoff.target", target),
	)
	defer func() {
		if res != nil {
			span.SetAttributes(attribute.String("handoff.path", string(res.Path)))
		}
		telemetry.EndSpan(span, err)
	}()

	e.stats.attempt()
	e.runHook("start", info, func() error {
		if e.hooks.OnStart == nil {
			return nil
		}
		return e.hooks.OnStart(ctx, info)
	})

	if !e.allow() {
		err = types.NewCapacityError("handoff rate", int(cfg.Resources.MaxHandoffsPerSecond))
		e.finishFailed(ctx, info, "", 0, err)
		return nil, err
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err = e.statuses.admit(info.HandoffID, cfg.Resources.MaxConcurrentHandoffs, cancel); err != nil {
		e.finishFailed(ctx, info, "", 0, err)
		return nil, err
	}

	e.collector.HandoffStarted()
	defer e.collector.HandoffFinished()
	e.publish(events.HandoffStarted, info, info)
	e.statuses.update(info.HandoffID, func(s *Status) {
		s.Status = StateTransferring
		s.Progress = 10
	})

	start := time.Now()
	res, perr := e.primary(hctx, cfg, info, handoffCtx, opts)
	if perr != nil && hctx.Err() != nil && ctx.Err() == nil {
		// 已被 Cancel，不再回退，也不计入失败
		err = fmt.Errorf("handoff %s cancelled: %w", info.HandoffID, context.Canceled)
		e.finishCancelled(info, time.Since(start))
		return nil, err
	}
	if perr != nil && cfg.FallbackStrategy != config.FallbackNone {
		e.logger.Warn("primary handoff path failed, cascading",
			zap.String("handoff_id", info.HandoffID),
			zap.String("target", target),
			zap.Error(perr))
		var cerr error
		res, cerr = e.cascade(hctx, cfg, info, handoffCtx, opts)
		if cerr != nil {
			e.logger.Warn("cascade handoff failed",
				zap.String("handoff_id", info.HandoffID),
				zap.Error(cerr))
		}
	}
	if res == nil {
		err = normalize(perr)
		e.finishFailed(ctx, info, "", time.Since(start), err)
		return nil, err
	}

	res.HandoffID = info.HandoffID
	res.Duration = time.Since(start)
	e.finishSucceeded(ctx, cfg, info, res)
	return res, nil
}

// normalize applies the top-level prefix exactly once.
func normalize(err error) error {
	if err == nil {
		err = errors.New("no handoff path available")
	}
	if strings.HasPrefix(err.Error(), "handoff failed:") {
		return err
	}
	return types.NewError(types.ErrExecution, "handoff failed").WithCause(err)
}

func (e *Executor) finishSucceeded(ctx context.Context, cfg config.HandoffConfig, info Info, res *Result) {
	e.stats.succeed(res.Duration)
	e.statuses.update(info.HandoffID, func(s *Status) {
		s.Status = StateCompleted
		s.Progress = 100
	})
	e.collector.RecordHandoff(string(res.Path), string(StateCompleted), res.Duration)
	e.checkLatency(cfg, info, res.Duration)

	e.runHook("complete", info, func() error {
		if e.hooks.OnComplete == nil {
			return nil
		}
		return e.hooks.OnComplete(ctx, info, res.Duration)
	})
	e.publish(events.HandoffCompleted, info, *res)

	e.logger.Info("handoff completed",
		zap.String("handoff_id", info.HandoffID),
		zap.String("target", res.TargetAgentID),
		zap.String("path", string(res.Path)),
		zap.Bool("fallback", res.Fallback),
		zap.Duration("duration", res.Duration))
}

func (e *Executor) finishFailed(ctx context.Context, info Info, path string, d time.Duration, err error) {
	e.stats.fail()
	e.statuses.update(info.HandoffID, func(s *Status) {
		s.Status = StateFailed
		s.Error = err.Error()
	})
	if path == "" {
		path = "none"
	}
	e.collector.RecordHandoff(path, string(StateFailed), d)

	e.runHook("error", info, func() error {
		if e.hooks.OnError == nil {
			return nil
		}
		return e.hooks.OnError(ctx, info, err)
	})
	e.publish(events.HandoffFailed, info, map[string]any{
		"handoff_id": info.HandoffID,
		"error":      err.Error(),
	})
	e.logger.Error("handoff failed",
		zap.String("handoff_id", info.HandoffID),
		zap.String("source", info.SourceAgentID),
		zap.String("target", info.TargetAgentID),
		zap.Error(err))
}

// finishCancelled 只记录取消样本；状态条目已由 Cancel 移除
func (e *Executor) finishCancelled(info Info, d time.Duration) {
	e.collector.RecordHandoff("none", "cancelled", d)
	e.logger.Info("handoff stopped after cancel",
		zap.String("handoff_id", info.HandoffID),
		zap.String("target", info.TargetAgentID),
		zap.Duration("elapsed", d))
}

// checkLatency logs and publishes threshold breaches. It never fails the handoff.
func (e *Executor) checkLatency(cfg config.HandoffConfig, info Info, d time.Duration) {
	check := CheckLatencyThresholds(cfg, d)
	level := check.Level()
	if level == "" {
		return
	}

	fields := []zap.Field{
		zap.String("handoff_id", info.HandoffID),
		zap.Duration("latency", d),
		zap.Int("latency_target_ms", cfg.LatencyTargetMs),
		zap.Int("max_latency_threshold_ms", cfg.MaxLatencyThresholdMs),
	}
	if check.ExceededMax {
		e.logger.Error("handoff latency exceeded maximum", fields...)
	} else {
		e.logger.Warn("handoff latency exceeded target", fields...)
	}
	e.collector.RecordLatencyBreach(level)
	e.publish(events.HandoffLatencyAlert, info, LatencyAlert{
		Info:           info,
		Level:          level,
		LatencyMs:      d.Milliseconds(),
		TargetMs:       cfg.LatencyTargetMs,
		MaxThresholdMs: cfg.MaxLatencyThresholdMs,
	})
}

func (e *Executor) runHook(name string, info Info, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handoff hook panicked",
				zap.String("hook", name),
				zap.String("handoff_id", info.HandoffID),
				zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		herr := types.NewError(types.ErrHook, name+" hook failed").WithCause(err)
		e.logger.Error("handoff hook failed",
			zap.String("hook", name),
			zap.String("handoff_id", info.HandoffID),
			zap.Error(herr))
	}
}

func (e *Executor) publish(typ events.Type, info Info, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.New(typ, info.SourceAgentID, info.TargetAgentID, payload))
}

// =============================================================================
// Paths
// =============================================================================

func (e *Executor) primary(ctx context.Context, cfg config.HandoffConfig, info Info, handoffCtx any, opts []RequestOption) (*Result, error) {
	if w, ok := e.workers.Get(info.TargetAgentID); ok {
		return e.handoffToLocalAgent(ctx, cfg, w, info, "", handoffCtx)
	}
	return e.viaCollaborator(ctx, cfg, info, info.TargetAgentID, handoffCtx, opts)
}

// cascade retries once against the least-loaded agent other than the source.
func (e *Executor) cascade(ctx context.Context, cfg config.HandoffConfig, info Info, handoffCtx any, opts []RequestOption) (*Result, error) {
	if e.directory == nil {
		return nil, errors.New("no agent directory for cascade")
	}
	alt, ok := e.directory.LeastLoaded(info.SourceAgentID)
	if !ok {
		e.collector.RecordFallback("least_loaded", false)
		return nil, errors.New("no cascade candidate")
	}

	res, err := e.viaCollaborator(ctx, cfg, info, alt.ID, handoffCtx, opts)
	e.collector.RecordFallback("least_loaded", err == nil)
	if err != nil {
		return nil, err
	}
	res.Path = PathCascade
	return res, nil
}

// viaCollaborator runs initiate then complete, each under runWithRetry,
// behind the target's circuit breaker when enabled.
func (e *Executor) viaCollaborator(ctx context.Context, cfg config.HandoffConfig, info Info, target string, handoffCtx any, opts []RequestOption) (*Result, error) {
	if e.collab == nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("agent %s is not a local worker and no context-handoff collaborator is configured", target))
	}

	e.adjustWorkload(target, 1)
	defer e.adjustWorkload(target, -1)

	req := &types.HandoffRequest{
		HandoffID:     info.HandoffID,
		SourceAgentID: info.SourceAgentID,
		TargetAgentID: target,
		TaskID:        info.TaskID,
		Context:       handoffCtx,
	}
	for _, opt := range opts {
		opt(req)
	}

	run := func(ctx context.Context) (*Result, error) {
		staged, err := runWithRetry(ctx, e, cfg, "initiate_handoff", func(ctx context.Context) (*types.HandoffResponse, error) {
			r, err := e.collab.InitiateHandoff(ctx, req)
			if err != nil {
				return nil, err
			}
			if !r.Success {
				return nil, types.NewError(types.ErrExecution, "collaborator declined: "+r.Error)
			}
			return r, nil
		})
		if err != nil {
			return nil, err
		}
		e.statuses.update(info.HandoffID, func(s *Status) { s.Progress = 50 })

		out, err := runWithRetry(ctx, e, cfg, "complete_handoff", func(ctx context.Context) (any, error) {
			return e.collab.CompleteHandoff(ctx, staged.HandoffID, target)
		})
		if err != nil {
			return nil, err
		}
		return &Result{
			TargetAgentID:  target,
			Path:           PathCollaborator,
			Output:         out,
			CompressedSize: staged.CompressedSize,
		}, nil
	}

	if !cfg.CircuitBreaker.Enabled {
		return run(ctx)
	}
	return circuitbreaker.Call(ctx, e.breakers.Get(target), run)
}

func (e *Executor) adjustWorkload(id string, delta int) {
	if e.directory == nil {
		return
	}
	_, _ = e.directory.AdjustWorkload(id, delta)
}

// handoffToLocalAgent invokes the worker's backend and, on failure, exactly
// one alternate worker on a different backend type.
func (e *Executor) handoffToLocalAgent(ctx context.Context, cfg config.HandoffConfig, w worker.Worker, info Info, description string, handoffCtx any) (*Result, error) {
	prompt := BuildPrompt(info, description, handoffCtx)

	out, err := e.invokeWorker(ctx, cfg, w, prompt)
	if err == nil {
		return &Result{TargetAgentID: info.TargetAgentID, WorkerID: w.ID, Path: PathLocal, Output: out}, nil
	}
	if ctx.Err() != nil {
		return nil, types.NewError(types.ErrExecution, "Failed to handoff to local agent").WithCause(err)
	}

	alt, ok := e.workers.Alternate(ctx, w)
	if !ok {
		e.logger.Warn("no alternate local backend available",
			zap.String("worker_id", w.ID),
			zap.String("backend", string(w.Backend)))
		return nil, types.NewError(types.ErrExecution, "Failed to handoff to local agent").WithCause(err)
	}

	e.logger.Info("falling back to alternate local backend",
		zap.String("handoff_id", info.HandoffID),
		zap.String("from", w.String()),
		zap.String("to", alt.String()))
	out, aerr := e.invokeWorker(ctx, cfg, alt, prompt)
	e.collector.RecordFallback("local_backend", aerr == nil)
	if aerr != nil {
		return nil, types.NewError(types.ErrExecution, "Failed to handoff to local agent").
			WithCause(fmt.Errorf("%w; alternate %s: %w", err, alt.ID, aerr))
	}
	return &Result{TargetAgentID: info.TargetAgentID, WorkerID: alt.ID, Path: PathLocal, Fallback: true, Output: out}, nil
}

func (e *Executor) invokeWorker(ctx context.Context, cfg config.HandoffConfig, w worker.Worker, prompt string) (string, error) {
	inv, err := e.workers.Invoker(w)
	if err != nil {
		return "", err
	}
	e.adjustWorkload(w.ID, 1)
	defer e.adjustWorkload(w.ID, -1)
	return runWithRetry(ctx, e, cfg, "local_invoke:"+w.ID, func(ctx context.Context) (string, error) {
		return inv.Invoke(ctx, prompt)
	})
}

// runWithRetry makes MaxRetries+1 attempts with linear or exponential backoff.
func runWithRetry[T any](ctx context.Context, e *Executor, cfg config.HandoffConfig, label string, op func(context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, retry.FromConfig(cfg), e.logger, label, op)
}

// BuildPrompt renders the instruction a local worker receives for a handoff.
func BuildPrompt(info Info, description string, handoffCtx any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are taking over task %s", info.TaskID)
	if info.SourceAgentID != "" {
		fmt.Fprintf(&b, " from agent %s", info.SourceAgentID)
	}
	b.WriteString(".\n")
	if description != "" {
		fmt.Fprintf(&b, "\nTask:\n%s\n", description)
	}
	if handoffCtx != nil {
		b.WriteString("\nContext:\n")
		switch v := handoffCtx.(type) {
		case string:
			b.WriteString(v)
		default:
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				fmt.Fprintf(&b, "%v", v)
			} else {
				b.Write(data)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("\nContinue the task and reply with the result.")
	return b.String()
}

// =============================================================================
// Fast path
// =============================================================================

// LocalResult 本地快速交接结果
type LocalResult struct {
	WorkerID  string        `json:"worker_id"`
	Output    string        `json:"output"`
	Fallback  bool          `json:"fallback"`
	Duration  time.Duration `json:"duration"`
	MetTarget bool          `json:"met_target"`
}

// LocalHandoff skips evaluation and hands task to the first registered
// local worker, reporting whether the configured latency target was met.
func (e *Executor) LocalHandoff(ctx context.Context, task types.Task, handoffCtx any) (*LocalResult, error) {
	cfg := e.cfgs.Get()
	w, err := e.workers.First()
	if err != nil {
		return nil, types.NewError(types.ErrExecution, "Failed to handoff to local agent").WithCause(err)
	}
	if handoffCtx == nil {
		handoffCtx = task.Context
	}

	start := time.Now()
	info := Info{HandoffID: uuid.NewString(), TargetAgentID: w.ID, TaskID: task.ID}
	res, err := e.handoffToLocalAgent(ctx, cfg, w, info, task.Description, handoffCtx)
	d := time.Since(start)
	if err != nil {
		e.collector.RecordHandoff(string(PathLocalFast), string(StateFailed), d)
		return nil, err
	}
	e.collector.RecordHandoff(string(PathLocalFast), string(StateCompleted), d)

	out, _ := res.Output.(string)
	return &LocalResult{
		WorkerID:  res.WorkerID,
		Output:    out,
		Fallback:  res.Fallback,
		Duration:  d,
		MetTarget: d <= cfg.LatencyTarget(),
	}, nil
}

// =============================================================================
// Status API
// =============================================================================

// Status 查询交接状态
func (e *Executor) Status(handoffID string) (Status, bool) {
	return e.statuses.get(handoffID)
}

// UpdateProgress sets the progress of a live handoff, clamped to [0,100].
// It reports false for unknown or cancelled handoffs.
func (e *Executor) UpdateProgress(handoffID string, progress int) bool {
	return e.statuses.update(handoffID, func(s *Status) { s.Progress = progress })
}

// Cancel removes the handoff's status and cancels its context. In-flight
// backend calls stop only if they honour the context.
func (e *Executor) Cancel(handoffID string) bool {
	ok := e.statuses.remove(handoffID)
	if ok {
		e.logger.Info("handoff cancelled", zap.String("handoff_id", handoffID))
	}
	return ok
}

// InFlight 当前进行中的交接数
func (e *Executor) InFlight() int { return e.statuses.inFlight() }

// =============================================================================
// Configuration API
// =============================================================================

// UpdateConfig applies a partial change. On validation failure the
// previous configuration stays active.
func (e *Executor) UpdateConfig(mutate func(*config.HandoffConfig)) error {
	return e.cfgs.Update(mutate)
}

// LoadPreset 加载内置预设
func (e *Executor) LoadPreset(name string) error {
	return e.cfgs.LoadPreset(name)
}

// LoadConfigFromEnvironment overlays HANDOFF_* variables.
func (e *Executor) LoadConfigFromEnvironment() error {
	return e.cfgs.LoadFromEnvironment()
}

// GetConfig 返回当前生效配置
func (e *Executor) GetConfig() config.HandoffConfig { return e.cfgs.Get() }

// ConfigManager returns the underlying manager.
func (e *Executor) ConfigManager() *config.Manager { return e.cfgs }

// GetMetrics 返回统计快照
func (e *Executor) GetMetrics() Metrics { return e.stats.snapshot() }

// CheckConfigHealth 检查当前配置
func (e *Executor) CheckConfigHealth() config.Health { return e.cfgs.CheckHealth() }

// ShouldHandoff evaluates the threshold policy against the active configuration.
func (e *Executor) ShouldHandoff(confidence float64, depth int) bool {
	return ShouldHandoff(e.cfgs.Get(), confidence, depth)
}

// BreakerStates exposes per-target circuit breaker states.
func (e *Executor) BreakerStates() map[string]circuitbreaker.State {
	return e.breakers.States()
}

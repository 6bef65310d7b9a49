package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/agent/events"
	"github.com/BaSui01/swarmhandoff/agent/protocol/handshake"
	"github.com/BaSui01/swarmhandoff/agent/toolchannel"
	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/internal/correlation"
	"github.com/BaSui01/swarmhandoff/internal/metrics"
	"github.com/BaSui01/swarmhandoff/internal/retry"
	"github.com/BaSui01/swarmhandoff/types"
)

// SessionLookup resolves accepted handshake sessions. *handshake.Protocol
// satisfies it.
type SessionLookup interface {
	AcceptedSession(handshakeID string) (handshake.Session, bool)
}

// CapabilityLookup returns the known capabilities of an agent.
// *swarm.Directory satisfies it.
type CapabilityLookup interface {
	Capabilities(agentID string) ([]string, bool)
}

// Option 配置 Mediator
type Option func(*Mediator)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mediator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfig 设置重试与超时参数来源
func WithConfig(cfg config.HandoffConfig) Option {
	return func(m *Mediator) { m.cfg = cfg }
}

// WithToolChannel 设置工具调用通道
func WithToolChannel(ch toolchannel.Channel) Option {
	return func(m *Mediator) { m.channel = toolchannel.OrNull(ch) }
}

// WithCapabilities 设置对端能力查询，用于默认应答的启发式匹配
func WithCapabilities(lookup CapabilityLookup) Option {
	return func(m *Mediator) { m.caps = lookup }
}

// WithHeuristics 覆盖默认启发式参数
func WithHeuristics(h Heuristics) Option {
	return func(m *Mediator) { m.heuristics = h }
}

// WithAcceptor 设置应答方的任务接受策略
func WithAcceptor(a Acceptor) Option {
	return func(m *Mediator) { m.acceptor = a }
}

// WithLocalCapabilities 设置本地 Agent 能力（默认接受策略使用）
func WithLocalCapabilities(caps []string) Option {
	return func(m *Mediator) { m.localCaps = append([]string(nil), caps...) }
}

// WithMetrics 设置 Prometheus 采集器
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Mediator) { m.collector = c }
}

// =============================================================================
// Mediator
// =============================================================================

// Mediator negotiates tasks and synchronizes state over accepted handshakes.
// It holds both the initiator half (NegotiateTask, SyncState) and the
// responder half (Handle*, Listen).
type Mediator struct {
	agentID    string
	bus        events.Bus
	sessions   SessionLookup
	caps       CapabilityLookup
	heuristics Heuristics
	acceptor   Acceptor
	localCaps  []string
	collector  *metrics.Collector
	logger     *zap.Logger

	mu      sync.RWMutex
	cfg     config.HandoffConfig
	channel toolchannel.Channel

	stateMu sync.Mutex
	shared  map[string]map[string]any

	subMu sync.Mutex
	subs  []string
}

// New creates a mediator for agentID.
func New(agentID string, bus events.Bus, sessions SessionLookup, opts ...Option) *Mediator {
	m := &Mediator{
		agentID:    agentID,
		bus:        bus,
		sessions:   sessions,
		heuristics: DefaultHeuristics(),
		cfg:        config.DefaultHandoffConfig(),
		channel:    toolchannel.Null{},
		logger:     zap.NewNop(),
		shared:     make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.acceptor == nil {
		m.acceptor = HeuristicAcceptor(m.localCaps, m.heuristics)
	}
	m.logger = m.logger.With(zap.String("component", "negotiation"), zap.String("agent_id", agentID))
	return m
}

// Reconfigure swaps the retry and timeout parameters.
func (m *Mediator) Reconfigure(cfg config.HandoffConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// SetToolChannel connects (or with nil disconnects) the tool channel.
func (m *Mediator) SetToolChannel(ch toolchannel.Channel) {
	m.mu.Lock()
	m.channel = toolchannel.OrNull(ch)
	m.mu.Unlock()
}

func (m *Mediator) snapshot() (config.HandoffConfig, toolchannel.Channel) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg, m.channel
}

// peer returns the other side of a session from this agent's view.
func (m *Mediator) peer(s handshake.Session) string {
	if s.SourceAgentID == m.agentID {
		return s.TargetAgentID
	}
	return s.SourceAgentID
}

// =============================================================================
// Negotiation
// =============================================================================

// NegotiateTask offers a task over an accepted handshake. Declines and
// unknown handshakes are response values, not errors.
func (m *Mediator) NegotiateTask(ctx context.Context, req NegotiationRequest) *NegotiationResponse {
	session, ok := m.sessions.AcceptedSession(req.HandshakeID)
	if !ok {
		return &NegotiationResponse{
			HandshakeID: req.HandshakeID,
			Success:     false,
			Accepted:    false,
			Error:       types.ErrHandshakeNotAccepted.Error(),
		}
	}

	if req.NegotiationID == "" {
		req.NegotiationID = uuid.NewString()
	}
	req.SourceAgentID = m.agentID
	if req.TargetAgentID == "" {
		req.TargetAgentID = m.peer(session)
	}
	req.Timestamp = time.Now()

	cfg, channel := m.snapshot()

	waiter := correlation.Expect(m.bus, events.NegotiationResponse, "negotiation "+req.NegotiationID,
		func(ev events.Event) bool {
			if ev.Target != "" && ev.Target != m.agentID {
				return false
			}
			r, err := events.Decode[NegotiationResponse](ev)
			return err == nil && (r.NegotiationID == req.NegotiationID || r.HandshakeID == req.HandshakeID)
		})
	defer waiter.Cancel()

	m.bus.Publish(events.New(events.NegotiationRequest, m.agentID, req.TargetAgentID, req))

	var resp *NegotiationResponse
	if channel.Supports(toolchannel.OpNegotiateTask) {
		out, err := retry.Do(ctx, retry.FromConfig(cfg), m.logger, toolchannel.OpNegotiateTask,
			func(ctx context.Context) (NegotiationResponse, error) {
				return invokeTool[NegotiationRequest, NegotiationResponse](ctx, channel, toolchannel.OpNegotiateTask, req)
			})
		if err == nil {
			out.ResolvedBy = ResolvedByTool
			resp = &out
		} else {
			m.logger.Warn("tool channel negotiation failed, falling back to events",
				zap.String("negotiation_id", req.NegotiationID), zap.Error(err))
		}
	}

	if resp == nil {
		resp = m.awaitNegotiation(ctx, waiter, req, cfg.HandshakeTimeout())
	}
	if resp.NegotiationID == "" {
		resp.NegotiationID = req.NegotiationID
	}
	resp.HandshakeID = req.HandshakeID

	m.collector.RecordNegotiation(string(resp.ResolvedBy), resp.Accepted)
	m.bus.Publish(events.New(events.NegotiationCompleted, m.agentID, req.TargetAgentID, *resp))

	m.logger.Debug("negotiation finished",
		zap.String("negotiation_id", req.NegotiationID),
		zap.Bool("accepted", resp.Accepted),
		zap.String("resolved_by", string(resp.ResolvedBy)),
	)
	return resp
}

func (m *Mediator) awaitNegotiation(ctx context.Context, w *correlation.Waiter, req NegotiationRequest, timeout time.Duration) *NegotiationResponse {
	ev, err := w.Wait(ctx, timeout)
	if err == nil {
		r, derr := events.Decode[NegotiationResponse](ev)
		if derr == nil {
			r.ResolvedBy = ResolvedByEvent
			return &r
		}
		err = derr
	}

	if !errors.Is(err, types.ErrTimeoutWaiting) {
		return &NegotiationResponse{
			NegotiationID: req.NegotiationID,
			Success:       false,
			Error:         err.Error(),
			ResolvedBy:    ResolvedByEvent,
		}
	}
	return m.defaultNegotiation(req)
}

// defaultNegotiation synthesizes an answer when the peer stays silent.
func (m *Mediator) defaultNegotiation(req NegotiationRequest) *NegotiationResponse {
	var caps []string
	if m.caps != nil {
		caps, _ = m.caps.Capabilities(req.TargetAgentID)
	}
	return &NegotiationResponse{
		NegotiationID:      req.NegotiationID,
		Success:            true,
		Accepted:           CapabilityMatch(req.Task.Description, caps),
		EstimatedLatencyMs: m.heuristics.EstimateLatencyMs(req.Task.Description),
		ResolvedBy:         ResolvedByDefault,
	}
}

// =============================================================================
// State sync
// =============================================================================

// SyncState propagates state over an accepted handshake.
func (m *Mediator) SyncState(ctx context.Context, req StateSyncRequest) *StateSyncResponse {
	session, ok := m.sessions.AcceptedSession(req.HandshakeID)
	if !ok {
		return &StateSyncResponse{
			HandshakeID:  req.HandshakeID,
			Success:      false,
			Acknowledged: false,
			Error:        types.ErrHandshakeNotAccepted.Error(),
		}
	}

	if req.SyncID == "" {
		req.SyncID = uuid.NewString()
	}
	if req.SyncType == "" {
		req.SyncType = SyncFull
	}
	req.SourceAgentID = m.agentID
	if req.TargetAgentID == "" {
		req.TargetAgentID = m.peer(session)
	}
	req.Timestamp = time.Now()

	cfg, channel := m.snapshot()

	waiter := correlation.Expect(m.bus, events.SyncResponse, "sync "+req.SyncID,
		func(ev events.Event) bool {
			if ev.Target != "" && ev.Target != m.agentID {
				return false
			}
			r, err := events.Decode[StateSyncResponse](ev)
			return err == nil && (r.SyncID == req.SyncID || r.HandshakeID == req.HandshakeID)
		})
	defer waiter.Cancel()

	m.bus.Publish(events.New(events.SyncRequest, m.agentID, req.TargetAgentID, req))

	var resp *StateSyncResponse
	if channel.Supports(toolchannel.OpSyncState) {
		out, err := retry.Do(ctx, retry.FromConfig(cfg), m.logger, toolchannel.OpSyncState,
			func(ctx context.Context) (StateSyncResponse, error) {
				return invokeTool[StateSyncRequest, StateSyncResponse](ctx, channel, toolchannel.OpSyncState, req)
			})
		if err == nil {
			out.ResolvedBy = ResolvedByTool
			resp = &out
		} else {
			m.logger.Warn("tool channel sync failed, falling back to events",
				zap.String("sync_id", req.SyncID), zap.Error(err))
		}
	}

	if resp == nil {
		timeout := cfg.HandshakeTimeout()
		if req.SyncType == SyncIncremental {
			timeout = m.heuristics.IncrementalSyncTimeout
		}
		resp = m.awaitSync(ctx, waiter, req, timeout)
	}
	if resp.SyncID == "" {
		resp.SyncID = req.SyncID
	}
	resp.HandshakeID = req.HandshakeID

	m.collector.RecordSync(string(req.SyncType), string(resp.ResolvedBy), resp.Acknowledged)
	m.bus.Publish(events.New(events.SyncCompleted, m.agentID, req.TargetAgentID, *resp))
	return resp
}

func (m *Mediator) awaitSync(ctx context.Context, w *correlation.Waiter, req StateSyncRequest, timeout time.Duration) *StateSyncResponse {
	ev, err := w.Wait(ctx, timeout)
	if err == nil {
		r, derr := events.Decode[StateSyncResponse](ev)
		if derr == nil {
			r.ResolvedBy = ResolvedByEvent
			return &r
		}
		err = derr
	}

	if !errors.Is(err, types.ErrTimeoutWaiting) {
		return &StateSyncResponse{
			SyncID:     req.SyncID,
			Success:    false,
			Error:      err.Error(),
			ResolvedBy: ResolvedByEvent,
		}
	}

	// 增量同步乐观确认；全量同步要求携带结构化状态
	ack := req.SyncType == SyncIncremental || isStructured(req.State)
	return &StateSyncResponse{
		SyncID:       req.SyncID,
		Success:      true,
		Acknowledged: ack,
		ResolvedBy:   ResolvedByDefault,
	}
}

// =============================================================================
// helpers
// =============================================================================

func invokeTool[Req, Resp any](ctx context.Context, ch toolchannel.Channel, op string, req Req) (Resp, error) {
	var out Resp
	args, err := toMap(req)
	if err != nil {
		return out, err
	}
	raw, err := ch.Invoke(ctx, op, args)
	if err != nil {
		return out, err
	}
	if err := fromMap(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", op, err)
	}
	return out, nil
}

func toMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("value is not an object: %w", err)
	}
	return m, nil
}

func fromMap(m map[string]any, out any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

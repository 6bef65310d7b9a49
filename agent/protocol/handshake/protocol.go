package handshake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/agent/events"
	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/internal/correlation"
	"github.com/BaSui01/swarmhandoff/internal/metrics"
	"github.com/BaSui01/swarmhandoff/internal/telemetry"
	"github.com/BaSui01/swarmhandoff/types"
)

// DefaultProtocolVersion 默认协议版本
const DefaultProtocolVersion = "1.0"

// DefaultTimeout 发起方等待应答的默认超时
const DefaultTimeout = config.DefaultHandshakeTimeout

// Option 配置 Protocol
type Option func(*Protocol)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(p *Protocol) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProtocolVersion 设置本地协议版本
func WithProtocolVersion(v string) Option {
	return func(p *Protocol) { p.version = v }
}

// WithTimeout 设置发起方等待应答的超时
func WithTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.timeout = d }
}

// WithMaxConcurrent 设置同时进行中的握手上限（0 表示不限）
func WithMaxConcurrent(n int) Option {
	return func(p *Protocol) { p.maxConcurrent = n }
}

// WithConfig 从 handoff 配置读取超时与并发上限
func WithConfig(cfg config.HandoffConfig) Option {
	return func(p *Protocol) {
		p.timeout = cfg.HandshakeTimeout()
		p.maxConcurrent = cfg.Resources.MaxConcurrentHandshakes
	}
}

// WithAuthenticator 设置应答方认证器
func WithAuthenticator(a Authenticator) Option {
	return func(p *Protocol) {
		if a != nil {
			p.auth = a
		}
	}
}

// WithTokenIssuer 发起方为请求附带凭证
func WithTokenIssuer(i TokenIssuer) Option {
	return func(p *Protocol) { p.issuer = i }
}

// WithNegotiator 设置能力协商策略
func WithNegotiator(n CapabilityNegotiator) Option {
	return func(p *Protocol) {
		if n != nil {
			p.negotiator = n
		}
	}
}

// WithMetrics 设置 Prometheus 采集器
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Protocol) { p.collector = c }
}

// =============================================================================
// Protocol
// =============================================================================

// Protocol runs both halves of the handshake for one local agent: it
// initiates handshakes with peers and answers the ones addressed to it.
type Protocol struct {
	agentID    string
	bus        events.Bus
	version    string
	auth       Authenticator
	issuer     TokenIssuer
	negotiator CapabilityNegotiator
	collector  *metrics.Collector
	logger     *zap.Logger

	mu            sync.RWMutex
	timeout       time.Duration
	maxConcurrent int
	active        map[string]*Session
	history       map[string]*Session

	pending *correlation.Table[Response]

	subMu     sync.Mutex
	respSub   string
	listenSub string
}

// New creates a protocol instance for agentID and subscribes to
// handshake.response so initiated handshakes can be correlated.
func New(agentID string, bus events.Bus, opts ...Option) *Protocol {
	p := &Protocol{
		agentID:    agentID,
		bus:        bus,
		version:    DefaultProtocolVersion,
		auth:       AllowAll,
		negotiator: Echo,
		logger:     zap.NewNop(),
		timeout:    DefaultTimeout,
		active:     make(map[string]*Session),
		history:    make(map[string]*Session),
		pending:    correlation.NewTable[Response](),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "handshake"), zap.String("agent_id", agentID))
	p.respSub = bus.Subscribe(events.HandshakeResponse, p.onResponse)
	return p
}

// AgentID returns the local agent id.
func (p *Protocol) AgentID() string { return p.agentID }

// Reconfigure applies timeout and capacity from a new handoff config.
func (p *Protocol) Reconfigure(cfg config.HandoffConfig) {
	p.mu.Lock()
	p.timeout = cfg.HandshakeTimeout()
	p.maxConcurrent = cfg.Resources.MaxConcurrentHandshakes
	p.mu.Unlock()
}

// Close drops the bus subscriptions.
func (p *Protocol) Close() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.respSub != "" {
		p.bus.Unsubscribe(p.respSub)
		p.respSub = ""
	}
	if p.listenSub != "" {
		p.bus.Unsubscribe(p.listenSub)
		p.listenSub = ""
	}
}

// =============================================================================
// Initiator
// =============================================================================

// InitiateHandshake sends a handshake request and waits for the peer's answer.
// A rejection is a Result with Success false. A timeout returns both a FAILED
// Result and an error wrapping types.ErrTimeoutWaiting.
func (p *Protocol) InitiateHandshake(ctx context.Context, req Request) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "handshake.initiate",
		attribute.String("handshake.source", req.SourceAgentID),
		attribute.String("handshake.target", req.TargetAgentID),
	)
	res, err := p.initiate(ctx, req)
	if res != nil {
		span.SetAttributes(attribute.String("handshake.state", string(res.State)))
	}
	telemetry.EndSpan(span, err)
	return res, err
}

func (p *Protocol) initiate(ctx context.Context, req Request) (*Result, error) {
	if req.HandshakeID == "" {
		req.HandshakeID = uuid.NewString()
	}
	if req.SourceAgentID == "" {
		req.SourceAgentID = p.agentID
	}
	if req.ProtocolVersion == "" {
		req.ProtocolVersion = p.version
	}
	req.Timestamp = time.Now()

	if p.issuer != nil && req.Token == "" {
		token, err := p.issuer.Issue(req.SourceAgentID)
		if err != nil {
			return nil, fmt.Errorf("handshake failed: %w", err)
		}
		req.Token = token
	}

	session := &Session{
		HandshakeID:     req.HandshakeID,
		SourceAgentID:   req.SourceAgentID,
		TargetAgentID:   req.TargetAgentID,
		State:           StateInitial,
		ProtocolVersion: req.ProtocolVersion,
		Capabilities:    append([]string(nil), req.Capabilities...),
		CreatedAt:       req.Timestamp,
	}

	timeout, err := p.admit(session)
	if err != nil {
		p.collector.RecordHandshake("initiator", "capacity")
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	entry, err := p.pending.Register(req.HandshakeID)
	if err != nil {
		p.fail(req.HandshakeID, err)
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	p.logger.Debug("handshake requested",
		zap.String("handshake_id", req.HandshakeID),
		zap.String("target", req.TargetAgentID),
	)
	p.bus.Publish(events.New(events.HandshakeRequest, p.agentID, req.TargetAgentID, req))

	resp, err := entry.Wait(ctx, timeout)
	if err != nil {
		s := p.fail(req.HandshakeID, err)
		p.collector.RecordHandshake("initiator", string(StateFailed))
		p.logger.Warn("handshake failed",
			zap.String("handshake_id", req.HandshakeID),
			zap.String("target", req.TargetAgentID),
			zap.Error(err),
		)
		return &Result{
			Success:     false,
			HandshakeID: req.HandshakeID,
			State:       StateFailed,
			Error:       s.Error,
		}, fmt.Errorf("handshake failed: %w", err)
	}

	final := p.settle(req.HandshakeID, resp)
	p.collector.RecordHandshake("initiator", string(final.State))
	p.bus.Publish(events.New(events.HandshakeCompleted, p.agentID, req.TargetAgentID, final))

	p.logger.Info("handshake finished",
		zap.String("handshake_id", req.HandshakeID),
		zap.String("state", string(final.State)),
	)

	return &Result{
		Success:      final.State == StateAccepted,
		HandshakeID:  final.HandshakeID,
		State:        final.State,
		SessionID:    final.SessionID,
		Capabilities: final.Capabilities,
		Error:        final.Error,
	}, nil
}

// admit inserts the session then checks the bound under one lock.
func (p *Protocol) admit(s *Session) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active[s.HandshakeID] = s
	if p.maxConcurrent > 0 && len(p.active) > p.maxConcurrent {
		delete(p.active, s.HandshakeID)
		return 0, types.NewCapacityError("concurrent handshakes", p.maxConcurrent)
	}
	s.State = StateRequested
	timeout := p.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return timeout, nil
}

// fail moves an active session to history as FAILED.
func (p *Protocol) fail(handshakeID string, cause error) Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.active[handshakeID]
	if !ok {
		return Session{HandshakeID: handshakeID, State: StateFailed, Error: cause.Error()}
	}
	delete(p.active, handshakeID)
	now := time.Now()
	s.State = StateFailed
	s.Error = cause.Error()
	s.CompletedAt = &now
	p.history[handshakeID] = s
	return s.clone()
}

// settle applies the peer's answer and moves the session to history.
func (p *Protocol) settle(handshakeID string, resp Response) Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.active[handshakeID]
	if !ok {
		s = &Session{HandshakeID: handshakeID, State: StateRequested, CreatedAt: time.Now()}
	}
	delete(p.active, handshakeID)

	now := time.Now()
	s.CompletedAt = &now
	if resp.Accepted {
		s.State = StateAccepted
		s.SessionID = resp.SessionID
		s.Capabilities = append([]string(nil), resp.Capabilities...)
		if resp.ProtocolVersion != "" {
			s.ProtocolVersion = resp.ProtocolVersion
		}
	} else {
		s.State = StateRejected
		s.Error = resp.Reason
	}
	p.history[handshakeID] = s
	return s.clone()
}

func (p *Protocol) onResponse(ev events.Event) {
	if ev.Target != "" && ev.Target != p.agentID {
		return
	}
	resp, err := events.Decode[Response](ev)
	if err != nil {
		p.logger.Warn("malformed handshake response", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	if !p.pending.Resolve(resp.HandshakeID, resp) {
		// 已超时或不属于本实例
		p.logger.Debug("uncorrelated handshake response", zap.String("handshake_id", resp.HandshakeID))
	}
}

// =============================================================================
// Responder
// =============================================================================

// HandleHandshakeRequest answers a peer's request. Version mismatch and
// authentication failure produce Accepted false, never an error.
func (p *Protocol) HandleHandshakeRequest(ctx context.Context, req Request) *Response {
	resp := &Response{
		HandshakeID:     req.HandshakeID,
		ResponderID:     p.agentID,
		ProtocolVersion: p.version,
		Timestamp:       time.Now(),
	}

	answered := resp.Timestamp
	session := &Session{
		HandshakeID:     req.HandshakeID,
		SourceAgentID:   req.SourceAgentID,
		TargetAgentID:   p.agentID,
		ProtocolVersion: p.version,
		CreatedAt:       answered,
		CompletedAt:     &answered,
	}

	switch {
	case !VersionsCompatible(req.ProtocolVersion, p.version):
		resp.Reason = fmt.Sprintf("incompatible protocol version %q (local %q)", req.ProtocolVersion, p.version)
	default:
		if err := p.auth.Authenticate(ctx, req); err != nil {
			resp.Reason = "authentication failed: " + err.Error()
			break
		}
		resp.Accepted = true
		resp.Capabilities = p.negotiator.Negotiate(req.Capabilities)
		resp.SessionID = uuid.NewString()
	}

	if resp.Accepted {
		session.State = StateAccepted
		session.Capabilities = append([]string(nil), resp.Capabilities...)
		session.SessionID = resp.SessionID
	} else {
		session.State = StateRejected
		session.Error = resp.Reason
		p.logger.Info("handshake rejected",
			zap.String("handshake_id", req.HandshakeID),
			zap.String("source", req.SourceAgentID),
			zap.String("reason", resp.Reason),
		)
	}

	p.mu.Lock()
	p.history[req.HandshakeID] = session
	p.mu.Unlock()

	p.collector.RecordHandshake("responder", string(session.State))
	return resp
}

// Listen answers handshake.request events addressed to the local agent.
// Calling it more than once has no extra effect.
func (p *Protocol) Listen() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.listenSub != "" {
		return
	}
	p.listenSub = p.bus.Subscribe(events.HandshakeRequest, func(ev events.Event) {
		if ev.Target != p.agentID {
			return
		}
		req, err := events.Decode[Request](ev)
		if err != nil {
			p.logger.Warn("malformed handshake request", zap.String("event_id", ev.ID), zap.Error(err))
			return
		}
		resp := p.HandleHandshakeRequest(context.Background(), req)
		p.bus.Publish(events.New(events.HandshakeResponse, p.agentID, req.SourceAgentID, *resp))
	})
}

// =============================================================================
// Session queries
// =============================================================================

// Complete tears down an accepted session (ACCEPTED → COMPLETED).
func (p *Protocol) Complete(handshakeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.history[handshakeID]
	if !ok {
		return types.NewError(types.ErrNotFound, "handshake "+handshakeID+" not found")
	}
	if !CanTransition(s.State, StateCompleted) {
		return types.NewError(types.ErrProtocol,
			fmt.Sprintf("handshake %s cannot complete from %s", handshakeID, s.State))
	}
	now := time.Now()
	s.State = StateCompleted
	s.CompletedAt = &now
	return nil
}

// Session returns a copy of the session, active or historical.
func (p *Protocol) Session(handshakeID string) (Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.active[handshakeID]; ok {
		return s.clone(), true
	}
	if s, ok := p.history[handshakeID]; ok {
		return s.clone(), true
	}
	return Session{}, false
}

// AcceptedSession returns the session only if it is in history and ACCEPTED.
func (p *Protocol) AcceptedSession(handshakeID string) (Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.history[handshakeID]
	if !ok || s.State != StateAccepted {
		return Session{}, false
	}
	return s.clone(), true
}

// ActiveCount 进行中的握手数
func (p *Protocol) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// History returns finished sessions ordered by creation time.
func (p *Protocol) History() []Session {
	p.mu.RLock()
	out := make([]Session, 0, len(p.history))
	for _, s := range p.history {
		out = append(out, s.clone())
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// IsTimeout reports whether err came from an unanswered handshake.
func IsTimeout(err error) bool {
	return errors.Is(err, types.ErrTimeoutWaiting)
}

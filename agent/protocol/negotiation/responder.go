package negotiation

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/agent/events"
	"github.com/BaSui01/swarmhandoff/agent/toolchannel"
	"github.com/BaSui01/swarmhandoff/types"
)

// Decision 应答方对一个任务的决定
type Decision struct {
	Accepted           bool
	EstimatedLatencyMs int64
	Reason             string
}

// Acceptor decides whether the local agent takes an offered task.
type Acceptor interface {
	Accept(ctx context.Context, req NegotiationRequest) Decision
}

// AcceptorFunc adapts a function to Acceptor.
type AcceptorFunc func(ctx context.Context, req NegotiationRequest) Decision

func (f AcceptorFunc) Accept(ctx context.Context, req NegotiationRequest) Decision {
	return f(ctx, req)
}

// HeuristicAcceptor accepts tasks whose description matches one of caps.
func HeuristicAcceptor(caps []string, h Heuristics) Acceptor {
	caps = append([]string(nil), caps...)
	return AcceptorFunc(func(_ context.Context, req NegotiationRequest) Decision {
		d := Decision{
			Accepted:           CapabilityMatch(req.Task.Description, caps),
			EstimatedLatencyMs: h.EstimateLatencyMs(req.Task.Description),
		}
		if !d.Accepted {
			d.Reason = "no matching capability"
		}
		return d
	})
}

// =============================================================================
// Responder half
// =============================================================================

// HandleNegotiationRequest answers an offered task.
func (m *Mediator) HandleNegotiationRequest(ctx context.Context, req NegotiationRequest) *NegotiationResponse {
	resp := &NegotiationResponse{
		NegotiationID: req.NegotiationID,
		HandshakeID:   req.HandshakeID,
		ResponderID:   m.agentID,
		ResolvedBy:    ResolvedLocally,
	}
	if _, ok := m.sessions.AcceptedSession(req.HandshakeID); !ok {
		resp.Error = types.ErrHandshakeNotAccepted.Error()
		return resp
	}

	d := m.acceptor.Accept(ctx, req)
	resp.Success = true
	resp.Accepted = d.Accepted
	resp.EstimatedLatencyMs = d.EstimatedLatencyMs
	resp.Reason = d.Reason

	m.logger.Debug("negotiation answered",
		zap.String("negotiation_id", req.NegotiationID),
		zap.String("source", req.SourceAgentID),
		zap.Bool("accepted", d.Accepted),
	)
	return resp
}

// HandleSyncRequest applies incoming state to the shared state of the
// handshake. Full syncs replace it, incremental syncs merge top-level keys.
func (m *Mediator) HandleSyncRequest(_ context.Context, req StateSyncRequest) *StateSyncResponse {
	resp := &StateSyncResponse{
		SyncID:      req.SyncID,
		HandshakeID: req.HandshakeID,
		ResponderID: m.agentID,
		ResolvedBy:  ResolvedLocally,
	}
	if _, ok := m.sessions.AcceptedSession(req.HandshakeID); !ok {
		resp.Error = types.ErrHandshakeNotAccepted.Error()
		return resp
	}

	if req.State == nil {
		resp.Success = true
		resp.Acknowledged = req.SyncType == SyncIncremental
		if !resp.Acknowledged {
			resp.Error = "full sync requires state"
		}
		return resp
	}

	state, err := toMap(req.State)
	if err != nil {
		resp.Success = true
		resp.Error = fmt.Sprintf("state must be an object: %v", err)
		return resp
	}

	m.stateMu.Lock()
	if req.SyncType == SyncIncremental {
		cur, ok := m.shared[req.HandshakeID]
		if !ok {
			cur = make(map[string]any, len(state))
			m.shared[req.HandshakeID] = cur
		}
		maps.Copy(cur, state)
	} else {
		m.shared[req.HandshakeID] = maps.Clone(state)
	}
	m.stateMu.Unlock()

	resp.Success = true
	resp.Acknowledged = true
	return resp
}

// SharedState returns a copy of the state synchronized for handshakeID.
func (m *Mediator) SharedState(handshakeID string) (map[string]any, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	s, ok := m.shared[handshakeID]
	if !ok {
		return nil, false
	}
	return maps.Clone(s), true
}

// DropState forgets the shared state of a finished handshake.
func (m *Mediator) DropState(handshakeID string) {
	m.stateMu.Lock()
	delete(m.shared, handshakeID)
	m.stateMu.Unlock()
}

// Listen answers negotiation.request and sync.request events addressed to
// the local agent. Calling it more than once has no extra effect.
func (m *Mediator) Listen() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if len(m.subs) > 0 {
		return
	}

	m.subs = append(m.subs,
		m.bus.Subscribe(events.NegotiationRequest, func(ev events.Event) {
			if ev.Target != m.agentID {
				return
			}
			req, err := events.Decode[NegotiationRequest](ev)
			if err != nil {
				m.logger.Warn("malformed negotiation request", zap.String("event_id", ev.ID), zap.Error(err))
				return
			}
			resp := m.HandleNegotiationRequest(context.Background(), req)
			m.bus.Publish(events.New(events.NegotiationResponse, m.agentID, req.SourceAgentID, *resp))
		}),
		m.bus.Subscribe(events.SyncRequest, func(ev events.Event) {
			if ev.Target != m.agentID {
				return
			}
			req, err := events.Decode[StateSyncRequest](ev)
			if err != nil {
				m.logger.Warn("malformed sync request", zap.String("event_id", ev.ID), zap.Error(err))
				return
			}
			resp := m.HandleSyncRequest(context.Background(), req)
			m.bus.Publish(events.New(events.SyncResponse, m.agentID, req.SourceAgentID, *resp))
		}),
	)
}

// Close drops the Listen subscriptions.
func (m *Mediator) Close() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, id := range m.subs {
		m.bus.Unsubscribe(id)
	}
	m.subs = nil
}

// ToolOperations exposes the responder half as tool-channel operations,
// for toolchannel.NewServer.
func (m *Mediator) ToolOperations() map[string]toolchannel.OperationFunc {
	return map[string]toolchannel.OperationFunc{
		toolchannel.OpNegotiateTask: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			var req NegotiationRequest
			if err := fromMap(args, &req); err != nil {
				return nil, fmt.Errorf("decode negotiation request: %w", err)
			}
			return toMap(m.HandleNegotiationRequest(ctx, req))
		},
		toolchannel.OpSyncState: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			var req StateSyncRequest
			if err := fromMap(args, &req); err != nil {
				return nil, fmt.Errorf("decode sync request: %w", err)
			}
			return toMap(m.HandleSyncRequest(ctx, req))
		},
	}
}

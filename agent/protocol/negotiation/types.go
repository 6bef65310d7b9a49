package negotiation

import (
	"time"

	"github.com/BaSui01/swarmhandoff/types"
)

// SyncType 状态同步类型
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// Resolution 应答的来源
type Resolution string

const (
	ResolvedByTool    Resolution = "tool"
	ResolvedByEvent   Resolution = "event"
	ResolvedByDefault Resolution = "default"
	ResolvedLocally   Resolution = "local"
)

// NegotiationRequest offers a task to the peer of an accepted handshake.
type NegotiationRequest struct {
	NegotiationID string     `json:"negotiation_id"`
	HandshakeID   string     `json:"handshake_id"`
	SourceAgentID string     `json:"source_agent_id"`
	TargetAgentID string     `json:"target_agent_id"`
	Task          types.Task `json:"task"`
	Timestamp     time.Time  `json:"timestamp"`
}

// NegotiationResponse 协商结果。Success 表示协商流程本身完成，
// Accepted 表示对端是否接受任务。
type NegotiationResponse struct {
	NegotiationID      string     `json:"negotiation_id,omitempty"`
	HandshakeID        string     `json:"handshake_id"`
	ResponderID        string     `json:"responder_id,omitempty"`
	Success            bool       `json:"success"`
	Accepted           bool       `json:"accepted"`
	EstimatedLatencyMs int64      `json:"estimated_latency"`
	Reason             string     `json:"reason,omitempty"`
	Error              string     `json:"error,omitempty"`
	ResolvedBy         Resolution `json:"resolved_by,omitempty"`
}

// EstimatedLatency returns the estimate as a duration.
func (r *NegotiationResponse) EstimatedLatency() time.Duration {
	return time.Duration(r.EstimatedLatencyMs) * time.Millisecond
}

// StateSyncRequest propagates shared context to the peer.
type StateSyncRequest struct {
	SyncID        string    `json:"sync_id"`
	HandshakeID   string    `json:"handshake_id"`
	SourceAgentID string    `json:"source_agent_id"`
	TargetAgentID string    `json:"target_agent_id"`
	SyncType      SyncType  `json:"sync_type"`
	State         any       `json:"state,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// StateSyncResponse 同步结果
type StateSyncResponse struct {
	SyncID       string     `json:"sync_id,omitempty"`
	HandshakeID  string     `json:"handshake_id"`
	ResponderID  string     `json:"responder_id,omitempty"`
	Success      bool       `json:"success"`
	Acknowledged bool       `json:"acknowledged"`
	Error        string     `json:"error,omitempty"`
	ResolvedBy   Resolution `json:"resolved_by,omitempty"`
}

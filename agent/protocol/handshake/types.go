package handshake

import (
	"strings"
	"time"
)

// State 握手会话状态
type State string

const (
	StateInitial   State = "INITIAL"
	StateRequested State = "REQUESTED"
	StateAccepted  State = "ACCEPTED"
	StateRejected  State = "REJECTED"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// transitions 合法的状态迁移（FAILED 在 CanTransition 中单独处理）
var transitions = map[State][]State{
	StateInitial:   {StateRequested, StateAccepted, StateRejected},
	StateRequested: {StateAccepted, StateRejected},
	StateAccepted:  {StateCompleted},
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateFailed
}

// CanTransition reports whether from → to is a legal move. Any non-terminal
// state may fail.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request 握手请求（handshake.request 事件载荷）
type Request struct {
	HandshakeID     string    `json:"handshake_id"`
	SourceAgentID   string    `json:"source_agent_id"`
	TargetAgentID   string    `json:"target_agent_id"`
	ProtocolVersion string    `json:"protocol_version"`
	Capabilities    []string  `json:"capabilities"`
	Token           string    `json:"token,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Response 握手应答（handshake.response 事件载荷）
type Response struct {
	HandshakeID     string    `json:"handshake_id"`
	ResponderID     string    `json:"responder_id"`
	Accepted        bool      `json:"accepted"`
	ProtocolVersion string    `json:"protocol_version"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Session 握手会话
type Session struct {
	HandshakeID     string     `json:"handshake_id"`
	SourceAgentID   string     `json:"source_agent_id"`
	TargetAgentID   string     `json:"target_agent_id"`
	State           State      `json:"state"`
	ProtocolVersion string     `json:"protocol_version"`
	Capabilities    []string   `json:"capabilities,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

func (s *Session) clone() Session {
	out := *s
	out.Capabilities = append([]string(nil), s.Capabilities...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Result 发起方视角的握手结果
type Result struct {
	Success      bool     `json:"success"`
	HandshakeID  string   `json:"handshake_id"`
	State        State    `json:"state"`
	SessionID    string   `json:"session_id,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// VersionsCompatible 版本相同，或主版本号（第一个 "." 之前）相同即兼容
func VersionsCompatible(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return leading(a) == leading(b)
}

func leading(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}

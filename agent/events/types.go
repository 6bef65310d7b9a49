package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type 事件类型
type Type string

const (
	HandshakeRequest   Type = "handshake.request"
	HandshakeResponse  Type = "handshake.response"
	HandshakeCompleted Type = "handshake.completed"

	NegotiationRequest   Type = "negotiation.request"
	NegotiationResponse  Type = "negotiation.response"
	NegotiationCompleted Type = "negotiation.completed"

	SyncRequest   Type = "sync.request"
	SyncResponse  Type = "sync.response"
	SyncCompleted Type = "sync.completed"

	HandoffStarted      Type = "handoff.started"
	HandoffCompleted    Type = "handoff.completed"
	HandoffFailed       Type = "handoff.failed"
	HandoffLatencyAlert Type = "handoff.latency_alert"
)

// ProtocolTypes are the request/response events two processes must exchange
// for handshake, negotiation and sync to work across a bridge.
func ProtocolTypes() []Type {
	return []Type{
		HandshakeRequest, HandshakeResponse,
		NegotiationRequest, NegotiationResponse,
		SyncRequest, SyncResponse,
	}
}

// Event 总线上传递的消息
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Target    string    `json:"target,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(typ Type, source, target string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now(),
		Source:    source,
		Target:    target,
		Payload:   payload,
	}
}

// Decode extracts a typed payload. Payloads published in-process arrive as T or
// *T; payloads relayed over a bridge arrive as raw JSON.
func Decode[T any](ev Event) (T, error) {
	var out T
	switch p := ev.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, fmt.Errorf("event %s: nil payload", ev.Type)
		}
		return *p, nil
	case json.RawMessage:
		return out, unmarshalPayload(ev, p, &out)
	case []byte:
		return out, unmarshalPayload(ev, p, &out)
	case nil:
		return out, fmt.Errorf("event %s: empty payload", ev.Type)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return out, fmt.Errorf("event %s: encode payload: %w", ev.Type, err)
		}
		return out, unmarshalPayload(ev, data, &out)
	}
}

func unmarshalPayload(ev Event, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("event %s: decode payload: %w", ev.Type, err)
	}
	return nil
}

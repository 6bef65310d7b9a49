// Package toolchannel is the optional fast path the negotiation mediator
// uses before falling back to event correlation.
package toolchannel

import (
	"context"
	"errors"
)

// Operation names the mediator looks for.
const (
	OpNegotiateTask = "negotiate_task"
	OpSyncState     = "sync_state"
)

// ErrUnsupported 通道不支持该操作
var ErrUnsupported = errors.New("operation not supported by tool channel")

// Channel is an external tool-invocation channel.
type Channel interface {
	// Supports reports whether op is currently advertised.
	Supports(op string) bool
	ListOperations(ctx context.Context) ([]string, error)
	Invoke(ctx context.Context, op string, args map[string]any) (map[string]any, error)
}

// Null is the channel used when none is connected. It supports nothing.
type Null struct{}

func (Null) Supports(string) bool { return false }

func (Null) ListOperations(context.Context) ([]string, error) { return nil, nil }

func (Null) Invoke(context.Context, string, map[string]any) (map[string]any, error) {
	return nil, ErrUnsupported
}

// OrNull returns ch, or Null when ch is nil.
func OrNull(ch Channel) Channel {
	if ch == nil {
		return Null{}
	}
	return ch
}

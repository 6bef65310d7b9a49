package contextstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/BaSui01/swarmhandoff/types"
)

// record is what a store keeps per staged handoff. Payload is gzip'd JSON.
type record struct {
	HandoffID     string    `json:"handoff_id"`
	SourceAgentID string    `json:"source_agent_id"`
	TargetAgentID string    `json:"target_agent_id"`
	TaskID        string    `json:"task_id"`
	Priority      int       `json:"priority"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}

func compress(v any, level int) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress context: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress context: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) (any, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress context: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress context: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return v, nil
}

// stage validates req and builds the record to store along with its TTL.
func stage(req *types.HandoffRequest, opts options, now time.Time) (*record, time.Duration, error) {
	if req == nil {
		return nil, 0, types.NewError(types.ErrProtocol, "nil handoff request")
	}
	if req.HandoffID == "" || req.TargetAgentID == "" {
		return nil, 0, types.NewError(types.ErrProtocol, "handoff id and target agent are required")
	}

	ttl := opts.ttl
	if !req.Deadline.IsZero() {
		left := req.Deadline.Sub(now)
		if left <= 0 {
			return nil, 0, types.NewError(types.ErrProtocol,
				fmt.Sprintf("handoff %s deadline already passed", req.HandoffID))
		}
		if ttl <= 0 || left < ttl {
			ttl = left
		}
	}

	payload, err := compress(req.Context, opts.level)
	if err != nil {
		return nil, 0, err
	}
	if opts.maxSize > 0 && len(payload) > opts.maxSize {
		return nil, 0, types.NewCapacityError("context size", opts.maxSize)
	}

	return &record{
		HandoffID:     req.HandoffID,
		SourceAgentID: req.SourceAgentID,
		TargetAgentID: req.TargetAgentID,
		TaskID:        req.TaskID,
		Priority:      req.Priority,
		Payload:       payload,
		CreatedAt:     now,
	}, ttl, nil
}

func notFound(handoffID string) error {
	return types.NewError(types.ErrNotFound, fmt.Sprintf("handoff %s not found or expired", handoffID))
}

func wrongTarget(rec *record, targetAgentID string) error {
	return types.NewError(types.ErrProtocol,
		fmt.Sprintf("handoff %s is addressed to %s, not %s", rec.HandoffID, rec.TargetAgentID, targetAgentID)).
		WithAgent(targetAgentID)
}

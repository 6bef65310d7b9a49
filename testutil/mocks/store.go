package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/swarmhandoff/types"
)

// ScriptedStore is an in-memory context-handoff collaborator whose two steps
// can fail on demand, per target agent.
type ScriptedStore struct {
	mu sync.Mutex

	staged map[string]*types.HandoffRequest

	failInitiate map[string]int // target -> remaining failures, -1 = always
	failComplete map[string]int

	initiateCalls []types.HandoffRequest
	completeCalls []string
}

// NewScriptedStore 创建 ScriptedStore
func NewScriptedStore() *ScriptedStore {
	return &ScriptedStore{
		staged:       make(map[string]*types.HandoffRequest),
		failInitiate: make(map[string]int),
		failComplete: make(map[string]int),
	}
}

// FailInitiate makes the next n initiations for target fail; n < 0 fails all.
func (s *ScriptedStore) FailInitiate(target string, n int) *ScriptedStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInitiate[target] = n
	return s
}

// FailComplete makes the next n completions for target fail; n < 0 fails all.
func (s *ScriptedStore) FailComplete(target string, n int) *ScriptedStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failComplete[target] = n
	return s
}

func take(m map[string]int, key string) bool {
	n, ok := m[key]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		m[key] = n - 1
	}
	return true
}

func (s *ScriptedStore) InitiateHandoff(ctx context.Context, req *types.HandoffRequest) (*types.HandoffResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiateCalls = append(s.initiateCalls, *req)
	if take(s.failInitiate, req.TargetAgentID) {
		return nil, types.NewError(types.ErrExecution, "mock store: initiate failed for "+req.TargetAgentID).
			WithRetryable(true)
	}
	cp := *req
	s.staged[req.HandoffID] = &cp
	return &types.HandoffResponse{HandoffID: req.HandoffID, Success: true}, nil
}

func (s *ScriptedStore) CompleteHandoff(ctx context.Context, handoffID, targetAgentID string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCalls = append(s.completeCalls, targetAgentID)
	if take(s.failComplete, targetAgentID) {
		return nil, errors.New("mock store: complete failed for " + targetAgentID)
	}
	req, ok := s.staged[handoffID]
	if !ok || req.TargetAgentID != targetAgentID {
		return nil, types.NewError(types.ErrNotFound, "mock store: no staged handoff "+handoffID)
	}
	delete(s.staged, handoffID)
	return req.Context, nil
}

// InitiateCalls 返回 InitiateHandoff 收到的请求
func (s *ScriptedStore) InitiateCalls() []types.HandoffRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.HandoffRequest(nil), s.initiateCalls...)
}

// CompleteTargets 返回 CompleteHandoff 的目标序列
func (s *ScriptedStore) CompleteTargets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completeCalls...)
}

// Staged 暂存中的交接数
func (s *ScriptedStore) Staged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

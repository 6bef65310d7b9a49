package handoff

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/agent/protocol/handshake"
	"github.com/BaSui01/swarmhandoff/agent/protocol/negotiation"
	"github.com/BaSui01/swarmhandoff/agent/swarm"
	"github.com/BaSui01/swarmhandoff/types"
)

// Evaluation is an evaluator's verdict on who should take a task.
type Evaluation struct {
	TargetAgentID string  `json:"target_agent_id"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// Evaluator decides whether and where a task should move.
type Evaluator interface {
	Evaluate(ctx context.Context, sourceAgentID string, task types.Task) (Evaluation, error)
}

// EvaluatorFunc 函数适配器
type EvaluatorFunc func(ctx context.Context, sourceAgentID string, task types.Task) (Evaluation, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, sourceAgentID string, task types.Task) (Evaluation, error) {
	return f(ctx, sourceAgentID, task)
}

// DirectoryEvaluator routes a task to the least-loaded agent whose
// capabilities match its description. Confidence is the share of the
// candidate's capabilities that appear in the description, floored at
// base for any match.
func DirectoryEvaluator(dir *swarm.Directory, base float64) Evaluator {
	return EvaluatorFunc(func(_ context.Context, source string, task types.Task) (Evaluation, error) {
		var (
			best  types.Agent
			found bool
		)
		for _, a := range dir.Agents() {
			if a.ID == source || len(a.Capabilities) == 0 || !negotiation.CapabilityMatch(task.Description, a.Capabilities) {
				continue
			}
			if !found || a.Workload < best.Workload || (a.Workload == best.Workload && a.ID < best.ID) {
				best, found = a, true
			}
		}
		if !found {
			return Evaluation{Reasoning: "no agent advertises a matching capability"}, nil
		}

		desc := strings.ToLower(task.Description)
		hits := 0
		for _, c := range best.Capabilities {
			if c != "" && strings.Contains(desc, strings.ToLower(c)) {
				hits++
			}
		}
		conf := max(base, float64(hits)/float64(max(len(best.Capabilities), 1)))
		return Evaluation{
			TargetAgentID: best.ID,
			Confidence:    min(conf, 1),
			Reasoning:     fmt.Sprintf("%d of %d capabilities of %s match", hits, len(best.Capabilities), best.ID),
		}, nil
	})
}

// Handshaker is the initiator side of the handshake protocol.
type Handshaker interface {
	InitiateHandshake(ctx context.Context, req handshake.Request) (*handshake.Result, error)
	Complete(handshakeID string) error
}

// Mediator negotiates a task and synchronizes state over an accepted handshake.
type Mediator interface {
	NegotiateTask(ctx context.Context, req negotiation.NegotiationRequest) *negotiation.NegotiationResponse
	SyncState(ctx context.Context, req negotiation.StateSyncRequest) *negotiation.StateSyncResponse
}

// Stage names the step at which a coordinated handoff stopped.
type Stage string

const (
	StageEvaluate  Stage = "evaluate"
	StageThreshold Stage = "threshold"
	StageHandshake Stage = "handshake"
	StageNegotiate Stage = "negotiate"
	StageSync      Stage = "sync"
	StageHandoff   Stage = "handoff"
	StageDone      Stage = "done"
)

// Assignment 一次协调交接的输入
type Assignment struct {
	SourceAgentID string
	Task          types.Task
	// Depth is how many times the task has already been handed off.
	Depth int
	// State is sent as the full sync payload and handoff context.
	// Task.Context is used when nil.
	State any
	// TargetAgentID is used when the evaluator names no target.
	TargetAgentID string
	Capabilities  []string
}

// Outcome reports how far a coordinated handoff got.
type Outcome struct {
	Stage         Stage                            `json:"stage"`
	Proceeded     bool                             `json:"proceeded"`
	TargetAgentID string                           `json:"target_agent_id,omitempty"`
	Confidence    float64                          `json:"confidence"`
	HandshakeID   string                           `json:"handshake_id,omitempty"`
	Negotiation   *negotiation.NegotiationResponse `json:"negotiation,omitempty"`
	Sync          *negotiation.StateSyncResponse   `json:"sync,omitempty"`
	Result        *Result                          `json:"result,omitempty"`
	Reason        string                           `json:"reason,omitempty"`
}

// Coordinator drives evaluate, threshold, handshake, negotiation, state sync
// and handoff strictly in that order.
type Coordinator struct {
	executor   *Executor
	handshakes Handshaker
	mediator   Mediator
	evaluator  Evaluator
	logger     *zap.Logger
}

// NewCoordinator 创建协调器
func NewCoordinator(exec *Executor, hs Handshaker, med Mediator, eval Evaluator, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		executor:   exec,
		handshakes: hs,
		mediator:   med,
		evaluator:  eval,
		logger:     logger.With(zap.String("component", "handoff_coordinator")),
	}
}

// Run executes one coordinated handoff. A refusal at any stage is reported
// in the Outcome with a nil error. Evaluator failures, handshake timeouts,
// handshake capacity rejections and executor failures come back as errors
// alongside the Outcome.
func (c *Coordinator) Run(ctx context.Context, a Assignment) (*Outcome, error) {
	if c.executor == nil || c.handshakes == nil || c.mediator == nil || c.evaluator == nil {
		return nil, errors.New("coordinator is missing a collaborator")
	}

	eval, err := c.evaluator.Evaluate(ctx, a.SourceAgentID, a.Task)
	if err != nil {
		return &Outcome{Stage: StageEvaluate, Reason: err.Error()},
			types.NewError(types.ErrExecution, "task evaluation failed").WithCause(err)
	}
	out := &Outcome{Stage: StageEvaluate, TargetAgentID: eval.TargetAgentID, Confidence: eval.Confidence}
	if out.TargetAgentID == "" {
		out.TargetAgentID = a.TargetAgentID
	}
	if out.TargetAgentID == "" {
		out.Reason = "no target agent: " + eval.Reasoning
		return out, nil
	}

	out.Stage = StageThreshold
	if !c.executor.ShouldHandoff(eval.Confidence, a.Depth) {
		cfg := c.executor.GetConfig()
		out.Reason = fmt.Sprintf("confidence %.2f at depth %d below policy (threshold %.2f, minimum %.2f, max depth %d)",
			eval.Confidence, a.Depth, cfg.ConfidenceThreshold, cfg.MinimumConfidenceForHandoff, cfg.MaxHandoffDepth)
		return out, nil
	}

	out.Stage = StageHandshake
	hs, err := c.handshakes.InitiateHandshake(ctx, handshake.Request{
		SourceAgentID: a.SourceAgentID,
		TargetAgentID: out.TargetAgentID,
		Capabilities:  slices.Clone(a.Capabilities),
	})
	if hs != nil {
		out.HandshakeID = hs.HandshakeID
	}
	if err != nil {
		// 超时与容量拒绝属于发起方错误，原样上抛
		out.Reason = err.Error()
		return out, err
	}
	if hs == nil || !hs.Success {
		out.Reason = reasonOf(hs)
		c.logger.Info("handshake did not succeed",
			zap.String("target", out.TargetAgentID),
			zap.String("reason", out.Reason))
		return out, nil
	}

	out.Stage = StageNegotiate
	neg := c.mediator.NegotiateTask(ctx, negotiation.NegotiationRequest{
		HandshakeID: hs.HandshakeID,
		Task:        a.Task,
	})
	out.Negotiation = neg
	if !neg.Success || !neg.Accepted {
		out.Reason = firstNonEmpty(neg.Error, neg.Reason, "task not accepted")
		return out, nil
	}

	state := a.State
	if state == nil {
		state = a.Task.Context
	}
	out.Stage = StageSync
	sync := c.mediator.SyncState(ctx, negotiation.StateSyncRequest{
		HandshakeID: hs.HandshakeID,
		SyncType:    negotiation.SyncFull,
		State:       state,
	})
	out.Sync = sync
	if !sync.Success || !sync.Acknowledged {
		out.Reason = firstNonEmpty(sync.Error, "state sync not acknowledged")
		return out, nil
	}

	out.Stage = StageHandoff
	res, err := c.executor.InitiateHandoff(ctx, a.SourceAgentID, out.TargetAgentID, a.Task.ID, state,
		WithPriority(a.Task.Priority))
	if err != nil {
		out.Reason = err.Error()
		return out, err
	}
	out.Result = res

	if err := c.handshakes.Complete(hs.HandshakeID); err != nil {
		c.logger.Warn("failed to complete handshake",
			zap.String("handshake_id", hs.HandshakeID),
			zap.Error(err))
	}
	out.Stage = StageDone
	out.Proceeded = true
	return out, nil
}

func reasonOf(r *handshake.Result) string {
	if r == nil {
		return "no handshake result"
	}
	return firstNonEmpty(r.Error, "handshake "+string(r.State))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

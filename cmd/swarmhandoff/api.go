package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/agent/handoff"
	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/types"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, err error) {
	writeJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(code),
			Message:   err.Error(),
			Retryable: types.IsRetryable(err),
		},
		Timestamp: time.Now(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// statusFor 错误到 HTTP 状态码映射
func statusFor(err error) (int, types.ErrorCode) {
	switch {
	case errors.Is(err, types.ErrCapacityExceeded):
		return http.StatusTooManyRequests, types.ErrCapacity
	case types.IsErrorCode(err, types.ErrConfigValidation):
		return http.StatusBadRequest, types.ErrConfigValidation
	case types.IsErrorCode(err, types.ErrNotFound):
		return http.StatusNotFound, types.ErrNotFound
	}
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrExecution
	}
	return http.StatusBadGateway, code
}

// =============================================================================
// 🌐 路由
// =============================================================================

// routes builds the HTTP surface of a node.
func (n *Node) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", n.handleHealth)
	mux.HandleFunc("GET /version", handleVersion)
	mux.Handle("GET /metrics", n.collector.Handler())
	mux.Handle("/ws", n.bridge.Handler())
	mux.Handle("/mcp", n.toolHandler())

	mux.HandleFunc("POST /api/v1/handoffs", n.handleCreateHandoff)
	mux.HandleFunc("POST /api/v1/handoffs/local", n.handleLocalHandoff)
	mux.HandleFunc("GET /api/v1/handoffs/{id}", n.handleGetHandoff)
	mux.HandleFunc("PATCH /api/v1/handoffs/{id}", n.handleUpdateProgress)
	mux.HandleFunc("DELETE /api/v1/handoffs/{id}", n.handleCancelHandoff)
	mux.HandleFunc("GET /api/v1/agents", n.handleAgents)
	mux.HandleFunc("GET /api/v1/config", n.handleGetConfig)
	mux.HandleFunc("PUT /api/v1/config/preset/{name}", n.handleLoadPreset)
	mux.HandleFunc("GET /api/v1/stats", n.handleStats)
	return mux
}

// HealthStatus /health 响应
type HealthStatus struct {
	Status     string            `json:"status"`
	AgentID    string            `json:"agent_id"`
	Version    string            `json:"version"`
	Config     config.Health     `json:"config"`
	Breakers   map[string]string `json:"breakers,omitempty"`
	InFlight   int               `json:"in_flight"`
	Handshakes int               `json:"active_handshakes"`
	Peers      int               `json:"peers"`
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := HealthStatus{
		Status:     "healthy",
		AgentID:    n.cfg.Agent.ID,
		Version:    Version,
		Config:     n.executor.CheckConfigHealth(),
		InFlight:   n.executor.InFlight(),
		Handshakes: n.handshakes.ActiveCount(),
		Peers:      n.bridge.PeerCount(),
	}
	if states := n.executor.BreakerStates(); len(states) > 0 {
		h.Breakers = make(map[string]string, len(states))
		for target, s := range states {
			h.Breakers[target] = s.String()
		}
	}
	status := http.StatusOK
	if !h.Config.Healthy {
		h.Status = "degraded"
	}
	if n.cache != nil {
		if err := n.cache.Ping(r.Context()); err != nil {
			h.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			n.logger.Warn("redis health check failed", zap.Error(err))
		}
	}
	writeJSON(w, status, h)
}

func handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// CreateHandoffRequest POST /api/v1/handoffs 请求体
type CreateHandoffRequest struct {
	SourceAgentID string    `json:"source_agent_id"`
	TargetAgentID string    `json:"target_agent_id"`
	TaskID        string    `json:"task_id"`
	Priority      int       `json:"priority,omitempty"`
	Deadline      time.Time `json:"deadline,omitempty"`
	Context       any       `json:"context,omitempty"`
}

func (n *Node) handleCreateHandoff(w http.ResponseWriter, r *http.Request) {
	var req CreateHandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, types.ErrProtocol, err)
		return
	}
	if req.TargetAgentID == "" || req.TaskID == "" {
		writeError(w, r, http.StatusBadRequest, types.ErrProtocol,
			errors.New("target_agent_id and task_id are required"))
		return
	}
	if req.SourceAgentID == "" {
		req.SourceAgentID = n.cfg.Agent.ID
	}

	opts := []handoff.RequestOption{handoff.WithPriority(req.Priority)}
	if !req.Deadline.IsZero() {
		opts = append(opts, handoff.WithDeadline(req.Deadline))
	}
	res, err := n.executor.InitiateHandoff(r.Context(), req.SourceAgentID, req.TargetAgentID, req.TaskID, req.Context, opts...)
	if err != nil {
		status, code := statusFor(err)
		writeError(w, r, status, code, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res)
}

func (n *Node) handleLocalHandoff(w http.ResponseWriter, r *http.Request) {
	var task types.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, r, http.StatusBadRequest, types.ErrProtocol, err)
		return
	}
	res, err := n.executor.LocalHandoff(r.Context(), task, nil)
	if err != nil {
		status, code := statusFor(err)
		writeError(w, r, status, code, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res)
}

func (n *Node) handleGetHandoff(w http.ResponseWriter, r *http.Request) {
	s, ok := n.executor.Status(r.PathValue("id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, types.ErrNotFound, errors.New("handoff not found"))
		return
	}
	writeSuccess(w, r, http.StatusOK, s)
}

func (n *Node) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Progress int `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, types.ErrProtocol, err)
		return
	}
	id := r.PathValue("id")
	if !n.executor.UpdateProgress(id, body.Progress) {
		writeError(w, r, http.StatusNotFound, types.ErrNotFound, errors.New("handoff not found"))
		return
	}
	s, _ := n.executor.Status(id)
	writeSuccess(w, r, http.StatusOK, s)
}

func (n *Node) handleCancelHandoff(w http.ResponseWriter, r *http.Request) {
	if !n.executor.Cancel(r.PathValue("id")) {
		writeError(w, r, http.StatusNotFound, types.ErrNotFound, errors.New("handoff not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, n.directory.Agents())
}

func (n *Node) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"config":  n.executor.GetConfig(),
		"preset":  n.configs.PresetName(),
		"version": n.configs.Version(),
	})
}

func (n *Node) handleLoadPreset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !config.IsPreset(name) {
		writeError(w, r, http.StatusNotFound, types.ErrNotFound, errors.New("unknown preset: "+name))
		return
	}
	if err := n.executor.LoadPreset(name); err != nil {
		writeError(w, r, http.StatusBadRequest, types.ErrConfigValidation, err)
		return
	}
	n.logger.Info("handoff preset loaded", zap.String("preset", name))
	writeSuccess(w, r, http.StatusOK, n.executor.GetConfig())
}

// StatsResponse /api/v1/stats 响应
type StatsResponse struct {
	handoff.Metrics
	SuccessRate float64 `json:"success_rate"`
	InFlight    int     `json:"in_flight"`
}

func (n *Node) handleStats(w http.ResponseWriter, r *http.Request) {
	m := n.executor.GetMetrics()
	writeSuccess(w, r, http.StatusOK, StatsResponse{
		Metrics:     m,
		SuccessRate: m.SuccessRate(),
		InFlight:    n.executor.InFlight(),
	})
}

// Package swarm keeps the table of known swarm agents: their capabilities,
// locality and current workload.
package swarm

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/types"
)

// Directory 线程安全的 Agent 表
type Directory struct {
	mu     sync.RWMutex
	agents map[string]*types.Agent
	logger *zap.Logger
}

// NewDirectory creates an empty directory.
func NewDirectory(logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		agents: make(map[string]*types.Agent),
		logger: logger.With(zap.String("component", "swarm_directory")),
	}
}

// Register adds or replaces an agent. Replacing keeps the current workload.
func (d *Directory) Register(a types.Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	cp := a
	cp.Capabilities = append([]string(nil), a.Capabilities...)

	d.mu.Lock()
	if existing, ok := d.agents[a.ID]; ok {
		cp.Workload = existing.Workload
	}
	d.agents[a.ID] = &cp
	d.mu.Unlock()

	d.logger.Info("agent registered",
		zap.String("agent_id", a.ID),
		zap.String("locality", a.Locality.String()),
		zap.Strings("capabilities", a.Capabilities),
	)
	return nil
}

// Unregister removes an agent.
func (d *Directory) Unregister(id string) {
	d.mu.Lock()
	delete(d.agents, id)
	d.mu.Unlock()
}

// Get returns a copy of the agent.
func (d *Directory) Get(id string) (types.Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return types.Agent{}, false
	}
	return clone(a), true
}

// Capabilities returns the known capabilities of id. ok is false when the
// agent is unknown or registered without capabilities.
func (d *Directory) Capabilities(id string) ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, exists := d.agents[id]
	if !exists || len(a.Capabilities) == 0 {
		return nil, false
	}
	return append([]string(nil), a.Capabilities...), true
}

// AdjustWorkload adds delta to the agent's workload, never going below zero.
func (d *Directory) AdjustWorkload(id string, delta int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[id]
	if !ok {
		return 0, types.NewError(types.ErrNotFound, "agent "+id+" not registered")
	}
	a.Workload = max(a.Workload+delta, 0)
	return a.Workload, nil
}

// LeastLoaded returns the agent with the lowest workload not in exclude.
// Ties go to the lowest id.
func (d *Directory) LeastLoaded(exclude ...string) (types.Agent, bool) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var best *types.Agent
	for id, a := range d.agents {
		if _, ok := skip[id]; ok {
			continue
		}
		if best == nil || a.Workload < best.Workload || (a.Workload == best.Workload && a.ID < best.ID) {
			best = a
		}
	}
	if best == nil {
		return types.Agent{}, false
	}
	return clone(best), true
}

// Agents returns all agents sorted by id.
func (d *Directory) Agents() []types.Agent {
	d.mu.RLock()
	out := make([]types.Agent, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, clone(a))
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len 已注册 Agent 数
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.agents)
}

func clone(a *types.Agent) types.Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	return cp
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/swarmhandoff/types"
)

// ErrNoWorkers 没有注册任何本地 worker
var ErrNoWorkers = types.NewError(types.ErrNotFound, "no local workers registered")

// Registry holds the local workers in registration order together with the
// backend serving each backend type.
type Registry struct {
	mu       sync.RWMutex
	workers  map[string]Worker
	order    []string
	backends map[types.BackendType]Backend

	probes singleflight.Group
	logger *zap.Logger
}

// NewRegistry 创建 worker 注册表
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		workers:  make(map[string]Worker),
		backends: make(map[types.BackendType]Backend),
		logger:   logger.With(zap.String("component", "worker_registry")),
	}
}

// Register adds or replaces a worker. A replaced worker keeps its position.
func (r *Registry) Register(w Worker) error {
	if w.ID == "" {
		return errors.New("worker id is required")
	}
	if w.Backend != types.BackendChat && w.Backend != types.BackendPrompt {
		return fmt.Errorf("worker %s: unsupported backend type %q", w.ID, w.Backend)
	}
	w.Capabilities = slices.Clone(w.Capabilities)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[w.ID]; !ok {
		r.order = append(r.order, w.ID)
	}
	r.workers[w.ID] = w
	r.logger.Info("worker registered",
		zap.String("worker_id", w.ID),
		zap.String("backend", string(w.Backend)),
		zap.String("model", w.Model))
	return nil
}

// RegisterBackend sets the backend used by every worker of kind.
func (r *Registry) RegisterBackend(kind types.BackendType, b Backend) {
	r.mu.Lock()
	r.backends[kind] = b
	r.mu.Unlock()
}

// Get 按 ID 查询
func (r *Registry) Get(id string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// First returns the earliest registered worker.
func (r *Registry) First() (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return Worker{}, ErrNoWorkers
	}
	return r.workers[r.order[0]], nil
}

// Workers 按注册顺序返回所有 worker
func (r *Registry) Workers() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Worker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id])
	}
	return out
}

// Len 注册数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoker builds the invoker for w from the backend registered for its type.
func (r *Registry) Invoker(w Worker) (Invoker, error) {
	r.mu.RLock()
	b, ok := r.backends[w.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("no backend registered for type %q", w.Backend))
	}
	return NewInvoker(w, b)
}

// Alternate returns the first other worker whose backend type differs from
// w's and whose backend is available. Availability probes for the same
// backend type are shared between concurrent callers.
func (r *Registry) Alternate(ctx context.Context, w Worker) (Worker, bool) {
	for _, cand := range r.Workers() {
		if cand.ID == w.ID || cand.Backend == w.Backend {
			continue
		}
		if r.available(ctx, cand.Backend) {
			return cand, true
		}
		r.logger.Debug("alternate backend unavailable",
			zap.String("worker_id", cand.ID),
			zap.String("backend", string(cand.Backend)))
	}
	return Worker{}, false
}

func (r *Registry) available(ctx context.Context, kind types.BackendType) bool {
	r.mu.RLock()
	b, ok := r.backends[kind]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	p, ok := b.(Prober)
	if !ok {
		return true
	}
	v, _, _ := r.probes.Do(string(kind), func() (any, error) {
		return p.Available(ctx), nil
	})
	return v.(bool)
}

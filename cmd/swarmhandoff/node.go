package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/agent/contextstore"
	"github.com/BaSui01/swarmhandoff/agent/events"
	"github.com/BaSui01/swarmhandoff/agent/handoff"
	"github.com/BaSui01/swarmhandoff/agent/protocol/handshake"
	"github.com/BaSui01/swarmhandoff/agent/protocol/negotiation"
	"github.com/BaSui01/swarmhandoff/agent/swarm"
	"github.com/BaSui01/swarmhandoff/agent/toolchannel"
	"github.com/BaSui01/swarmhandoff/agent/worker"
	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/internal/cache"
	"github.com/BaSui01/swarmhandoff/internal/metrics"
	"github.com/BaSui01/swarmhandoff/types"
)

// =============================================================================
// 🧩 Node：一个蜂群成员的全部组件
// =============================================================================

// Node wires one swarm member: bus, directory, protocol endpoints, context
// store and executor. serve, demo and the API tests all build on it.
type Node struct {
	cfg    *config.Config
	logger *zap.Logger

	bus        *events.SimpleBus
	ownsBus    bool
	directory  *swarm.Directory
	workers    *worker.Registry
	configs    *config.Manager
	collector  *metrics.Collector
	handshakes *handshake.Protocol
	mediator   *negotiation.Mediator
	executor   *handoff.Executor
	bridge     *events.Bridge
	cache      *cache.Manager
	store      handoff.Collaborator
}

type nodeOptions struct {
	bus      *events.SimpleBus
	registry prometheus.Registerer
	workers  *worker.Registry
}

// NodeOption 可选依赖注入
type NodeOption func(*nodeOptions)

// withBus shares an existing bus between nodes in the same process.
func withBus(bus *events.SimpleBus) NodeOption {
	return func(o *nodeOptions) { o.bus = bus }
}

func withRegistry(reg prometheus.Registerer) NodeOption {
	return func(o *nodeOptions) { o.registry = reg }
}

func withWorkers(r *worker.Registry) NodeOption {
	return func(o *nodeOptions) { o.workers = r }
}

// NewNode builds and starts the listeners of one agent. The caller owns
// the returned node and must Close it.
func NewNode(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...NodeOption) (*Node, error) {
	o := nodeOptions{registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("agent_id", cfg.Agent.ID))

	n := &Node{cfg: cfg, logger: logger}

	configs, err := config.NewManager(cfg.Handoff, config.WithManagerLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("handoff config: %w", err)
	}
	n.configs = configs

	n.bus = o.bus
	if n.bus == nil {
		n.bus = events.NewBus(logger)
		n.ownsBus = true
	}
	n.collector = metrics.NewCollector("swarmhandoff", o.registry, logger)

	n.directory = swarm.NewDirectory(logger)
	if err := n.directory.Register(types.Agent{
		ID:           cfg.Agent.ID,
		Name:         cfg.Agent.Name,
		Capabilities: cfg.Agent.Capabilities,
		Locality:     types.Remote(),
	}); err != nil {
		return nil, err
	}

	n.workers = o.workers
	if n.workers == nil {
		n.workers = worker.NewRegistry(logger)
	}
	for _, w := range n.workers.Workers() {
		if err := n.directory.Register(w.Agent()); err != nil {
			return nil, err
		}
	}

	hsOpts := []handshake.Option{
		handshake.WithLogger(logger),
		handshake.WithProtocolVersion(cfg.Agent.ProtocolVersion),
		handshake.WithConfig(configs.Get()),
		handshake.WithNegotiator(handshake.Intersect(cfg.Agent.Capabilities)),
		handshake.WithMetrics(n.collector),
	}
	if cfg.Agent.Auth.Secret != "" {
		auth, err := handshake.NewJWTAuthenticator(cfg.Agent.Auth)
		if err != nil {
			return nil, fmt.Errorf("handshake auth: %w", err)
		}
		hsOpts = append(hsOpts, handshake.WithAuthenticator(auth), handshake.WithTokenIssuer(auth))
	}
	n.handshakes = handshake.New(cfg.Agent.ID, n.bus, hsOpts...)
	n.handshakes.Listen()

	n.mediator = negotiation.New(cfg.Agent.ID, n.bus, n.handshakes,
		negotiation.WithLogger(logger),
		negotiation.WithConfig(configs.Get()),
		negotiation.WithCapabilities(n.directory),
		negotiation.WithLocalCapabilities(cfg.Agent.Capabilities),
		negotiation.WithMetrics(n.collector),
	)
	n.mediator.Listen()

	if err := n.openStore(ctx); err != nil {
		n.Close()
		return nil, err
	}

	n.executor, err = handoff.New(
		handoff.WithLogger(logger),
		handoff.WithConfigManager(configs),
		handoff.WithWorkers(n.workers),
		handoff.WithDirectory(n.directory),
		handoff.WithCollaborator(n.store),
		handoff.WithBus(n.bus),
		handoff.WithMetrics(n.collector),
	)
	if err != nil {
		n.Close()
		return nil, err
	}
	configs.OnChange(func(_, next config.HandoffConfig) {
		n.handshakes.Reconfigure(next)
		n.mediator.Reconfigure(next)
	})

	n.bridge = events.NewBridge(n.bus, events.BridgeConfig{HeartbeatInterval: 30 * time.Second}, logger)
	return n, nil
}

// openStore picks Redis when enabled, the in-memory store otherwise.
func (n *Node) openStore(ctx context.Context) error {
	hc := n.configs.Get()
	opts := []contextstore.Option{
		contextstore.WithLogger(n.logger),
		contextstore.WithTTL(n.cfg.Redis.ContextTTL),
		contextstore.WithMaxSize(hc.Resources.MaxContextSizeBytes),
	}
	if !n.cfg.Redis.Enabled {
		n.store = contextstore.NewMemoryStore(opts...)
		return nil
	}

	m, err := cache.NewManager(ctx, cache.FromConfig(n.cfg.Redis), n.logger)
	if err != nil {
		return fmt.Errorf("context store: %w", err)
	}
	n.cache = m
	n.store = contextstore.NewRedisStore(m, opts...)
	n.logger.Info("using redis context store", zap.String("addr", n.cfg.Redis.Addr))
	return nil
}

// DialPeers connects the event bridge to every configured peer. A peer
// that cannot be reached is logged and skipped.
func (n *Node) DialPeers(ctx context.Context) int {
	connected := 0
	for _, url := range n.cfg.Agent.Peers {
		done, err := n.bridge.Dial(ctx, url)
		if err != nil {
			n.logger.Warn("peer unreachable", zap.String("peer", url), zap.Error(err))
			continue
		}
		connected++
		go func(url string) {
			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				n.logger.Warn("peer connection closed", zap.String("peer", url), zap.Error(err))
			}
		}(url)
	}
	return connected
}

// toolHandler exposes the mediator operations over the tool channel.
func (n *Node) toolHandler() http.Handler {
	return toolchannel.Handler(toolchannel.NewServer(n.cfg.Agent.ID, Version, n.mediator.ToolOperations()))
}

// Close 按依赖逆序释放
func (n *Node) Close() {
	if n.bridge != nil {
		n.bridge.Close()
	}
	if n.mediator != nil {
		n.mediator.Close()
	}
	if n.handshakes != nil {
		n.handshakes.Close()
	}
	if n.ownsBus {
		n.bus.Stop()
	}
	if n.cache != nil {
		if err := n.cache.Close(); err != nil {
			n.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}

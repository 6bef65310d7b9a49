package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/agent/toolchannel"
	"github.com/BaSui01/swarmhandoff/agent/worker"
	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/internal/server"
	"github.com/BaSui01/swarmhandoff/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// ServeOptions serve 命令的附加参数
type ServeOptions struct {
	// HandoffConfigPath 单独的 handoff 策略文件，变更时热重载
	HandoffConfigPath string
	// ToolEndpoint 对端 /mcp 地址，设置后协商优先走工具通道
	ToolEndpoint string
	// UseEnv 叠加 HANDOFF_* 环境变量
	UseEnv bool
	// API 限流，0 表示不限
	RateLimitRPS   float64
	RateLimitBurst int
	// Workers 本地 worker 及其后端
	Workers []worker.Worker
	Backend worker.HTTPConfig
}

// Server 是一个蜂群成员的服务进程
type Server struct {
	cfg    *config.Config
	opts   ServeOptions
	logger *zap.Logger

	otel        *telemetry.Providers
	node        *Node
	httpManager *server.Manager
	watcher     *config.FileWatcher

	cancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, opts ServeOptions, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{cfg: cfg, opts: opts, logger: logger, otel: otel}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// 1. 本地 worker
	workers, err := s.buildWorkers()
	if err != nil {
		return fmt.Errorf("failed to register workers: %w", err)
	}

	// 2. 协议组件
	s.node, err = NewNode(ctx, s.cfg, s.logger, withWorkers(workers), withRegistry(prometheus.DefaultRegisterer))
	if err != nil {
		return fmt.Errorf("failed to build node: %w", err)
	}

	// 3. 配置来源
	if err := s.initConfigSources(ctx); err != nil {
		return err
	}

	// 4. 工具通道
	if s.opts.ToolEndpoint != "" {
		ch, err := toolchannel.Dial(ctx, s.opts.ToolEndpoint, Version, s.logger)
		if err != nil {
			s.logger.Warn("tool channel unavailable, negotiating over events",
				zap.String("endpoint", s.opts.ToolEndpoint),
				zap.Error(err))
		} else {
			s.node.mediator.SetToolChannel(ch)
		}
	}

	// 5. HTTP
	if err := s.startHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 事件桥
	peers := s.node.DialPeers(ctx)

	s.logger.Info("Agent started",
		zap.String("agent_id", s.cfg.Agent.ID),
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("peers", peers),
		zap.Int("workers", workers.Len()),
		zap.Bool("redis", s.cfg.Redis.Enabled),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
	)
	return nil
}

func (s *Server) buildWorkers() (*worker.Registry, error) {
	reg := worker.NewRegistry(s.logger)
	if len(s.opts.Workers) == 0 {
		return reg, nil
	}
	for _, w := range s.opts.Workers {
		if err := reg.Register(w); err != nil {
			return nil, err
		}
	}
	for _, kind := range backendKinds(s.opts.Workers) {
		reg.RegisterBackend(kind, worker.NewHTTPBackend(kind, s.opts.Backend, s.logger))
	}
	return reg, nil
}

func (s *Server) initConfigSources(ctx context.Context) error {
	mgr := s.node.configs
	if s.opts.UseEnv {
		if err := mgr.LoadFromEnvironment(); err != nil {
			return fmt.Errorf("invalid HANDOFF_* environment: %w", err)
		}
	}
	if s.opts.HandoffConfigPath == "" {
		return nil
	}
	if err := mgr.LoadFromFile(s.opts.HandoffConfigPath); err != nil {
		return fmt.Errorf("failed to load handoff config: %w", err)
	}
	w, err := mgr.Watch(ctx, s.opts.HandoffConfigPath)
	if err != nil {
		return fmt.Errorf("failed to watch handoff config: %w", err)
	}
	s.watcher = w
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer(ctx context.Context) error {
	handler := s.handler(ctx)
	s.httpManager = server.NewManager(handler, server.FromConfig(s.cfg.Server), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// handler 构建中间件链
func (s *Server) handler(ctx context.Context) http.Handler {
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.node.collector),
		OTelTracing(),
	}
	if s.opts.RateLimitRPS > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, s.opts.RateLimitRPS, max(s.opts.RateLimitBurst, 1)))
	}
	middlewares = append(middlewares, JWTAuth(s.cfg.Agent.Auth, "/api/", s.logger))
	return Chain(s.node.routes(), middlewares...)
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown(context.Background())
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.httpManager != nil && s.httpManager.IsRunning() {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.node != nil {
		s.node.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}

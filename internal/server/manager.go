package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/internal/tlsutil"
)

// =============================================================================
// 🌐 节点 HTTP 服务
// =============================================================================

// Config 监听与超时设置
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration

	// 两者都非空时走 HTTPS
	CertFile string
	KeyFile  string
}

// FromConfig 由进程配置构建服务器配置
func FromConfig(sc config.ServerConfig) Config {
	return Config{
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
		CertFile:        sc.TLSCertFile,
		KeyFile:         sc.TLSKeyFile,
	}
}

func (c Config) tls() bool { return c.CertFile != "" && c.KeyFile != "" }

// Manager runs the node's HTTP surface. Handlers receive a base context that
// is cancelled as soon as shutdown begins, so bridge sockets and streaming
// tool sessions end instead of holding the drain open until the timeout.
type Manager struct {
	server *http.Server
	config Config
	logger *zap.Logger

	streams       context.Context
	cancelStreams context.CancelFunc

	mu       sync.RWMutex
	listener net.Listener
	closed   bool
	errCh    chan error
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	streams, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:        cfg,
		logger:        logger.With(zap.String("component", "http_server")),
		streams:       streams,
		cancelStreams: cancel,
		errCh:         make(chan error, 1),
	}
	m.server = &http.Server{
		Addr:           cfg.Addr,
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return streams },
		ErrorLog:       zap.NewStdLog(m.logger),
	}
	if cfg.tls() {
		m.server.TLSConfig = tlsutil.ServerTLSConfig()
	}
	// Shutdown 一开始就取消 /ws 与 /mcp 长连接
	m.server.RegisterOnShutdown(cancel)
	return m
}

// =============================================================================
// 🎯 生命周期
// =============================================================================

// Start listens and serves in the background.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return errors.New("server is closed")
	case m.listener != nil:
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = ln

	m.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", m.config.tls()),
	)
	go m.serve(ln)
	return nil
}

func (m *Manager) serve(ln net.Listener) {
	var err error
	if m.config.tls() {
		err = m.server.ServeTLS(ln, m.config.CertFile, m.config.KeyFile)
	} else {
		err = m.server.Serve(ln)
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	m.logger.Error("HTTP server failed", zap.Error(err))
	select {
	case m.errCh <- err:
	default:
	}
}

// Shutdown drains in-flight requests within ShutdownTimeout. Later calls
// return nil.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("shutting down HTTP server")
	if m.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ShutdownTimeout)
		defer cancel()
	}

	err := m.server.Shutdown(ctx)
	m.cancelStreams()
	if err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	m.logger.Info("HTTP server stopped")
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, ctx cancellation or a serve
// failure, then shuts down.
func (m *Manager) WaitForShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		m.logger.Info("context cancelled, shutting down")
	case err := <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(err))
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors 返回异步服务错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 返回实际监听地址；未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning reports whether Start succeeded and Shutdown has not run.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener != nil && !m.closed
}

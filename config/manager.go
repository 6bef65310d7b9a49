// Handoff 配置管理器。
//
// 校验后原子替换、变更通知、历史快照与文件热重载。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// --- 类型定义 ---

// ChangeCallback is invoked after a new configuration has been applied.
type ChangeCallback func(oldConfig, newConfig HandoffConfig)

// Snapshot is one applied configuration in the manager's history.
type Snapshot struct {
	Config    HandoffConfig `json:"config"`
	Source    string        `json:"source"` // update, preset, env, file, replace, rollback
	Preset    string        `json:"preset,omitempty"`
	Version   int           `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
}

// Health summarizes whether the active configuration is sound.
type Health struct {
	Healthy  bool     `json:"healthy"`
	Issues   []string `json:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Preset   string   `json:"preset,omitempty"`
	Version  int      `json:"version"`
}

// Manager owns the active HandoffConfig. Every entry point validates first and
// leaves the previous configuration in place on failure.
type Manager struct {
	mu sync.RWMutex

	current        HandoffConfig
	preset         string
	version        int
	history        []Snapshot
	maxHistorySize int

	callbacks []ChangeCallback
	lookupEnv EnvLookup
	logger    *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEnvLookup replaces os.LookupEnv for LoadFromEnvironment.
func WithEnvLookup(lookup EnvLookup) ManagerOption {
	return func(m *Manager) { m.lookupEnv = lookup }
}

// WithMaxHistorySize bounds the snapshot history.
func WithMaxHistorySize(size int) ManagerOption {
	return func(m *Manager) {
		if size > 0 {
			m.maxHistorySize = size
		}
	}
}

// NewManager creates a manager seeded with initial, which must itself be valid.
func NewManager(initial HandoffConfig, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		maxHistorySize: 10,
		lookupEnv:      os.LookupEnv,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "handoff_config"))

	if err := Validate(initial); err != nil {
		return nil, err
	}
	m.current = initial
	m.pushHistory(initial, "init", "")
	return m, nil
}

// NewPresetManager creates a manager starting from a built-in preset.
func NewPresetManager(name string, opts ...ManagerOption) (*Manager, error) {
	cfg, err := Preset(name)
	if err != nil {
		return nil, err
	}
	m, err := NewManager(cfg, opts...)
	if err != nil {
		return nil, err
	}
	m.preset = name
	m.history[len(m.history)-1].Preset = name
	return m, nil
}

// --- 读取 ---

// Get returns a copy of the active configuration.
func (m *Manager) Get() HandoffConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// PresetName returns the last preset loaded, or "" after a custom change.
func (m *Manager) PresetName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preset
}

// Version increments on every applied change.
func (m *Manager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// History returns applied snapshots, oldest first.
func (m *Manager) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// OnChange registers a callback run after each applied change.
func (m *Manager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// --- 入口 ---

// Update applies a partial change to a copy of the active configuration.
func (m *Manager) Update(mutate func(*HandoffConfig)) error {
	next := m.Get()
	mutate(&next)
	return m.apply(next, "update", "")
}

// Replace swaps in a complete configuration.
func (m *Manager) Replace(cfg HandoffConfig) error {
	return m.apply(cfg, "replace", "")
}

// LoadPreset applies a built-in preset wholesale.
func (m *Manager) LoadPreset(name string) error {
	cfg, err := Preset(name)
	if err != nil {
		return &ValidationError{Violations: []string{err.Error()}}
	}
	return m.apply(cfg, "preset", name)
}

// LoadFromEnvironment overlays HANDOFF_* variables on the active configuration.
// Coercion failures and rule violations are reported together.
func (m *Manager) LoadFromEnvironment() error {
	next := m.Get()
	var coercion []string
	if err := ApplyEnv(&next, m.lookupEnv); err != nil {
		coercion = err.(*ValidationError).Violations
	}

	if len(coercion) > 0 {
		all := append([]string(nil), coercion...)
		if verr := Validate(next); verr != nil {
			all = append(all, verr.(*ValidationError).Violations...)
		}
		m.logger.Warn("environment overlay rejected", zap.Strings("violations", all))
		return &ValidationError{Violations: all}
	}
	return m.apply(next, "env", "")
}

// LoadFromFile overlays a YAML, TOML or JSON file on the active configuration.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read handoff config file: %w", err)
	}

	next := m.Get()
	if err := decodeFile(path, data, &next); err != nil {
		return err
	}
	return m.apply(next, "file", "")
}

func decodeFile(path string, data []byte, out any) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, out)
	case ".toml":
		err = toml.Unmarshal(data, out)
	case ".json":
		err = json.Unmarshal(data, out)
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Rollback re-applies the previous snapshot.
func (m *Manager) Rollback() error {
	m.mu.RLock()
	if len(m.history) < 2 {
		m.mu.RUnlock()
		return fmt.Errorf("no previous configuration to roll back to")
	}
	prev := m.history[len(m.history)-2]
	m.mu.RUnlock()
	return m.apply(prev.Config, "rollback", prev.Preset)
}

// apply 在同一把锁内完成校验与替换，回调在锁外执行
func (m *Manager) apply(next HandoffConfig, source, preset string) error {
	if err := Validate(next); err != nil {
		m.logger.Warn("config change rejected",
			zap.String("source", source),
			zap.Error(err))
		return err
	}

	m.mu.Lock()
	old := m.current
	m.current = next
	m.preset = preset
	m.pushHistory(next, source, preset)
	callbacks := append([]ChangeCallback(nil), m.callbacks...)
	version := m.version
	m.mu.Unlock()

	m.logger.Info("handoff configuration applied",
		zap.String("source", source),
		zap.String("preset", preset),
		zap.Int("version", version))

	for _, cb := range callbacks {
		m.notifySafe(cb, old, next)
	}
	return nil
}

func (m *Manager) notifySafe(cb ChangeCallback, old, next HandoffConfig) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("config change callback panicked", zap.Any("recover", r))
		}
	}()
	cb(old, next)
}

// pushHistory must be called with m.mu held (or before the manager is shared).
func (m *Manager) pushHistory(cfg HandoffConfig, source, preset string) {
	m.version++
	m.history = append(m.history, Snapshot{
		Config:    cfg,
		Source:    source,
		Preset:    preset,
		Version:   m.version,
		Timestamp: time.Now(),
	})
	if len(m.history) > m.maxHistorySize {
		m.history = m.history[len(m.history)-m.maxHistorySize:]
	}
}

// --- 健康检查 ---

// CheckHealth validates the active configuration and flags risky settings.
func (m *Manager) CheckHealth() Health {
	m.mu.RLock()
	cfg, preset, version := m.current, m.preset, m.version
	m.mu.RUnlock()

	h := Health{Healthy: true, Preset: preset, Version: version}
	if err := Validate(cfg); err != nil {
		h.Healthy = false
		h.Issues = err.(*ValidationError).Violations
	}

	if cfg.MaxRetries > 5 {
		h.Warnings = append(h.Warnings, fmt.Sprintf("max_retries=%d makes failing handoffs slow to surface", cfg.MaxRetries))
	}
	if cfg.HandshakeTimeoutMs > 0 && cfg.HandshakeTimeoutMs < 500 {
		h.Warnings = append(h.Warnings, "handshake_timeout_ms below 500 may time out healthy peers")
	}
	if cfg.ConfidenceThreshold < 0.5 {
		h.Warnings = append(h.Warnings, "confidence_threshold below 0.5 hands off low-confidence tasks")
	}
	if !cfg.CircuitBreaker.Enabled && preset != PresetDevelopment {
		h.Warnings = append(h.Warnings, "circuit breaker disabled outside development")
	}
	if cfg.Resources.MaxConcurrentHandshakes == 0 {
		h.Warnings = append(h.Warnings, "max_concurrent_handshakes is unlimited")
	}
	if !cfg.EnableMetrics {
		h.Warnings = append(h.Warnings, "metrics disabled")
	}
	return h
}

// --- 文件热重载 ---

// Watch reloads path whenever it changes until ctx is done. Invalid files are
// logged and ignored, keeping the active configuration.
func (m *Manager) Watch(ctx context.Context, path string, opts ...WatcherOption) (*FileWatcher, error) {
	opts = append([]WatcherOption{WithWatcherLogger(m.logger)}, opts...)
	w, err := NewFileWatcher([]string{path}, opts...)
	if err != nil {
		return nil, err
	}
	w.OnChange(func(ev FileEvent) {
		if ev.Op == FileOpRemove {
			return
		}
		if err := m.LoadFromFile(ev.Path); err != nil {
			m.logger.Error("config reload from file failed",
				zap.String("path", ev.Path),
				zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

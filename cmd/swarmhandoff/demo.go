package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmhandoff/agent/events"
	"github.com/BaSui01/swarmhandoff/agent/handoff"
	"github.com/BaSui01/swarmhandoff/agent/worker"
	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/types"
)

// =============================================================================
// 🎬 demo 命令：进程内两 Agent 交接
// =============================================================================

// DemoOptions demo 参数
type DemoOptions struct {
	Task       string
	Preset     string
	BackendURL string
	Model      string
	Timeout    time.Duration
}

// DemoReport demo 输出
type DemoReport struct {
	Outcome *handoff.Outcome     `json:"outcome"`
	Local   *handoff.LocalResult `json:"local,omitempty"`
	Stats   handoff.Metrics      `json:"stats"`
	Events  []string             `json:"events"`
}

func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	task := fs.String("task", "summarize the quarterly report", "Task description offered to the swarm")
	preset := fs.String("preset", config.PresetDevelopment, "Handoff preset")
	backendURL := fs.String("backend-url", "", "Optional OpenAI-compatible backend for a local fast-path handoff")
	model := fs.String("model", "", "Model for the local backend")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall demo timeout")
	verbose := fs.Bool("v", false, "Log protocol traffic")
	fs.Parse(args)

	logCfg := config.DefaultLogConfig()
	logCfg.Format = "console"
	if !*verbose {
		logCfg.Level = "warn"
	}
	logger := initLogger(logCfg)
	defer logger.Sync()

	opts := DemoOptions{Task: *task, Preset: *preset, BackendURL: *backendURL, Model: *model, Timeout: *timeout}
	if err := demo(context.Background(), os.Stdout, opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

// demo runs a coordinated handoff from a researcher agent to a summarizer
// agent over one shared bus and writes the report as JSON.
func demo(ctx context.Context, out io.Writer, opts DemoOptions, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	policy, err := config.Preset(opts.Preset)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger)
	defer bus.Stop()

	var (
		mu    sync.Mutex
		trace []string
	)
	traced := append(events.ProtocolTypes(), events.HandoffStarted, events.HandoffCompleted, events.HandoffFailed)
	for _, typ := range traced {
		bus.Subscribe(typ, func(ev events.Event) {
			mu.Lock()
			trace = append(trace, fmt.Sprintf("%s %s->%s", ev.Type, ev.Source, ev.Target))
			mu.Unlock()
		})
	}

	workers := worker.NewRegistry(logger)
	if opts.BackendURL != "" {
		w := worker.Worker{ID: "researcher-local", Name: "local researcher", Backend: types.BackendChat, Model: opts.Model}
		if err := workers.Register(w); err != nil {
			return err
		}
		workers.RegisterBackend(types.BackendChat,
			worker.NewHTTPBackend(types.BackendChat, worker.HTTPConfig{BaseURL: opts.BackendURL}, logger))
	}

	researcher, err := NewNode(ctx, demoConfig("researcher", []string{"research"}, policy), logger,
		withBus(bus), withRegistry(nil), withWorkers(workers))
	if err != nil {
		return err
	}
	defer researcher.Close()

	summarizer, err := NewNode(ctx, demoConfig("summarizer", []string{"summarize"}, policy), logger,
		withBus(bus), withRegistry(nil))
	if err != nil {
		return err
	}
	defer summarizer.Close()

	if err := researcher.directory.Register(types.Agent{
		ID:           "summarizer",
		Name:         "summarizer",
		Capabilities: []string{"summarize"},
		Locality:     types.Remote(),
	}); err != nil {
		return err
	}

	coord := handoff.NewCoordinator(researcher.executor, researcher.handshakes, researcher.mediator,
		handoff.DirectoryEvaluator(researcher.directory, policy.ConfidenceThreshold), logger)

	t := types.Task{
		ID:          "demo-task",
		Description: opts.Task,
		Priority:    1,
		Context:     map[string]any{"notes": []string{"revenue up 12%", "churn flat"}, "step": "draft"},
		CreatedAt:   time.Now(),
	}
	outcome, err := coord.Run(ctx, handoff.Assignment{
		SourceAgentID: "researcher",
		Task:          t,
		Capabilities:  []string{"summarize"},
	})
	if err != nil {
		return err
	}

	report := DemoReport{Outcome: outcome}
	if workers.Len() > 0 {
		local, err := researcher.executor.LocalHandoff(ctx, t, nil)
		if err != nil {
			logger.Warn("local fast path failed", zap.Error(err))
		}
		report.Local = local
	}
	report.Stats = researcher.executor.GetMetrics()

	// 事件是异步投递的，给总线一点时间排空
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	report.Events = slices.Clone(trace)
	mu.Unlock()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func demoConfig(id string, caps []string, policy config.HandoffConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agent.ID = id
	cfg.Agent.Name = id
	cfg.Agent.Capabilities = caps
	cfg.Handoff = policy
	return cfg
}

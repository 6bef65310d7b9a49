// =============================================================================
// swarmhandoff 主入口
// =============================================================================
// 蜂群 Agent 交接节点：握手、协商、状态同步、交接执行，外加 HTTP 管理面
//
// 使用方法:
//
//	swarmhandoff serve                              # 启动节点
//	swarmhandoff serve --config swarm.yaml          # 指定配置文件
//	swarmhandoff serve --handoff-config policy.toml # 热重载交接策略
//	swarmhandoff demo                               # 进程内两 Agent 演示
//	swarmhandoff config show|validate|health        # 配置工具
//	swarmhandoff health --addr http://localhost:8080
//	swarmhandoff version                            # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/swarmhandoff/agent/worker"
	"github.com/BaSui01/swarmhandoff/config"
	"github.com/BaSui01/swarmhandoff/internal/telemetry"
	"github.com/BaSui01/swarmhandoff/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "demo":
		runDemo(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML or TOML)")
	handoffPath := fs.String("handoff-config", "", "Handoff policy file, reloaded on change")
	toolEndpoint := fs.String("tool-endpoint", "", "Peer tool channel endpoint (http://host:port/mcp)")
	useEnv := fs.Bool("env", false, "Overlay HANDOFF_* environment variables")
	workerURL := fs.String("worker-url", "", "OpenAI-compatible backend for local workers")
	workerModel := fs.String("worker-model", "", "Model served by the local backend")
	workerBackends := fs.String("worker-backends", "chat", "Comma-separated backend types (chat,prompt)")
	rps := fs.Float64("rate-limit", 0, "API requests per second per client, 0 disables")
	burst := fs.Int("rate-burst", 10, "API rate limit burst")
	fs.Parse(args)

	cfg := mustLoadConfig(*configPath)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting swarmhandoff",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(context.Background(), cfg.Telemetry, logger,
		telemetry.WithAgent(cfg.Agent.ID, cfg.Agent.Name))
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	opts := ServeOptions{
		HandoffConfigPath: *handoffPath,
		ToolEndpoint:      *toolEndpoint,
		UseEnv:            *useEnv,
		RateLimitRPS:      *rps,
		RateLimitBurst:    *burst,
	}
	if *workerURL != "" {
		workers, err := parseWorkers(cfg.Agent.ID, *workerModel, *workerBackends, cfg.Agent.Capabilities)
		if err != nil {
			logger.Fatal("Invalid worker flags", zap.Error(err))
		}
		opts.Workers = workers
		opts.Backend = worker.HTTPConfig{BaseURL: *workerURL}
	}

	srv := NewServer(cfg, opts, logger, otelProviders)
	if err := srv.Start(); err != nil {
		srv.Shutdown()
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()

	logger.Info("swarmhandoff stopped")
}

func mustLoadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// parseWorkers builds one worker per backend type, all on the same model.
func parseWorkers(agentID, model, backends string, caps []string) ([]worker.Worker, error) {
	var out []worker.Worker
	for _, b := range strings.Split(backends, ",") {
		kind := types.BackendType(strings.TrimSpace(b))
		if kind != types.BackendChat && kind != types.BackendPrompt {
			return nil, fmt.Errorf("unsupported backend type %q", b)
		}
		out = append(out, worker.Worker{
			ID:           fmt.Sprintf("%s-%s", agentID, kind),
			Name:         fmt.Sprintf("%s %s worker", agentID, kind),
			Backend:      kind,
			Model:        model,
			Capabilities: caps,
		})
	}
	return out, nil
}

func backendKinds(ws []worker.Worker) []types.BackendType {
	var kinds []types.BackendType
	for _, w := range ws {
		if !slices.Contains(kinds, w.Backend) {
			kinds = append(kinds, w.Backend)
		}
	}
	return kinds
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("swarmhandoff %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`swarmhandoff - swarm agent handoff node

Usage:
  swarmhandoff <command> [options]

Commands:
  serve     Start an agent node
  demo      Run an in-process two-agent handoff
  config    Inspect handoff configuration (show, validate, health)
  health    Check a running node
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>          Process config file (YAML or TOML)
  --handoff-config <path>  Handoff policy file, hot reloaded
  --tool-endpoint <url>    Peer tool channel for negotiation
  --env                    Overlay HANDOFF_* environment variables
  --worker-url <url>       OpenAI-compatible backend for local workers
  --worker-model <name>    Model name sent to the backend
  --worker-backends <list> Backend types to register (default chat)

Options for 'config':
  --config <path>          Process config file
  --preset <name>          Start from a preset (development, production, ...)

Examples:
  swarmhandoff serve --config /etc/swarmhandoff/agent.yaml
  swarmhandoff demo --task "summarize the quarterly report"
  swarmhandoff config validate --config agent.yaml
  swarmhandoff health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/swarmhandoff/config"
)

// =============================================================================
// ⚙️ config 命令
// =============================================================================

func runConfig(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: swarmhandoff config <show|validate|health> [--config path] [--preset name]")
		os.Exit(1)
	}
	sub := args[0]

	fs := flag.NewFlagSet("config "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	preset := fs.String("preset", "", "Apply a built-in handoff preset ("+strings.Join(config.PresetNames(), ", ")+")")
	fs.Parse(args[1:])

	if err := configCommand(os.Stdout, sub, *configPath, *preset); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// configCommand 执行子命令，错误时返回非 nil
func configCommand(out io.Writer, sub, path, preset string) error {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if preset != "" {
		p, err := config.Preset(preset)
		if err != nil {
			return err
		}
		cfg.Handoff = p
		cfg.Preset = preset
	}

	switch sub {
	case "show":
		shown := *cfg
		if shown.Agent.Auth.Secret != "" {
			shown.Agent.Auth.Secret = "******"
		}
		if shown.Redis.Password != "" {
			shown.Redis.Password = "******"
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(shown)

	case "validate":
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config:\n%w", err)
		}
		fmt.Fprintln(out, "config is valid")
		return nil

	case "health":
		mgr, err := config.NewManager(cfg.Handoff)
		if err != nil {
			return fmt.Errorf("invalid handoff config:\n%w", err)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(mgr.CheckHealth())
	}
	return fmt.Errorf("unknown config subcommand: %s", sub)
}

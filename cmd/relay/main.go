// Package main is the relay CLI: a local LLM gateway that speaks the
// Anthropic Messages dialect on the front and OpenAI-compatible providers
// on the back, with routing, persistent memory, and an agent/tool pipeline.
//
// Start the gateway:
//
//	relay serve
//
// Check whether a gateway is running:
//
//	relay status
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/relay/internal/agents"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/gateway"
	"github.com/haasonsaas/relay/internal/hooks"
	"github.com/haasonsaas/relay/internal/logs"
	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/memory/embeddings"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/plugins"
	"github.com/haasonsaas/relay/internal/process"
	"github.com/haasonsaas/relay/internal/prompt"
	"github.com/haasonsaas/relay/internal/router"
	"github.com/haasonsaas/relay/internal/skills"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/internal/tokens"
	"github.com/haasonsaas/relay/internal/upstream"
	"github.com/haasonsaas/relay/internal/usage"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	appDirFlag string
	configFlag string
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Local LLM gateway with routing, memory, and agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&appDirFlag, "dir", "", "application directory (default ~/.relay)")
	root.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default <dir>/config.json)")

	root.AddCommand(buildServeCmd())
	root.AddCommand(buildStatusCmd())
	root.AddCommand(buildVersionCmd())
	return root
}

func resolvePaths() (appDir, configPath string, err error) {
	appDir = appDirFlag
	if appDir == "" {
		appDir, err = config.AppDir()
		if err != nil {
			return "", "", err
		}
	}
	configPath = configFlag
	if configPath == "" {
		configPath = config.ConfigPath(appDir)
	}
	return appDir, configPath, nil
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	appDir, configPath, err := resolvePaths()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return fmt.Errorf("create app dir: %w", err)
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	logManager := logs.NewManager(config.LogsDir(appDir))
	logger, closeLog, err := buildLogger(logManager)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)
	gateway.Version = version

	if pid, running := process.Running(config.PIDPath(appDir)); running {
		return fmt.Errorf("gateway already running (pid %d)", pid)
	}
	if err := process.WritePID(config.PIDPath(appDir)); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer process.RemovePID(config.PIDPath(appDir))

	metrics := observability.New()
	counter, err := tokens.NewCounter()
	if err != nil {
		logger.Warn("token encoder unavailable, using estimates", "error", err)
		counter = nil
	}
	tracker := usage.NewTracker()

	var memService *memory.Service
	if cfg.Memory.Enabled {
		dbPath := cfg.Memory.DBPath
		if dbPath == "" {
			dbPath = config.MemoryDBPath(appDir)
		}
		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}
		embedder, err := embeddings.New(embeddings.Config{
			Provider: cfg.Memory.Embedding.Provider,
			APIKey:   cfg.Memory.Embedding.APIKey,
			BaseURL:  cfg.Memory.Embedding.BaseURL,
			Model:    cfg.Memory.Embedding.Model,
		})
		if err != nil {
			logger.Warn("embedding provider unavailable, recall degrades to lexical", "error", err)
			embedder = nil
		}
		memService = memory.NewService(st, embedder, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hookReg := hooks.NewRegistry(logger)
	skillReg := skills.NewRegistry(logger)

	skillsDir := cfg.Skills.Dir
	if skillsDir == "" {
		skillsDir = config.SkillsDir(appDir)
	}
	if cfg.Skills.Enabled {
		loader := skills.NewLoader(skillsDir, skillReg, logger)
		if err := loader.Load(); err != nil {
			logger.Warn("skill load failed", "error", err)
		}
		if err := loader.Watch(ctx); err != nil {
			logger.Warn("skill watch unavailable", "error", err)
		} else {
			defer loader.Close()
		}
	}

	var pluginMgr *plugins.Manager
	if cfg.Plugins.Enabled {
		pluginsDir := cfg.Plugins.Dir
		if pluginsDir == "" {
			pluginsDir = config.PluginsDir(appDir)
		}
		pluginMgr = plugins.NewManager(pluginsDir, hookReg, skillReg, plugins.CommandBinder(logger), logger)
		if err := pluginMgr.LoadAll(); err != nil {
			logger.Warn("plugin load failed", "error", err)
		}
	}

	agentReg := agents.NewRegistry(logger)
	agentReg.Register(agents.NewImageAgent(agents.NewImageCache(), logger))
	agentReg.Register(agents.NewSubAgent(logger))
	if memService != nil {
		agentReg.Register(agents.NewMemoryAgent(memService, logger))
	}

	sweeper := startRetentionSweep(ctx, cfg, memService, logger)
	if sweeper != nil {
		defer sweeper.Stop()
	}

	srv := gateway.New(gateway.Options{
		Config:     cfg,
		ConfigPath: configPath,
		Router:     router.New(cfg, counter, tracker, config.OverridesDir(appDir), logger),
		Agents:     agentReg,
		Hooks:      hookReg,
		Skills:     skillReg,
		Plugins:    pluginMgr,
		Memory:     memService,
		Builder:    prompt.NewBuilder(memService, counter, logger),
		Upstream:   upstream.New(cfg.APITimeoutMs, logger),
		Usage:      tracker,
		Counter:    counter,
		Metrics:    metrics,
		Logs:       logManager,
		Logger:     logger,
	})

	logger.Info("starting gateway", "version", version, "config", configPath)
	return srv.Start(ctx)
}

// buildLogger writes JSON logs to stderr and to the dated log file.
func buildLogger(manager *logs.Manager) (*slog.Logger, func(), error) {
	path, err := manager.FilePath()
	if err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	handler := slog.NewJSONHandler(io.MultiWriter(os.Stderr, file), nil)
	return slog.New(handler), func() { file.Close() }, nil
}

// startRetentionSweep schedules the memory cleanup cron when configured.
func startRetentionSweep(ctx context.Context, cfg *config.Config, memService *memory.Service, logger *slog.Logger) *cron.Cron {
	if memService == nil || cfg.Memory.Retention.Schedule == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(cfg.Memory.Retention.Schedule, func() {
		removed, err := memService.Cleanup(ctx, cfg.Memory.Retention.MinImportance, cfg.Memory.Retention.MaxAgeDays)
		if err != nil {
			logger.Error("retention sweep failed", "error", err)
			return
		}
		logger.Info("retention sweep completed", "removed", removed)
	})
	if err != nil {
		logger.Warn("invalid retention schedule, sweep disabled", "schedule", cfg.Memory.Retention.Schedule, "error", err)
		return nil
	}
	c.Start()
	return c
}

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a gateway is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			appDir, configPath, err := resolvePaths()
			if err != nil {
				return err
			}
			pid, running := process.Running(config.PIDPath(appDir))
			if !running {
				fmt.Println("gateway: not running")
				return nil
			}
			fmt.Printf("gateway: running (pid %d)\n", pid)

			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}
			url := fmt.Sprintf("http://%s:%d/health", cfg.Host, cfg.Port)
			client := &http.Client{Timeout: 2 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				fmt.Printf("health: unreachable (%v)\n", err)
				return nil
			}
			defer resp.Body.Close()
			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
				fmt.Printf("health: %v (version %v, uptime %v)\n", body["status"], body["version"], body["uptime"])
			}
			return nil
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relay %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

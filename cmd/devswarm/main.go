// Devswarm is an autonomous coding orchestrator: it drives roadmap items
// through issue -> spec -> implementation -> validation -> resolution by
// supervising AI coding agents inside git worktrees.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devswarm/devswarm"
	"github.com/devswarm/devswarm/internal/eventbus"
	"github.com/devswarm/devswarm/internal/githost"
	"github.com/devswarm/devswarm/internal/state"
	"github.com/devswarm/devswarm/internal/webapi"
	"github.com/devswarm/devswarm/internal/worktree"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath = flag.String("config", "devswarm.yaml", "Config file path")
		dbPath     = flag.String("db", "devswarm.db", "SQLite database path")
		port       = flag.Int("port", 0, "HTTP API port (overrides config)")
		verbose    = flag.Bool("verbose", false, "Verbose (debug) logging")
		showVer    = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("devswarm %s (commit: %s)\n", version, gitCommit)
		os.Exit(0)
	}

	cfg, err := devswarm.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *verbose {
		cfg.Verbose = true
	}

	log, err := buildLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := state.Open(*dbPath, log)
	if err != nil {
		log.Fatal("failed to open state store", zap.Error(err))
	}

	applyConfigTableOverrides(&cfg, store, log)

	wt := worktree.NewManager(cfg.DataDir, cfg.MainBranch, log)
	if err := wt.Init(cfg.UpstreamURL, cfg.BareRepoDaemonPort); err != nil {
		log.Fatal("failed to initialize worktree manager", zap.Error(err))
	}

	bus := eventbus.New()

	var host githost.Client = githost.NoopClient{}
	if cfg.RepoOwner != "" && cfg.RepoName != "" && cfg.GithubToken != "" {
		host = githost.NewGithubClient(context.Background(), cfg.RepoOwner, cfg.RepoName, cfg.MainBranch, cfg.GithubToken)
	} else {
		log.Warn("github repo_owner/repo_name/token not fully configured, external sync disabled")
	}

	orch := devswarm.NewOrchestrator(cfg, store, wt, bus, host, log)

	ctx, cancel := context.WithCancel(context.Background())

	if err := orch.Start(ctx); err != nil {
		log.Fatal("failed to resume orchestrator state", zap.Error(err))
	}

	go func() {
		if err := orch.Run(ctx); err != nil {
			log.Error("orchestrator run loop exited with error", zap.Error(err))
		}
	}()

	server := webapi.NewServer(store, wt, bus, log, orch.Shutdown, orch.SendToMain, orch.SendToAgent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown reported an error", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("devswarm starting", zap.String("addr", addr), zap.String("version", version))
	if err := server.Start(addr); err != nil {
		log.Fatal("http server error", zap.Error(err))
	}

	metrics := orch.GetMetrics()
	log.Info("devswarm stopped",
		zap.Int("specs_completed", metrics.SpecsCompleted),
		zap.Int("specs_errored", metrics.SpecsErrored),
		zap.Duration("total_runtime", metrics.TotalRuntime),
	)
}

// applyConfigTableOverrides consults the database's config table (seeded by
// the teacher's migration convention) for main_branch, tick_interval_seconds,
// github_sync_interval_seconds and coordinator_idle_threshold_seconds, each
// only when the flags/YAML left that field at its default, mirroring
// cmd/factory's GetConfigValue fallback pattern. No other field is read from
// the table.
func applyConfigTableOverrides(cfg *devswarm.Config, store *state.Store, log *zap.Logger) {
	defaults := devswarm.DefaultConfig()

	if cfg.MainBranch == defaults.MainBranch {
		if v, err := store.GetConfigValue("main_branch"); err != nil {
			log.Warn("failed to read config table", zap.String("key", "main_branch"), zap.Error(err))
		} else if v != "" {
			cfg.MainBranch = v
		}
	}
	if cfg.TickIntervalSeconds == defaults.TickIntervalSeconds {
		if v, err := store.GetConfigValue("tick_interval_seconds"); err != nil {
			log.Warn("failed to read config table", zap.String("key", "tick_interval_seconds"), zap.Error(err))
		} else if n, ok := atoiOK(v); ok {
			cfg.TickIntervalSeconds = n
		}
	}
	if cfg.GithubSyncIntervalSeconds == defaults.GithubSyncIntervalSeconds {
		if v, err := store.GetConfigValue("github_sync_interval_seconds"); err != nil {
			log.Warn("failed to read config table", zap.String("key", "github_sync_interval_seconds"), zap.Error(err))
		} else if n, ok := atoiOK(v); ok {
			cfg.GithubSyncIntervalSeconds = n
		}
	}
	if cfg.CoordinatorIdleThresholdSecs == defaults.CoordinatorIdleThresholdSecs {
		if v, err := store.GetConfigValue("coordinator_idle_threshold_seconds"); err != nil {
			log.Warn("failed to read config table", zap.String("key", "coordinator_idle_threshold_seconds"), zap.Error(err))
		} else if n, ok := atoiOK(v); ok {
			cfg.CoordinatorIdleThresholdSecs = n
		}
	}

	cfg.ApplyDerivedDurations()
}

func atoiOK(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

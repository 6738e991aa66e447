// Kestrel - Fraud decisions from rules, blacklists and model scores.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/blacklist"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/tracing"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"models", cfg.Models.Transport,
		"ensemble", cfg.Ensemble.Strategy,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.OTLPEndpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	go metrics.StartDBStatsCollector(ctx, repo.DB(), 15*time.Second)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	clock := domain.SystemClock{}

	gate := blacklist.NewGate(repo, cacheImpl, busImpl, clock, cfg.Cache.BlacklistTTL)
	activity := velocity.NewService(repo, clock)

	engine, err := rules.NewEngine(repo, cacheImpl, rules.Options{
		MaxWorkers: cfg.Engine.MaxWorkers,
		CatalogTTL: cfg.Cache.RuleCatalogTTL,
		Counter:    activity,
		Lists:      gate,
		Clock:      clock,
	})
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	seeded, err := rules.SeedBuiltinRules(ctx, repo, clock.Now())
	if err != nil {
		slog.Warn("failed to seed builtin rules", "error", err)
	} else if seeded > 0 {
		slog.Info("builtin rules seeded", "count", seeded)
	}

	if err := engine.ReloadRules(ctx); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	manager := rules.NewManager(repo, engine, busImpl, clock)

	combiner, err := ensemble.NewCombiner(cfg.Ensemble)
	if err != nil {
		slog.Error("failed to initialize ensemble", "error", err)
		os.Exit(1)
	}

	scorers, err := model.New(cfg.Models, busImpl, cfg.Engine.ModelTimeout)
	if err != nil {
		slog.Error("failed to initialize model scorers", "error", err)
		os.Exit(1)
	}
	slog.Info("model scorers initialized",
		"transport", cfg.Models.Transport,
		"classifier", scorers.Classifier != nil,
		"anomaly", scorers.Anomaly != nil,
	)

	pipe, err := pipeline.New(pipeline.Config{
		Gate:         gate,
		Rules:        engine,
		Classifier:   scorers.Classifier,
		Anomaly:      scorers.Anomaly,
		Combiner:     combiner,
		Assessor:     risk.NewAssessor(cfg.Engine.ReportingThreshold),
		Store:        repo,
		Alerts:       repo,
		Activity:     activity,
		Bus:          busImpl,
		Clock:        clock,
		ModelTimeout: cfg.Engine.ModelTimeout,
	})
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	// The worker also carries rule reloads and blacklist invalidations
	// between nodes, so it runs whenever the bus crosses processes.
	var asyncWorker *worker.Worker
	if cfg.Engine.AsyncWorker || cfg.EventBus.Type == "nats" || cfg.EventBus.Type == "kafka" {
		asyncWorker = worker.NewWorker(busImpl, pipe, engine, gate)
		if err := asyncWorker.Start(worker.Config{SweepInterval: cfg.Engine.BlacklistSweepInterval}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Pipeline: pipe,
		Engine:   engine,
		Rules:    manager,
		Gate:     gate,
		Activity: activity,
		Clock:    clock,
		Version:  Version,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  fraud decision engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate                 - Evaluate a transaction context")
	fmt.Println("    GET  /analyses/{id}            - Get an analysis result")
	fmt.Println("    POST /activity                 - Record countable activity")
	fmt.Println("    GET  /rules                    - List rules")
	fmt.Println("    POST /rules                    - Create a draft rule")
	fmt.Println("    POST /rules/{id}/activate      - Activate a rule")
	fmt.Println("    POST /rules/{id}/test-mode     - Run a rule in test mode")
	fmt.Println("    POST /blacklist                - Blacklist a value")
	fmt.Println("    GET  /blacklist/check          - Check a value")
	fmt.Println("    GET  /events                   - List rule events")
	fmt.Println("    POST /events/{id}/resolve      - Resolve a rule event")
	fmt.Println("    POST /models/auc               - Compute ROC AUC")
	fmt.Println("    GET  /metrics                  - Prometheus metrics")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}

// Kestrel - Real-time fraud risk scoring with a built-in traffic simulator.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/simulation"
	"github.com/opensource-finance/kestrel/internal/tracing"
	"github.com/opensource-finance/kestrel/internal/training"
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
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML or JSON config file")
	flag.Parse()

	// A missing .env is normal outside development
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(cfg.Logging.Level, cfg.Logging.Format))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	if err := run(cfg); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	collector := metrics.New()

	// Rules are configured via POST /v1/rules; none are built in
	engine, err := rules.NewEngine(100)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()
	loadRulesFromDatabase(ctx, repo, engine)

	mgr := model.NewManager(repo, cfg.Training)
	mgr.Initialize(ctx)
	collector.ModelState(mgr.IsTrained(), accuracyOf(mgr.Current()))

	velocitySvc := velocity.NewService(repo, cacheImpl)
	recorder := training.NewRecorder(repo, cfg.Training, collector)

	evaluator := pipeline.New(cfg, pipeline.Components{
		Repo:       repo,
		Extractor:  features.NewExtractor(repo, cacheImpl, velocitySvc, cfg),
		Scorer:     scoring.NewScorer(cfg, mgr, engine),
		Dispatcher: alert.NewDispatcher(repo, cfg.Scoring.Thresholds),
		Recorder:   recorder,
		Velocity:   velocitySvc,
		Emitter:    bus.NewEmitter(busImpl, cfg.EventBus.PublishRetries),
		Metrics:    collector,
	})

	driver := simulation.NewDriver(cfg, simulation.Options{
		Generator: simulation.NewGenerator(repo, cfg, simulation.NewSource(cfg.Simulation.Seed)),
		Evaluator: evaluator,
		Recorder:  recorder,
		Model:     mgr,
		Metrics:   collector,
	})

	asyncWorker := worker.NewWorker(busImpl, evaluator)
	if err := asyncWorker.Start(worker.Config{}); err != nil {
		return fmt.Errorf("failed to start async worker: %w", err)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Evaluator:  evaluator,
		Rules:      engine,
		Model:      mgr,
		Recorder:   recorder,
		Driver:     driver,
		Thresholds: cfg.Scoring.Thresholds,
	}, collector, Version)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.Simulation.AutoStart {
		if err := driver.Start(); err != nil {
			slog.Error("failed to start simulation", "error", err)
		}
	}

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err = <-serverErr:
		slog.Error("server failed", "error", err)
	}

	// Drain producers before closing the stores they write to
	driver.Stop()
	driver.Wait()

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	return err
}

// loadRulesFromDatabase loads stored rules into the engine. Failures
// leave the engine empty; rules can be reloaded via the API.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) {
	dbRules, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return
	}
	if len(dbRules) == 0 {
		slog.Info("no rules in database - configure via POST /v1/rules")
		return
	}
	if err := engine.ReloadRules(dbRules); err != nil {
		slog.Warn("failed to load rules", "error", err)
		return
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())
}

func accuracyOf(m *domain.Model) *float64 {
	if m == nil {
		return nil
	}
	return m.Accuracy
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  fraud risk scoring")
	fmt.Println()
	fmt.Printf("  Version:     %s\n", version)
	fmt.Printf("  Server:      http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Simulation:  every %s (auto-start %t)\n", cfg.Simulation.Interval, cfg.Simulation.AutoStart)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/evaluate               - Score a transaction (?async=true to queue)")
	fmt.Println("    GET  /v1/transactions/{id}      - Get transaction by ID")
	fmt.Println("    GET  /v1/alerts                 - List alerts")
	fmt.Println("    POST /v1/alerts/{id}/resolve    - Resolve an alert")
	fmt.Println("    GET  /v1/stats                  - Dashboard counters")
	fmt.Println("    POST /v1/simulation/start|stop  - Control synthetic traffic")
	fmt.Println("    POST /v1/model/retrain          - Retrain the risk model")
	fmt.Println("    POST /v1/rules/reload           - Hot-reload rules from database")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println()
}

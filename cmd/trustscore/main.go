// TrustScore - Reputation and fraud analytics for stablecoin payments.
// Copyright (c) 2025 TrustScore AI
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

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/api"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/bus"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/cache"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/compat"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/config"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/detect"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/fraud"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/ingest"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/notify"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/repository"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/reputation"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/scheduler"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/telemetry"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/window"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRUSTSCORE_CONFIG"), "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	slog.Info("starting trustscore",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"alert_rule_set", cfg.Fraud.AlertRuleSet,
		"analysis_rule_set", cfg.Fraud.AnalysisRuleSet,
	)

	if err := run(cfg, logger); err != nil {
		slog.Error("trustscore stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("trustscore shutdown complete")
}

func run(cfg *domain.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer tcancel()
		if err := shutdownTracing(tctx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	repo, err := repository.Open(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	alert, err := detect.ByName(cfg.Fraud.AlertRuleSet, cfg.Detectors)
	if err != nil {
		return err
	}
	analysis, err := detect.ByName(cfg.Fraud.AnalysisRuleSet, cfg.Detectors)
	if err != nil {
		return err
	}

	notifier := notify.New(cfg.Notify, busImpl, logger)
	aggregator := fraud.NewAggregator(
		window.NewLoader(repo, time.Now),
		repo,
		alert,
		analysis,
		fraud.WithNotifier(notifier),
		fraud.WithLogger(logger),
	)
	reputations := reputation.NewService(repo, cfg.Reputation,
		reputation.WithCache(cacheImpl, cfg.Reputation.CacheTTL),
		reputation.WithLogger(logger),
	)
	matcher := compat.NewMatcher(reputations, repo, cfg.Compatibility)

	adapter, err := ingest.NewAdapter(repo, cfg.Ingest, logger)
	if err != nil {
		return fmt.Errorf("initialize ingestion: %w", err)
	}
	slog.Info("analytics initialized",
		"facilitators", len(cfg.Ingest.Facilitators),
		"policy", cfg.Ingest.Policy != "",
	)

	var consumer *worker.Worker
	if cfg.Ingest.Subscribe {
		consumer = worker.NewWorker(busImpl, adapter, logger)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start ingestion worker: %w", err)
		}
		slog.Info("ingestion worker started", "topic", domain.TopicPaymentObserved)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(cfg.Scheduler.RunOnStart, logger)
		sweeper := scheduler.NewSweeper(cfg.Scheduler, logger)
		for _, task := range []scheduler.Task{
			scheduler.FraudTask(cfg.Scheduler.FraudInterval, repo, aggregator, sweeper),
			scheduler.ReputationTask(cfg.Scheduler.ReputationInterval, repo, reputations, sweeper),
		} {
			if err := sched.Register(task); err != nil {
				return fmt.Errorf("register %s task: %w", task.Name, err)
			}
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		slog.Info("scheduler started",
			"fraud_interval", cfg.Scheduler.FraudInterval,
			"reputation_interval", cfg.Scheduler.ReputationInterval,
		)
	}

	deps := api.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Fraud:      aggregator,
		Reputation: reputations,
		Compat:     matcher,
		Ingester:   adapter,
		Version:    Version,
		Logger:     logger,
	}
	if consumer != nil {
		deps.Consumer = consumer
	}
	srv := api.NewServer(cfg.Server, cfg.Metering, deps)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	slog.Info("trustscore is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
		cancel()
	}
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop intake first so no new flags are raised during shutdown.
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			slog.Error("failed to stop ingestion worker", "error", err)
		}
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			slog.Error("scheduler did not stop in time", "error", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := notifier.Wait(shutdownCtx); err != nil {
		slog.Warn("pending notifications dropped", "error", err)
	}

	return runErr
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                TRUSTSCORE                 |")
	fmt.Println("  |   Reputation and fraud analytics engine   |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Metering: %v (free quota %d per %s)\n", cfg.Metering.Enabled, cfg.Metering.FreeQuota, cfg.Metering.Window)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /reputation/service/{address}  - Service reputation")
	fmt.Println("    GET  /reputation/agent/{address}    - Agent reputation")
	fmt.Println("    GET  /fraud/{address}/score         - Fraud score from active flags")
	fmt.Println("    GET  /fraud/{address}/flags         - Fraud flag history")
	fmt.Println("    GET  /fraud/{address}/analysis      - Extended analysis (not persisted)")
	fmt.Println("    POST /fraud/{address}/evaluate      - Run alerting detectors")
	fmt.Println("    POST /fraud/flags/{id}/resolve      - Resolve a fraud flag")
	fmt.Println("    GET  /compatibility                 - Service/agent compatibility")
	fmt.Println("    POST /ingest                        - Submit a payment event")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}

// Package main implements the entry point for the TenantSync service.
// TenantSync ingests users, groups, licenses, policies, devices and companies
// from SaaS providers, normalizes them into a relationship graph and runs
// security analyzers whose findings become debounced, deduplicated alerts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/tenantsync/alerting"
	"github.com/c360/tenantsync/analysis"
	"github.com/c360/tenantsync/config"
	"github.com/c360/tenantsync/fetch"
	"github.com/c360/tenantsync/health"
	"github.com/c360/tenantsync/jobqueue"
	"github.com/c360/tenantsync/linker"
	"github.com/c360/tenantsync/metric"
	"github.com/c360/tenantsync/natsclient"
	"github.com/c360/tenantsync/process"
	"github.com/c360/tenantsync/stage"
	"github.com/c360/tenantsync/stageflow"
	"github.com/c360/tenantsync/store"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "tenantsync"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting TenantSync",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	client := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithLogger(logger),
		natsclient.WithName(appName),
		natsclient.WithTimeout(cfg.NATS.Timeout.Std()),
		natsclient.WithReconnect(cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait.Std()),
	)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() { _ = client.Close() }()

	registry := metric.NewMetricsRegistry()
	metrics := registry.Metrics
	metrics.BusConnected.Set(1)
	monitor := health.NewMonitor()
	monitor.UpdateHealthy("nats", "connected")

	pipeline, err := buildPipeline(ctx, cfg, client, registry, monitor, logger)
	if err != nil {
		return err
	}

	if err := pipeline.start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	opsServer := startOpsServer(cfg.Ops, registry, monitor, logger)

	slog.Info("TenantSync started")
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	pipeline.stop(cliCfg.ShutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", "error", err)
	}

	slog.Info("TenantSync shutdown complete")
	return nil
}

// pipeline groups every stage of the sync/analysis flow so start and stop
// run in dependency order.
type pipeline struct {
	queue      *jobqueue.Queue
	runners    []*stage.Runner
	aggregator *alerting.Aggregator
	client     *natsclient.Client
	logger     *slog.Logger
}

// buildPipeline wires the store, job queue, stage runners and aggregator.
// Provider connectors register their adapters with the fetch registry; the
// pipeline itself is provider-agnostic.
func buildPipeline(
	ctx context.Context,
	cfg *config.Config,
	client *natsclient.Client,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*pipeline, error) {
	st, err := store.NewKV(ctx, client, logger)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	monitor.UpdateHealthy("store", "buckets ready")

	queue := jobqueue.NewQueue(client, cfg.JobQueue, logger)
	if err := queue.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize job queue: %w", err)
	}

	fetchRegistry := fetch.NewRegistry(logger)
	queue.Register(jobqueue.ActionSync, fetchRegistry.HandleJob)
	queue.Register(jobqueue.ActionFetch, fetchRegistry.HandleJob)

	trigger := analysis.NewTrigger(client, logger)
	queue.Register(jobqueue.ActionAnalyze, trigger.HandleJob)

	flow := stageflow.NewResolver()
	metrics := registry.Metrics
	deps := stage.RunnerDeps{
		Bus:      client,
		Metrics:  metrics,
		Registry: registry,
		Logger:   logger,
	}

	runners := []*stage.Runner{
		stage.NewRunner(process.NewProcessor(st, flow, metrics, logger), cfg.Stages.Process, deps),
		stage.NewRunner(linker.NewLinker(st, flow, logger), cfg.Stages.Link, deps),
		stage.NewRunner(
			analysis.NewOrchestrator(st,
				analysis.DefaultAnalyzers(cfg.Analysis.StaleThresholdDays), client, logger),
			cfg.Stages.Analyze, deps),
	}

	aggregator := alerting.NewAggregator(st, cfg.Aggregator, metrics, logger)

	return &pipeline{
		queue:      queue,
		runners:    runners,
		aggregator: aggregator,
		client:     client,
		logger:     logger,
	}, nil
}

// start brings the pipeline up consumers-first so nothing published by an
// earlier stage is dropped: stage runners, then the aggregator, then the job
// queue that feeds them.
func (p *pipeline) start(ctx context.Context) error {
	for _, r := range p.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	if err := p.aggregator.Start(ctx, p.client); err != nil {
		return err
	}
	return p.queue.Start(ctx)
}

// stop reverses start: stop accepting jobs, drain the stages, then flush the
// aggregator.
func (p *pipeline) stop(timeout time.Duration) {
	if err := p.queue.Stop(timeout); err != nil {
		p.logger.Warn("job queue stop failed", "error", err)
	}
	for i := len(p.runners) - 1; i >= 0; i-- {
		if err := p.runners[i].Stop(timeout); err != nil {
			p.logger.Warn("runner stop failed", "error", err)
		}
	}
	if err := p.aggregator.Stop(timeout); err != nil {
		p.logger.Warn("aggregator stop failed", "error", err)
	}
}

// startOpsServer exposes /metrics and /healthz on the ops listener.
func startOpsServer(cfg config.OpsConfig, registry *metric.MetricsRegistry, monitor *health.Monitor, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, registry.Handler())
	mux.Handle(cfg.HealthPath, monitor.Handler(appName))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server listening",
			"addr", cfg.ListenAddr,
			"metrics_path", cfg.MetricsPath,
			"health_path", cfg.HealthPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server failed", "error", err)
		}
	}()
	return srv
}

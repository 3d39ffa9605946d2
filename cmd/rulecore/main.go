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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/rulecore/internal/abtest"
	"github.com/opensource-finance/rulecore/internal/api"
	"github.com/opensource-finance/rulecore/internal/batch"
	"github.com/opensource-finance/rulecore/internal/bus"
	"github.com/opensource-finance/rulecore/internal/cache"
	"github.com/opensource-finance/rulecore/internal/coreerrors"
	"github.com/opensource-finance/rulecore/internal/domain"
	"github.com/opensource-finance/rulecore/internal/evaluator"
	"github.com/opensource-finance/rulecore/internal/pipeline"
	"github.com/opensource-finance/rulecore/internal/registry"
	"github.com/opensource-finance/rulecore/internal/repository"
	"github.com/opensource-finance/rulecore/internal/versioning"
	"github.com/opensource-finance/rulecore/internal/worker"
	"github.com/opensource-finance/rulecore/internal/workflow"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("RULECORE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting rulecore",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := domain.DefaultConfig()

	switch strings.ToLower(strings.TrimSpace(os.Getenv("RULECORE_ENV"))) {
	case "", "dev":
		// Development defaults already applied.
	case "staging":
		cfg.Environment = domain.EnvStaging
	case "prod", "production":
		cfg = domain.ProductionConfig()
		slog.Info("running in production configuration")
	default:
		slog.Warn("unsupported RULECORE_ENV value; falling back to dev configuration", "value", os.Getenv("RULECORE_ENV"))
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"environment", cfg.Environment,
		"repository", cfg.Repository.Backend,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "backend", cfg.Repository.Backend)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	eval, err := evaluator.New()
	if err != nil {
		slog.Error("failed to initialize evaluator", "error", err)
		os.Exit(1)
	}
	slog.Info("evaluator initialized")

	reg, err := registry.New(ctx, cfg.Registry, repo, eval, busImpl, cacheImpl)
	if err != nil {
		slog.Error("failed to initialize rule registry", "error", err)
		os.Exit(1)
	}
	defer reg.Stop()
	slog.Info("rule registry initialized",
		"rulesets", len(reg.AllRulesets()),
		"rules", len(reg.AllRules()),
		"generation", reg.Generation(),
	)
	if cfg.Registry.MonitorInterval > 0 {
		reg.StartMonitor(ctx)
		slog.Info("rule registry freshness monitor started", "interval_seconds", cfg.Registry.MonitorInterval)
	}

	pipe := pipeline.New(eval)
	slog.Info("ruleset pipeline initialized")

	batchExec := batch.New(pipe)
	slog.Info("batch executor initialized", "default_max_workers", cfg.Batch.MaxWorkers)

	dispatcher := workflow.New(workflow.MapFactory(defaultWorkflowStages(pipe, reg), "noop", "complete"))
	slog.Info("workflow dispatcher initialized")

	versionMgr := versioning.New(repo, reg)
	abtestMgr := abtest.New(repo, busImpl)
	slog.Info("versioning and a/b testing managers initialized")

	var asyncWorker *worker.Worker
	if os.Getenv("RULECORE_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, pipe, reg)
		asyncWorker.AlertPatternResult = os.Getenv("RULECORE_ALERT_PATTERN")
		if err := asyncWorker.Start(worker.Config{WorkerCount: 5}); err != nil {
			slog.Error("failed to start async evaluation worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async evaluation worker started")
		}
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eval, reg, pipe, batchExec, dispatcher, versionMgr, abtestMgr, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("rulecore is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async evaluation worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("rulecore shutdown complete")
}

// defaultWorkflowStages wires the stage names a freshly started instance
// can dispatch to out of the box: "evaluate" runs the default ruleset's
// pipeline against whatever the prior stage produced. A stage name with no
// handler here aborts the run with WorkflowStageUnknown, except the
// terminal stage names passed to workflow.MapFactory, which pass the
// record through unchanged.
func defaultWorkflowStages(pipe *pipeline.Pipeline, reg *registry.Registry) map[string]domain.WorkflowHandler {
	return map[string]domain.WorkflowHandler{
		"evaluate": func(ctx domain.ExecutionContext, data domain.DataRecord) (domain.DataRecord, error) {
			rs, ok := reg.DefaultRuleset()
			if !ok {
				return data, &coreerrors.InputValidationError{Field: "rulesetId", Message: "no default ruleset configured"}
			}
			compiled := reg.CompiledRulesFor(rs)
			result, err := pipe.Execute(rs, compiled, domain.ExecutionContext{
				CorrelationID: ctx.CorrelationID,
				Data:          data,
				Ctx:           ctx.Ctx,
			}, false)
			if err != nil {
				return data, err
			}
			out := make(domain.DataRecord, len(data)+2)
			for k, v := range data {
				out[k] = v
			}
			out["_patternResult"] = result.PatternResult
			out["_totalPoints"] = result.TotalPoints
			return out, nil
		},
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ======================================")
	fmt.Println("            RULECORE")
	fmt.Println("     Rule Evaluation Core Service")
	fmt.Println("  ======================================")
	fmt.Println()
	fmt.Printf("  Version:     %s\n", version)
	fmt.Printf("  Environment: %s\n", cfg.Environment)
	fmt.Printf("  Server:      http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate              - Evaluate a data record against a ruleset")
	fmt.Println("    POST /evaluate/batch         - Evaluate a batch of records concurrently")
	fmt.Println("    POST /evaluate/dmn           - Compile and execute an ad hoc DMN document")
	fmt.Println("    GET  /rulesets               - List loaded rulesets")
	fmt.Println("    GET  /rules                  - List loaded rules")
	fmt.Println("    POST /rules                  - Create a rule (versioned)")
	fmt.Println("    POST /rules/reload           - Hot-reload rules from storage")
	fmt.Println("    GET  /registry/status        - Hot-reload snapshot generation and staleness")
	fmt.Println("    GET  /versions/{id}          - Rule version history")
	fmt.Println("    POST /versions/{id}/rollback - Roll back a rule to a prior version")
	fmt.Println("    POST /ab-tests               - Create an A/B test")
	fmt.Println("    POST /workflows/{name}/run   - Run a named workflow chain")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}

// applyEnvOverrides applies environment variable overrides to the config,
// for Docker/Kubernetes deployment without a mounted config file.
func applyEnvOverrides(cfg *domain.Config) {
	if backend := os.Getenv("RULECORE_REPOSITORY_BACKEND"); backend != "" {
		cfg.Repository.Backend = domain.StorageBackend(backend)
	}
	if path := os.Getenv("RULECORE_RULES_FILE"); path != "" {
		cfg.Repository.FilePath = path
	}

	if driver := os.Getenv("RULECORE_DB_DRIVER"); driver != "" {
		cfg.Repository.Driver = driver
	}
	if host := os.Getenv("RULECORE_POSTGRES_HOST"); host != "" {
		cfg.Repository.PostgresHost = host
	}
	if port := os.Getenv("RULECORE_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Repository.PostgresPort = p
		}
	}
	if user := os.Getenv("RULECORE_POSTGRES_USER"); user != "" {
		cfg.Repository.PostgresUser = user
	}
	if password := os.Getenv("RULECORE_POSTGRES_PASSWORD"); password != "" {
		cfg.Repository.PostgresPassword = password
	}
	if db := os.Getenv("RULECORE_POSTGRES_DB"); db != "" {
		cfg.Repository.PostgresDB = db
	}
	if sslMode := os.Getenv("RULECORE_POSTGRES_SSLMODE"); sslMode != "" {
		cfg.Repository.PostgresSSLMode = sslMode
	}

	if cacheType := os.Getenv("RULECORE_CACHE_TYPE"); cacheType != "" {
		cfg.Cache.Type = cacheType
	}
	if addr := os.Getenv("RULECORE_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if password := os.Getenv("RULECORE_REDIS_PASSWORD"); password != "" {
		cfg.Cache.RedisPassword = password
	}
	if db := os.Getenv("RULECORE_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			cfg.Cache.RedisDB = d
		}
	}

	if busType := os.Getenv("RULECORE_BUS_TYPE"); busType != "" {
		cfg.EventBus.Type = busType
	}
	if url := os.Getenv("RULECORE_NATS_URL"); url != "" {
		cfg.EventBus.NATSUrl = url
	}

	if workers := os.Getenv("RULECORE_BATCH_MAX_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			cfg.Batch.MaxWorkers = w
		}
	}

	if port := os.Getenv("RULECORE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("RULECORE_HOST"); host != "" {
		cfg.Server.Host = host
	}
}

// Package main provides the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/narvanalabs/functions/internal/api"
	"github.com/narvanalabs/functions/internal/api/health"
	"github.com/narvanalabs/functions/internal/auth"
	"github.com/narvanalabs/functions/internal/cleanup"
	"github.com/narvanalabs/functions/internal/events"
	"github.com/narvanalabs/functions/internal/orchestrator"
	"github.com/narvanalabs/functions/internal/packager"
	"github.com/narvanalabs/functions/internal/platform"
	"github.com/narvanalabs/functions/internal/runtimes"
	"github.com/narvanalabs/functions/internal/shutdown"
	"github.com/narvanalabs/functions/internal/stats"
	"github.com/narvanalabs/functions/internal/store"
	"github.com/narvanalabs/functions/internal/store/memory"
	pgstore "github.com/narvanalabs/functions/internal/store/postgres"
	"github.com/narvanalabs/functions/pkg/config"
	"github.com/narvanalabs/functions/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogFormat != "text")
	slog.SetDefault(log.Logger)

	st, err := openStore(cfg, log.WithComponent("store").Logger)
	if err != nil {
		log.WithError(err).Error("failed to open store", "driver", cfg.StoreDriver)
		os.Exit(1)
	}

	registry, err := runtimes.NewRegistry()
	if err != nil {
		log.WithError(err).Error("failed to load runtime adapters")
		os.Exit(1)
	}

	builder := packager.NewBuilder(registry, packager.NewCommandArchiver(cfg.Packager.ArchiveCommand), packager.Config{
		WorkDir:            cfg.Packager.WorkDir,
		DependencyCacheDir: cfg.Packager.DependencyCacheDir,
	}, log.WithComponent("packager").Logger)

	whisk, err := platform.NewOpenWhiskClient(platform.Config{
		APIHost:   cfg.Platform.APIHost,
		Auth:      cfg.Platform.Auth,
		Namespace: cfg.Platform.Namespace,
		Package:   cfg.Platform.Package,
		Insecure:  cfg.Platform.Insecure,
		Timeout:   cfg.Platform.Timeout,
	}, log.WithComponent("platform").Logger)
	if err != nil {
		log.WithError(err).Error("failed to configure platform client")
		os.Exit(1)
	}

	scheduler := cleanup.NewScheduler(whisk, log.WithComponent("cleanup").Logger)
	broker := events.NewBroker(nil, log.WithComponent("events").Logger)

	execCfg := orchestrator.DefaultConfig()
	execCfg.Namespace = cfg.Platform.Namespace
	execCfg.Package = cfg.Platform.Package
	execCfg.APIHost = cfg.Platform.APIHost
	execCfg.URLScheme = cfg.Platform.URLScheme
	execCfg.CleanupDelay = cfg.Execution.CleanupDelay
	execCfg.RetainDelay = cfg.Execution.RetainDelay
	execCfg.DiagnosisWait = cfg.Execution.DiagnosisWait
	execCfg.DirectKind = cfg.Execution.DefaultRuntimeKind

	executor := orchestrator.NewExecutor(orchestrator.Deps{
		Store:    st,
		Kinds:    registry,
		Packager: builder,
		Platform: whisk,
		Stats:    stats.NewAggregator(st.Functions(), log.WithComponent("stats").Logger),
		Cleanup:  scheduler,
		Events:   broker,
	}, execCfg, orchestrator.WithLogger(log.WithComponent("orchestrator").Logger))

	tokens := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.WithComponent("auth").Logger)

	checker := health.NewChecker(api.Version)
	checker.Register("database", st, true)
	checker.Register("platform", whisk, false)

	server := api.NewServer(cfg, api.Deps{
		Executor: executor,
		Events:   broker,
		Tokens:   tokens,
		Health:   checker,
	}, log.Logger)

	// Components stop in reverse order: the HTTP server drains first, then
	// pending cleanups run, then the store closes.
	coord := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.WithComponent("shutdown").Logger),
	)
	coord.Register(shutdown.NewStoreComponent(st))
	coord.Register(shutdown.NewCleanupDrainComponent(scheduler))
	coord.Register(shutdown.NewEventStreamComponent(broker))
	coord.Register(shutdown.NewAPIServerComponent(server.HTTPServer()))

	go coord.WaitForSignal()
	go func() {
		if err := server.Start(context.Background()); err != nil {
			log.Error("server error", "error", err)
			coord.Shutdown()
		}
	}()

	coord.Wait()
	log.Info("server stopped")
	os.Exit(coord.ExitCode())
}

// openStore connects the configured store driver. Postgres schemas are
// migrated on start.
func openStore(cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory store, execution history is lost on restart")
		return memory.New(), nil
	case config.StoreDriverPostgres:
		pg, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), log)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

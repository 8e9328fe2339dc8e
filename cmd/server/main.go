package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mediasentry/internal/banner"
	"mediasentry/internal/config"
	"mediasentry/internal/database"
	"mediasentry/internal/database/repositories"
	"mediasentry/internal/discovery"
	"mediasentry/internal/ingestion"
	"mediasentry/internal/issues"
	parsers "mediasentry/internal/parser"
	"mediasentry/internal/parser/generic"
	"mediasentry/internal/parser/jellyfin"
	"mediasentry/internal/parser/servarr"
	"mediasentry/internal/realtime"

	"github.com/pterm/pterm"
)

func main() {
	// Start at INFO; reconfigured once LOG_LEVEL is loaded.
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)

	banner.Print()

	logger.Info("Initializing MediaSentry...")

	cfg, err := config.Load()
	if err != nil {
		logger.WithCaller().Fatal("Failed to load configuration", logger.Args("error", err))
	}

	logger = pterm.DefaultLogger.WithLevel(logLevel(cfg.LogLevel))
	logger.Debug("Log level set", logger.Args("level", cfg.LogLevel))

	logger.Debug("Configuration loaded",
		logger.Args(
			"db_path", cfg.Database.Path,
			"retention_days", cfg.Database.RetentionDays,
			"max_tailers", cfg.Ingestion.MaxTailers,
			"watch_files", cfg.Ingestion.WatchFiles,
		))

	// Primary read-write connection. Migrations and index creation run here.
	db, err := database.NewConnection(&database.Config{
		Path:                    cfg.Database.Path,
		MaxOpenConns:            cfg.Database.MaxOpenConns,
		MaxIdleConns:            cfg.Database.MaxIdleConns,
		ConnMaxLife:             cfg.Database.ConnMaxLife,
		PoolMonitoringEnabled:   cfg.Database.PoolMonitoring,
		PoolMonitoringInterval:  cfg.Database.PoolMonitorEvery,
		PoolSaturationThreshold: cfg.Database.PoolSaturation,
		AutoTuning:              cfg.Database.PoolAutoTune,
	}, logger)
	if err != nil {
		logger.WithCaller().Fatal("Failed to connect to database", logger.Args("error", err))
	}

	// Separate read-only pool for the stats sampler, so its periodic scans
	// never sit in front of occurrence writes.
	roDB, err := database.NewReadOnlyConnection(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLife:  cfg.Database.ConnMaxLife,
	}, logger)
	if err != nil {
		logger.WithCaller().Fatal("Failed to open read-only connection", logger.Args("error", err))
	}

	logger.Debug("Initializing repositories...")
	sourceRepo := repositories.NewLogSourceRepository(db)
	stateRepo := repositories.NewFileStateRepository(db, logger)
	issueRepo := repositories.NewIssueRepository(db, logger)

	logger.Debug("Initializing parser registry...")
	registry := parsers.NewRegistry()
	for _, provider := range []parsers.Provider{
		jellyfin.NewParser(logger),
		servarr.NewParser(logger),
		generic.NewParser(logger),
	} {
		if err := registry.Register(provider); err != nil {
			logger.WithCaller().Fatal("Failed to register parser", logger.Args("error", err))
		}
	}

	// Seed the source table from detected installations. Existing rows win,
	// so reruns never clobber user edits.
	logger.Debug("Running service detection...")
	engine := discovery.NewEngine(sourceRepo, registry, cfg.Sources, logger)
	if err := engine.Run(); err != nil {
		logger.WithCaller().Warn("Service detection failed", logger.Args("error", err))
	}

	sink := realtime.NewLoggerSink(logger)
	aggregator := issues.NewAggregator(issueRepo, sink, logger)

	logger.Debug("Initializing ingestion coordinator...")
	coordinator := ingestion.NewCoordinator(
		sourceRepo,
		stateRepo,
		registry,
		aggregator.Ingest,
		sink,
		cfg.Ingestion,
		logger,
	)

	logger.Debug("Initializing database cleanup service...")
	cleanupService := database.NewCleanupService(
		db,
		logger,
		cfg.Database.RetentionDays,
		cfg.Database.CleanupInterval,
		cfg.Database.CleanupTime,
		cfg.Database.VacuumEnabled,
		coordinator,
	)
	cleanupService.Start()

	logger.Info("Starting ingestion engine...")
	if err := coordinator.Start(); err != nil {
		logger.WithCaller().Fatal("Failed to start ingestion coordinator", logger.Args("error", err))
	}
	coordinator.StartSyncLoop(cfg.Ingestion.SyncInterval)

	backfillCtx, cancelBackfill := context.WithCancel(context.Background())
	defer cancelBackfill()
	if cfg.Ingestion.BackfillSkipped {
		logger.Info("Backfilling files past the age cutoff in the background")
		go coordinator.BackfillOlder(backfillCtx)
	}

	logger.Info("Initializing ingestion stats collector...")
	statsCollector := realtime.NewStatsCollector(roDB, logger)
	statsCollector.Start(cfg.Monitor.StatsInterval)

	logger.Info("MediaSentry is running",
		logger.Args(
			"sources", coordinator.SchedulerCount(),
			"active_tailers", coordinator.ActiveTailers(),
		))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info("Shutdown signal received, stopping services...")

	cancelBackfill()

	// Coordinator first: tailers flush their pending entries and persist
	// final offsets before anything else goes away.
	logger.Debug("Stopping ingestion coordinator...")
	coordinator.Shutdown()

	logger.Debug("Stopping cleanup service...")
	cleanupService.Stop()

	logger.Debug("Stopping stats collector...")
	statsCollector.Stop()

	finalStats := statsCollector.GetStats()
	openIssues, _ := issueRepo.CountUnresolved()
	logger.Info("MediaSentry stopped gracefully",
		logger.Args(
			"open_issues", openIssues,
			"duplicates_skipped", aggregator.DuplicatesSkipped(),
			"occurrence_rate", finalStats.OccurrenceRate,
		))
}

// logLevel maps the LOG_LEVEL setting onto pterm's levels, defaulting to
// info for anything unrecognized.
func logLevel(value string) pterm.LogLevel {
	switch strings.ToLower(value) {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	case "fatal":
		return pterm.LogLevelFatal
	default:
		return pterm.LogLevelInfo
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/ingestor/internal/config"
	"reddot-watch/ingestor/internal/database"
	"reddot-watch/ingestor/internal/fetch"
	importsources "reddot-watch/ingestor/internal/import"
	"reddot-watch/ingestor/internal/metrics"
	"reddot-watch/ingestor/internal/process"
	"reddot-watch/ingestor/internal/server"
	"reddot-watch/ingestor/internal/storage"
)

const usage = `Usage: ingestor [command] [options]
Commands: import, run, start, server

For command-specific options, use: ingestor [command] -h`

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// commonFlags registers the flags every command shares.
func commonFlags(fs *flag.FlagSet, cfg *config.Config, logLevelStr *string) {
	fs.StringVar(&cfg.DBPath, "db", config.GetEnvString("INGESTOR_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: INGESTOR_DB_PATH)")
	fs.StringVar(logLevelStr, "log-level", cfg.LogLevel.String(),
		"Log level: debug, info, warn, error (env: INGESTOR_LOG_LEVEL)")
}

// runFlags registers the flags of commands that execute ingestion runs.
func runFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.IntVar(&cfg.WorkerCount, "workers", config.GetEnvInt("INGESTOR_WORKER_COUNT", config.DefaultWorkerCount),
		"Number of sources processed concurrently, 0 for CPU count (env: INGESTOR_WORKER_COUNT)")
	fs.DurationVar(&cfg.RunTimeout, "run-timeout", config.GetEnvDuration("INGESTOR_RUN_TIMEOUT", config.DefaultRunTimeout),
		"Deadline for one run (env: INGESTOR_RUN_TIMEOUT)")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", config.GetEnvDuration("INGESTOR_FETCH_TIMEOUT", config.DefaultFetchTimeout),
		"Deadline for one document retrieval (env: INGESTOR_FETCH_TIMEOUT)")
	fs.DurationVar(&cfg.HostInterval, "host-interval", config.GetEnvDuration("INGESTOR_HOST_INTERVAL", config.DefaultHostInterval),
		"Minimum delay between requests to the same host, 0 disables (env: INGESTOR_HOST_INTERVAL)")
	fs.StringVar(&cfg.UserAgent, "user-agent", config.GetEnvString("INGESTOR_USER_AGENT", config.DefaultUserAgent),
		"User-Agent sent with every request (env: INGESTOR_USER_AGENT)")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body", int64(config.GetEnvInt("INGESTOR_MAX_BODY_BYTES", config.DefaultMaxBodyBytes)),
		"Largest accepted document in bytes (env: INGESTOR_MAX_BODY_BYTES)")
}

func main() {
	cfg := config.DefaultConfig()

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importCmd.StringVar(&cfg.SourcesPath, "sources", config.GetEnvString("INGESTOR_SOURCES_PATH", config.DefaultSourcesPath),
		"Path or http(s) URL of the CSV or YAML source list (env: INGESTOR_SOURCES_PATH)")
	var importLogLevelStr string
	commonFlags(importCmd, cfg, &importLogLevelStr)
	var reset bool
	importCmd.BoolVar(&reset, "reset", false, "Delete the database before importing")

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	var runLogLevelStr string
	commonFlags(runCmd, cfg, &runLogLevelStr)
	runFlags(runCmd, cfg)

	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	var startLogLevelStr string
	commonFlags(startCmd, cfg, &startLogLevelStr)
	runFlags(startCmd, cfg)

	var intervalMinutes int
	startCmd.IntVar(&intervalMinutes, "interval", config.GetEnvInt("INGESTOR_INTERVAL", config.DefaultInterval),
		"Interval in minutes between runs, 0 for one-shot mode (env: INGESTOR_INTERVAL)")
	startCmd.IntVar(&cfg.RetentionDays, "retention", config.GetEnvInt("INGESTOR_RETENTION_DAYS", config.DefaultRetentionDays),
		"Number of days to retain items, 0 keeps them forever (env: INGESTOR_RETENTION_DAYS)")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	var serverLogLevelStr string
	commonFlags(serverCmd, cfg, &serverLogLevelStr)
	runFlags(serverCmd, cfg)

	serverCmd.StringVar(&cfg.ServerHost, "host", config.GetEnvString("INGESTOR_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: INGESTOR_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("INGESTOR_PORT", config.DefaultServerPort),
		"Port to listen on (env: INGESTOR_PORT)")
	serverCmd.BoolVar(&cfg.Metrics, "metrics", config.GetEnvBool("INGESTOR_METRICS", config.DefaultMetrics),
		"Expose prometheus metrics on /metrics (env: INGESTOR_METRICS)")

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "import":
		importCmd.Parse(os.Args[2:])
		setLogLevel(cfg, importLogLevelStr)
		if err = runImport(cfg, reset); err != nil {
			log.Error().Err(err).Msg("Import failed")
		}

	case "run":
		runCmd.Parse(os.Args[2:])
		setLogLevel(cfg, runLogLevelStr)
		if err = runOnce(cfg); err != nil {
			log.Error().Err(err).Msg("Run failed")
		}

	case "start":
		startCmd.Parse(os.Args[2:])
		setLogLevel(cfg, startLogLevelStr)
		cfg.Interval = time.Duration(intervalMinutes) * time.Minute
		if err = runStart(cfg); err != nil {
			log.Error().Err(err).Msg("Processing failed")
		}

	case "server":
		serverCmd.Parse(os.Args[2:])
		setLogLevel(cfg, serverLogLevelStr)
		if err = runServer(cfg); err != nil {
			log.Error().Err(err).Msg("Server failed")
		}

	case "-h", "--help", "help":
		fmt.Println(usage)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		os.Exit(1)
	}
}

func setLogLevel(cfg *config.Config, logLevelStr string) {
	if level, err := zerolog.ParseLevel(logLevelStr); err == nil {
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
}

func openDB(cfg *config.Config, readOnly bool) (*database.DB, error) {
	dbCfg := database.NewConfig(cfg.DBPath)
	dbCfg.ReadOnly = readOnly

	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(shutdown)
	}()
	return ctx, cancel
}

// newOrchestrator wires storage, the fetcher chain and metrics into an orchestrator.
func newOrchestrator(cfg *config.Config, db *database.DB, reg prometheus.Registerer) (*process.Orchestrator, error) {
	direct := fetch.NewHTTPFetcher(fetch.Options{
		Timeout:      cfg.FetchTimeout,
		UserAgent:    cfg.UserAgent,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Limiter:      fetch.NewHostRateLimiter(cfg.HostInterval),
	})

	var fetcher fetch.Fetcher = direct
	if len(cfg.ProxyTemplates) > 0 {
		proxied, err := fetch.NewProxyFetcher(cfg.ProxyTemplates, direct)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy configuration: %w", err)
		}
		fetcher = fetch.Chain(direct, proxied)
		log.Info().Int("proxies", len(cfg.ProxyTemplates)).Msg("Proxy fallback enabled")
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	orch, err := process.NewOrchestrator(
		storage.NewSourceRepository(db),
		storage.NewItemRepository(db),
		fetcher,
		process.Options{
			WorkerCount: cfg.WorkerCount,
			RunTimeout:  cfg.RunTimeout,
			Metrics:     m,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	return orch, nil
}

// runImport upserts the configured source list into the database, optionally
// starting from an empty one.
func runImport(cfg *config.Config, reset bool) error {
	if reset {
		if err := database.DeleteDB(cfg.DBPath); err != nil {
			log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to delete existing database")
			return fmt.Errorf("failed to delete existing database: %w", err)
		}
		log.Info().Str("path", cfg.DBPath).Msg("Deleted existing database")
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := importsources.NewImporter(storage.NewSourceRepository(db)).Import(ctx, cfg.SourcesPath)
	if err != nil {
		return err
	}

	fmt.Printf("Imported sources: %d created, %d updated\n", summary.Created, summary.Updated)
	if len(summary.Errors) > 0 {
		fmt.Printf("Encountered %d errors:\n", len(summary.Errors))
		for _, e := range summary.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

// runOnce performs a single run and prints its report as JSON.
func runOnce(cfg *config.Config) error {
	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	orch, err := newOrchestrator(cfg, db, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	report, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// runStart executes runs either once or periodically based on configuration.
func runStart(cfg *config.Config) error {
	if cfg.Interval <= 0 {
		log.Info().Msg("Running in one-shot mode")
	} else {
		log.Info().Int64("interval_minutes", int64(cfg.Interval.Minutes())).Msg("Running in periodic mode")
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	orch, err := newOrchestrator(cfg, db, nil)
	if err != nil {
		return err
	}
	items := storage.NewItemRepository(db)

	ctx, cancel := signalContext()
	defer cancel()

	if err := runCycle(ctx, orch, items, cfg.RetentionDays); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Run canceled by shutdown signal")
			return nil
		}
		return err
	}

	if cfg.Interval <= 0 {
		log.Info().Msg("One-shot run completed, exiting")
		return nil
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", cfg.Interval).
		Time("next_run", time.Now().Add(cfg.Interval)).
		Msg("Waiting for next run")

	for {
		select {
		case <-ticker.C:
			log.Info().Msg("Starting scheduled run")

			if err := runCycle(ctx, orch, items, cfg.RetentionDays); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info().Msg("Run canceled by shutdown signal")
					return nil
				}
				log.Error().Err(err).Msg("Run failed")
				// Continue to the next cycle rather than exiting
			}

			log.Info().
				Time("next_run", time.Now().Add(cfg.Interval)).
				Msg("Waiting for next run")

		case <-ctx.Done():
			log.Info().Msg("Shutting down periodic processing")
			return nil
		}
	}
}

// runCycle executes one run followed by the retention purge.
func runCycle(ctx context.Context, orch *process.Orchestrator, items *storage.ItemRepository, retentionDays int) error {
	report, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for _, e := range report.Errors {
		log.Warn().Str("run_id", report.RunID).Msg(e)
	}

	if retentionDays <= 0 {
		return nil
	}

	purgeCtx, purgeCancel := context.WithTimeout(ctx, 5*time.Minute)
	defer purgeCancel()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	purgedCount, err := items.PurgeOlderThan(purgeCtx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to purge old items")
	} else if purgedCount > 0 {
		log.Info().Int64("purged_count", purgedCount).Msg("Purged old items")
	} else {
		log.Debug().Msg("No old items needed purging")
	}
	return nil
}

// runServer starts the HTTP API. The database is opened read-only unless a
// trigger credential is configured.
func runServer(cfg *config.Config) error {
	trigger := cfg.TriggerEnabled()

	db, err := openDB(cfg, !trigger)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := server.Options{
		ListenAddr:   cfg.ListenAddr(),
		Secrets:      []string{cfg.CronSecret, cfg.ServiceKey},
		Items:        storage.NewItemRepository(db),
		Sources:      storage.NewSourceRepository(db),
		Health:       db,
		WriteTimeout: cfg.RunTimeout + 30*time.Second,
	}

	var reg *prometheus.Registry
	if cfg.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Gatherer = reg
	}

	if trigger {
		var registerer prometheus.Registerer
		if reg != nil {
			registerer = reg
		}
		orch, err := newOrchestrator(cfg, db, registerer)
		if err != nil {
			return err
		}
		opts.Runner = orch
	} else {
		log.Warn().Msg("No INGESTOR_CRON_SECRET or INGESTOR_SERVICE_KEY set, refresh endpoint disabled")
	}

	return server.RunServer(opts, log.Logger)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trenchlab/trenchwatch/internal/alert"
	"github.com/trenchlab/trenchwatch/internal/config"
	"github.com/trenchlab/trenchwatch/internal/dexscreener"
	"github.com/trenchlab/trenchwatch/internal/discovery"
	"github.com/trenchlab/trenchwatch/internal/observability"
	"github.com/trenchlab/trenchwatch/internal/pool"
	"github.com/trenchlab/trenchwatch/internal/scanner"
	"github.com/trenchlab/trenchwatch/internal/storage"
	"github.com/trenchlab/trenchwatch/internal/storage/memory"
	"github.com/trenchlab/trenchwatch/internal/storage/sqlite"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	memStore := flag.Bool("mem", false, "Use the in-memory store instead of sqlite")
	flag.Parse()

	// 2. Load configuration.
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("TRENCHWATCH - Starting")
	log.Info().Msg("DISCOVER -> POOL -> EVALUATE -> ALERT")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("chain", cfg.General.ChainID).
		Str("mode", string(cfg.Discovery.Mode)).
		Int("scan_interval_sec", cfg.Scan.IntervalSec).
		Int("pool_max", cfg.Pool.MaxSize).
		Int("hot_top_n", cfg.Scan.HotRecheckTopN).
		Str("policy", cfg.Alerts.Policy).
		Bool("dry_run", cfg.General.DryRun).
		Msg("Configuration loaded")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	// 4. Open the state store.
	var store storage.Store
	if *memStore {
		store = memory.New()
		log.Info().Msg("Store: IN-MEMORY mode (state lost on exit)")
	} else {
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create data directory")
			}
		}
		sqlStore, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open state store")
		}
		store = sqlStore
		log.Info().Str("path", cfg.Storage.Path).Msg("Store: sqlite")
	}
	defer store.Close()

	// 5. Market client, discovery, pool.
	client := dexscreener.NewClient(cfg.Dexscreener)
	disc := discovery.NewEngine(cfg.Discovery, client, cfg.General.ChainID)
	candidatePool := pool.New(cfg.Pool)

	// 6. Observability: metrics, health, live alert feed.
	metrics := observability.NewMetrics(client)
	hub := observability.NewAlertHub()

	notifiers := alert.Fanout{alert.LogNotifier{}, hub}

	engine := scanner.New(scanner.Config{
		ChainID:        cfg.General.ChainID,
		IntervalSec:    cfg.Scan.IntervalSec,
		HotRecheckTopN: cfg.Scan.HotRecheckTopN,
		MaxPerScan:     cfg.Alerts.MaxPerScan,
		Tagline:        cfg.Alerts.Tagline,
		Filters:        cfg.Filters.FilterConfig,
		UseFDVProxy:    cfg.Filters.UseFDVAsMCProxy,
		Policy:         cfg.Policy(),
	}, client, disc, candidatePool, store, notifiers, metrics)

	tracker := scanner.NewTracker(scanner.PerformanceConfig{
		ChainID:      cfg.General.ChainID,
		RefreshSec:   cfg.Scan.PerformanceRefreshSec,
		LookbackDays: cfg.Scan.PerformanceLookbackDays,
		BatchSize:    cfg.Scan.PerformanceBatchSize,
	}, client, store, metrics)

	monitor := observability.NewHealthMonitor()
	monitor.Register("scan_loop", observability.StalenessCheck(
		engine.LastScanAt,
		3*time.Duration(cfg.Scan.IntervalSec)*time.Second,
		10*time.Duration(cfg.Scan.IntervalSec)*time.Second,
	))
	monitor.Register("market_api", observability.StalenessCheck(
		client.LastSuccessAt, 2*time.Minute, 10*time.Minute,
	))

	// 7. Context and shutdown signals.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 8. Start everything.
	var wg sync.WaitGroup

	var opsServer *observability.Server
	if cfg.Ops.Enabled {
		opsServer = observability.NewServer(cfg.Ops.Listen, monitor, metrics, hub, store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := opsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ops server failed")
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scan engine failed")
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = tracker.Run(ctx)
	}()

	<-ctx.Done()

	// 9. Graceful shutdown: the in-flight scan finishes, then the ops
	// server drains.
	if opsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Ops server shutdown incomplete")
		}
		shutdownCancel()
	}
	wg.Wait()

	stats := engine.Stats()
	log.Info().
		Int64("scans", stats.ScansDone).
		Int64("alerts", stats.AlertsEmitted).
		Int("pool", stats.PoolSize).
		Msg("TRENCHWATCH - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "trenchwatch").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "trenchwatch").
			Str("instance", general.InstanceID).Logger()
	}
}

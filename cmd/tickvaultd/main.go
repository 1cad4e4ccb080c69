// tickvaultd is the market-data storage maintenance daemon. It runs
// scheduled maintenance passes (auto-sharding, auto-compression, integrity
// verification) over the configured tables until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tickvault/tickvault/internal/checksum"
	"github.com/tickvault/tickvault/internal/compression"
	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/maintenance"
	"github.com/tickvault/tickvault/internal/metadata"
	"github.com/tickvault/tickvault/internal/optimizer"
	"github.com/tickvault/tickvault/internal/query"
	"github.com/tickvault/tickvault/internal/sharding"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "tickvault.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "shard data directory (overrides config)")
	dbPath := flag.String("db", "", "metadata database path (overrides config)")
	intervalHours := flag.Float64("interval", 0, "maintenance interval in hours (overrides config)")
	runOnce := flag.Bool("once", false, "run one maintenance pass and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log as JSON")
	flag.Parse()

	logging.Init(parseLevel(*logLevel), *logJSON)
	logging.Info("tickvaultd starting", "version", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *dbPath != "" {
		cfg.MetadataDB = *dbPath
	}
	if *intervalHours > 0 {
		cfg.Maintenance.IntervalHours = *intervalHours
	}

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Create directories: %v", err)
	}

	// Open metadata store
	store, err := metadata.Open(cfg.MetadataDB)
	if err != nil {
		log.Fatalf("Open metadata store: %v", err)
	}
	defer store.Close()

	// Build managers
	shardingMgr := sharding.NewManager(store, cfg)
	compressionMgr := compression.NewManager(store, cfg)
	checksumMgr := checksum.NewManager(store, cfg)
	opt := optimizer.New(shardingMgr, cfg)
	maintenanceMgr := maintenance.NewManager(cfg, shardingMgr, compressionMgr, checksumMgr)

	querySvc, err := query.New(cfg, store, shardingMgr, opt)
	if err != nil {
		log.Fatalf("Create query service: %v", err)
	}
	defer querySvc.Close()

	if *runOnce {
		report := maintenanceMgr.PerformMaintenance(context.Background(), maintenance.DefaultOptions())
		if !report.Success {
			for _, e := range report.Errors {
				logging.Error("task failed", "table", e.TableName, "task", e.Task, "error", e.Error)
			}
			os.Exit(1)
		}
		return
	}

	if err := maintenanceMgr.StartScheduledMaintenance(cfg.Maintenance.IntervalHours, maintenance.DefaultOptions()); err != nil {
		log.Fatalf("Start scheduled maintenance: %v", err)
	}

	logging.Info("scheduled maintenance running",
		"interval_hours", cfg.Maintenance.IntervalHours,
		"tables", len(cfg.Maintenance.Tables),
		"data_dir", cfg.DataDir)

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Info("shutting down")

	// Stop scheduled work first, then background sweeps, then the store.
	if err := maintenanceMgr.StopScheduledMaintenance(); err != nil {
		logging.Warn("stop scheduled maintenance", "error", err)
	}
	checksumMgr.StopScheduledChecks()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

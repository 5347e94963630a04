// Command dbcheck connects to the configured database, applies pending
// migrations and reports the schema version. It is meant for deploy-time
// smoke checks.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MediSynth-io/messagely/internal/config"
	"github.com/MediSynth-io/messagely/internal/database"
)

func main() {
	configPath := flag.String("config", "app.yml", "Path to configuration file")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall check timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(*configPath, *timeout, logger); err != nil {
		logger.Error("database check failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("database check successful")
}

func run(configPath string, timeout time.Duration, logger *slog.Logger) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		slog.String("type", cfg.Database.Type),
		slog.String("path", cfg.Database.Path),
	)

	if cfg.Database.Type == config.DatabaseSQLite {
		dir := filepath.Dir(cfg.Database.Path)
		if stat, err := os.Stat(dir); err != nil {
			logger.Warn("cannot access data directory", slog.String("dir", dir), slog.Any("error", err))
		} else {
			logger.Info("data directory exists", slog.String("dir", dir), slog.String("mode", stat.Mode().String()))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	version, err := database.SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	logger.Info("schema is current", slog.Int("version", version))
	return nil
}

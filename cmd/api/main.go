package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MediSynth-io/messagely/internal/api"
	"github.com/MediSynth-io/messagely/internal/auth"
	"github.com/MediSynth-io/messagely/internal/config"
	"github.com/MediSynth-io/messagely/internal/database"
	"github.com/MediSynth-io/messagely/internal/gate"
	"github.com/MediSynth-io/messagely/internal/metrics"
	"github.com/MediSynth-io/messagely/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const version = "0.1.0"

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// initializeAPI wires the database, auth core and HTTP layer. The caller owns
// the returned database handle.
func initializeAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*api.Api, *database.DB, error) {
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	hasher, err := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	tokens, err := auth.NewTokenManager([]byte(cfg.Auth.SecretKey), cfg.Auth.TokenTTL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st := store.New(db)
	a, err := api.NewApi(*cfg, api.Deps{
		Store:    st,
		Auth:     auth.NewService(st, hasher, tokens, logger, m),
		Gate:     gate.New(tokens, logger, m),
		Logger:   logger,
		Metrics:  m,
		Gatherer: reg,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return a, db, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Init()
	}
	return config.LoadConfig(path)
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default $CONFIG_DIR/app.yml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", *configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting messagely API",
		slog.String("version", version),
		slog.String("config", *configPath),
		slog.String("database", cfg.Database.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, db, err := initializeAPI(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize API", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := a.Serve(ctx); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

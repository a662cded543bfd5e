package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"vex/config"
	"vex/pkg/coordinator"
	"vex/pkg/remote"
	"vex/pkg/server"
	"vex/storage"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	dataDir    = flag.String("data-dir", "", "Data directory (overrides config)")
	port       = flag.Int("port", 0, "Server port (overrides config)")
	host       = flag.String("host", "", "Server host (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Warn("using default configuration", "error", err)
		cfg = config.GetDefaultConfig()
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}

	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	store, err := openStore(cfg)
	if err != nil {
		log.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	coord, err := coordinator.New(cfg.CoordinatorConfig(), store, remote.NewClient(nil), log)
	if err != nil {
		log.Error("failed to initialize coordinator", "error", err)
		os.Exit(1)
	}
	defer coord.Close()
	coord.StartHealthCheck()
	defer coord.StopHealthCheck()

	srv := server.NewServer(cfg, coord, store, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })

	log.Info("vexd started", "addr", cfg.Server.Host, "port", cfg.Server.Port, "backend", cfg.Storage.Backend)
	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("vexd stopped")
}

func openStore(cfg *config.Config) (storage.VectorStore, error) {
	if cfg.Storage.Backend == "memory" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewBadgerStore(cfg.Storage.DataDir)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kpisync/kpisync/internal/demo/seeder"
)

func main() {
	cfg, err := seeder.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo seeder config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := seeder.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect demo database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = s.Close() }()

	logger.Info("seeding demo database",
		slog.String("driver", cfg.Driver),
		slog.Int64("seed", cfg.Seed),
		slog.Int("products", cfg.Products),
		slog.Bool("reset", cfg.Reset),
	)
	dataset := seeder.NewGenerator(cfg.Seed, time.Now()).Generate(cfg)
	summary, err := s.Seed(ctx, dataset, cfg.Reset)
	if err != nil {
		logger.Error("demo seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("demo database seeded", slog.Any("rows", summary.Rows), slog.Duration("duration", summary.Duration))
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kpisync/kpisync/internal/api"
	"github.com/kpisync/kpisync/internal/assistant"
	"github.com/kpisync/kpisync/internal/auth"
	"github.com/kpisync/kpisync/internal/catalog"
	"github.com/kpisync/kpisync/internal/completion"
	"github.com/kpisync/kpisync/internal/config"
	"github.com/kpisync/kpisync/internal/export"
	"github.com/kpisync/kpisync/internal/indicator"
	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/session"
	s3store "github.com/kpisync/kpisync/internal/storage/s3"
	"github.com/kpisync/kpisync/internal/syncer"
)

func main() {
	cfg, err := config.LoadFromEnv("kpisync-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	sessions := session.NewManager(cfg.Store, logger)

	completer, err := completion.New(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}
	describer, err := catalog.NewDescriber(cfg.Catalog.Describer, completer)
	if err != nil {
		logger.Error("failed to initialize catalog describer", slog.Any("error", err))
		os.Exit(1)
	}
	builder := catalog.NewBuilder(describer, logger)

	exporter := export.New(nil, logger)
	if cfg.ObjectStore.Enabled() {
		objectStore, err := s3store.New(context.Background(), cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		exporter = export.New(objectStore, logger)
	}

	deps := api.Dependencies{
		Logger:   logger,
		Sessions: sessions,
		Syncer:   syncer.New(nil, builder, logger),
		Catalog:  builder,
		Assistant: assistant.New(completer, assistant.Options{
			MaxTables:   cfg.Assistant.MaxTables,
			RowLimit:    cfg.Assistant.RowLimit,
			Summarize:   cfg.Assistant.Summarize,
			SummaryRows: cfg.Assistant.SummaryRows,
		}, logger),
		Indicators:        indicator.NewResolver(logger),
		Exporter:          exporter,
		Readiness:         api.CombineReadinessChecks(sessions.Ready, exporter.Ready),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("data_dir", cfg.Store.DataDir),
			slog.String("ai_provider", cfg.AI.Provider),
			slog.Bool("export_enabled", exporter.Enabled()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.Error("closing local stores failed", slog.Any("error", err))
		os.Exit(1)
	}
}

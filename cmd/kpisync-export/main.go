package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kpisync/kpisync/internal/config"
	"github.com/kpisync/kpisync/internal/export"
	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/session"
	s3store "github.com/kpisync/kpisync/internal/storage/s3"
)

func main() {
	user := flag.String("user", "", "user whose synced tables are exported")
	tables := flag.String("tables", "", "comma separated tables; default is every synced table")
	flag.Parse()

	cfg, err := config.LoadFromEnv("kpisync-export")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(*user) == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}
	if !cfg.ObjectStore.Enabled() {
		fmt.Fprintln(os.Stderr, "KPISYNC_OBJECTSTORE_ENDPOINT and KPISYNC_OBJECTSTORE_BUCKET are required")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objectStore, err := s3store.New(ctx, cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}
	exporter := export.New(objectStore, logger)
	sessions := session.NewManager(cfg.Store, logger)
	defer func() { _ = sessions.Close(context.Background()) }()

	var (
		snapshots []export.Snapshot
		failures  []string
	)
	err = sessions.Do(ctx, strings.TrimSpace(*user), func(ctx context.Context, s session.Session) error {
		names := splitList(*tables)
		if len(names) == 0 {
			synced, err := s.Store.ListSyncedTables(ctx)
			if err != nil {
				return err
			}
			for _, t := range synced {
				names = append(names, t.Name)
			}
		}
		snapshots, failures = exporter.ExportTables(ctx, s.UserID, s.Store, names)
		return nil
	})
	if err != nil {
		logger.Error("export failed", slog.Any("error", err))
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(map[string]any{"snapshots": snapshots, "errors": failures})
	if len(failures) > 0 {
		os.Exit(1)
	}
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

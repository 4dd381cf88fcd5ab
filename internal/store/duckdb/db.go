package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/kpisync/kpisync/internal/migrations"
)

type DBConfig struct {
	// Path of the DuckDB file. Empty opens an in-memory database.
	Path         string
	MaxOpenConns int
	// DisableExternalAccess stops SQL from reading files or URLs outside the store.
	DisableExternalAccess bool
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dsn := cfg.Path
	if cfg.DisableExternalAccess {
		dsn += "?enable_external_access=false"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping local store: %w", err)
	}
	return db, nil
}

// OpenStore opens the file, applies pending migrations and wraps the handle in a Store.
func OpenStore(ctx context.Context, cfg DBConfig) (*Store, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return New(db), nil
}

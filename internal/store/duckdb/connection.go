package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kpisync/kpisync/internal/store"
)

func (s *Store) GetConnection(ctx context.Context) (store.ConnectionSettings, error) {
	var settings store.ConnectionSettings
	err := s.db.QueryRowContext(ctx, `
SELECT driver, host, port, username, password, database_name, schema_name, updated_at
FROM kpisync_connection
LIMIT 1`).Scan(
		&settings.Driver,
		&settings.Host,
		&settings.Port,
		&settings.User,
		&settings.Password,
		&settings.Database,
		&settings.Schema,
		&settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ConnectionSettings{}, store.ErrNotFound
		}
		return store.ConnectionSettings{}, fmt.Errorf("get connection: %w", err)
	}
	return settings, nil
}

// SaveConnection keeps a single row of connection settings per store.
func (s *Store) SaveConnection(ctx context.Context, settings store.ConnectionSettings) (store.ConnectionSettings, error) {
	settings.UpdatedAt = s.now()
	err := s.withTx(ctx, func(q dbTX) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM kpisync_connection`); err != nil {
			return fmt.Errorf("clear connection: %w", err)
		}
		if _, err := q.ExecContext(ctx, `
INSERT INTO kpisync_connection (driver, host, port, username, password, database_name, schema_name, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			settings.Driver, settings.Host, settings.Port, settings.User, settings.Password,
			settings.Database, settings.Schema, settings.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.ConnectionSettings{}, fmt.Errorf("save connection: %w", err)
	}
	return settings, nil
}

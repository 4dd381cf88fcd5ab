package duckdb

import (
	"context"
	"fmt"

	"github.com/kpisync/kpisync/internal/store"
)

// ReplaceCatalog clears the catalog rows of tables and writes entries in one transaction.
func (s *Store) ReplaceCatalog(ctx context.Context, tables []string, entries []store.CatalogEntry) error {
	now := s.now()
	return s.withTx(ctx, func(q dbTX) error {
		for _, table := range tables {
			if _, err := q.ExecContext(ctx, `DELETE FROM kpisync_catalog WHERE lower(table_name) = lower(?)`, table); err != nil {
				return fmt.Errorf("clear catalog for %q: %w", table, err)
			}
		}
		for _, entry := range entries {
			updatedAt := entry.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = now
			}
			if _, err := q.ExecContext(ctx, `
INSERT INTO kpisync_catalog (table_name, column_name, ordinal, data_type, sample_value, description, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
				entry.Table, entry.Column, entry.Ordinal, entry.Type, entry.Sample, entry.Description, updatedAt,
			); err != nil {
				return fmt.Errorf("insert catalog entry %s.%s: %w", entry.Table, entry.Column, err)
			}
		}
		return nil
	})
}

// ListCatalog returns every catalog entry ordered by table and column position.
func (s *Store) ListCatalog(ctx context.Context) ([]store.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name, column_name, ordinal, data_type, sample_value, description, updated_at
FROM kpisync_catalog
ORDER BY table_name ASC, ordinal ASC`)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]store.CatalogEntry, 0)
	for rows.Next() {
		var entry store.CatalogEntry
		if err := rows.Scan(
			&entry.Table,
			&entry.Column,
			&entry.Ordinal,
			&entry.Type,
			&entry.Sample,
			&entry.Description,
			&entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return entries, nil
}

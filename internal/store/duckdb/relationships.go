package duckdb

import (
	"context"
	"fmt"

	"github.com/kpisync/kpisync/internal/store"
)

func (s *Store) CreateRelationship(ctx context.Context, rel store.Relationship) (store.Relationship, error) {
	rel.CreatedAt = s.now()
	err := s.db.QueryRowContext(ctx, `
INSERT INTO kpisync_relationship (origin_table, origin_column, destination_table, destination_column, cardinality, created_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id`,
		rel.OriginTable, rel.OriginColumn, rel.DestinationTable, rel.DestinationColumn, string(rel.Cardinality), rel.CreatedAt,
	).Scan(&rel.ID)
	if err != nil {
		return store.Relationship{}, fmt.Errorf("create relationship: %w", err)
	}
	return rel, nil
}

func (s *Store) ListRelationships(ctx context.Context) ([]store.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, origin_table, origin_column, destination_table, destination_column, cardinality, created_at
FROM kpisync_relationship
ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	relationships := make([]store.Relationship, 0)
	for rows.Next() {
		var rel store.Relationship
		var cardinality string
		if err := rows.Scan(
			&rel.ID,
			&rel.OriginTable,
			&rel.OriginColumn,
			&rel.DestinationTable,
			&rel.DestinationColumn,
			&cardinality,
			&rel.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan relationship row: %w", err)
		}
		rel.Cardinality = store.Cardinality(cardinality)
		relationships = append(relationships, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationship rows: %w", err)
	}
	return relationships, nil
}

func (s *Store) DeleteRelationship(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM kpisync_relationship WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete relationship rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

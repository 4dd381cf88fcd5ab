package duckdb

import (
	"context"
	"fmt"

	"github.com/kpisync/kpisync/internal/store"
)

func (s *Store) InsertInteraction(ctx context.Context, in store.Interaction) (store.Interaction, error) {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}
	err := s.db.QueryRowContext(ctx, `
INSERT INTO kpisync_interaction (user_id, question, sql_text, reply, state, created_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id`,
		in.UserID, in.Question, in.SQL, in.Reply, in.State, in.CreatedAt,
	).Scan(&in.ID)
	if err != nil {
		return store.Interaction{}, fmt.Errorf("insert interaction: %w", err)
	}
	return in, nil
}

// ListInteractions returns the newest interactions first.
func (s *Store) ListInteractions(ctx context.Context, limit int) ([]store.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, question, sql_text, reply, state, created_at
FROM kpisync_interaction
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	interactions := make([]store.Interaction, 0)
	for rows.Next() {
		var in store.Interaction
		if err := rows.Scan(&in.ID, &in.UserID, &in.Question, &in.SQL, &in.Reply, &in.State, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction row: %w", err)
		}
		interactions = append(interactions, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction rows: %w", err)
	}
	return interactions, nil
}

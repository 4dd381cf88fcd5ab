package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kpisync/kpisync/internal/store"
)

func (s *Store) GetIndicatorMapping(ctx context.Context, key store.IndicatorKey) (store.IndicatorMapping, error) {
	var (
		mapping                     store.IndicatorMapping
		mode                        string
		inflow, outflow, filterVals string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT user_id, sector, indicator, table_name, value_column, date_column, mode,
       type_column, inflow_values, outflow_values, filter_column, filter_values, updated_at
FROM kpisync_indicator_mapping
WHERE user_id = ? AND lower(sector) = lower(?) AND lower(indicator) = lower(?)
LIMIT 1`, key.UserID, key.Sector, key.Indicator).Scan(
		&mapping.UserID,
		&mapping.Sector,
		&mapping.Indicator,
		&mapping.Table,
		&mapping.ValueColumn,
		&mapping.DateColumn,
		&mode,
		&mapping.TypeColumn,
		&inflow,
		&outflow,
		&mapping.FilterColumn,
		&filterVals,
		&mapping.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.IndicatorMapping{}, store.ErrNotFound
		}
		return store.IndicatorMapping{}, fmt.Errorf("get indicator mapping: %w", err)
	}
	mapping.Mode = store.IndicatorMode(mode)
	for target, raw := range map[*[]string]string{
		&mapping.InflowValues:  inflow,
		&mapping.OutflowValues: outflow,
		&mapping.FilterValues:  filterVals,
	} {
		values, err := decodeList(raw)
		if err != nil {
			return store.IndicatorMapping{}, fmt.Errorf("decode indicator mapping literals: %w", err)
		}
		*target = values
	}
	return mapping, nil
}

// SaveIndicatorMapping replaces the mapping stored under mapping's key.
func (s *Store) SaveIndicatorMapping(ctx context.Context, mapping store.IndicatorMapping) (store.IndicatorMapping, error) {
	mapping.UpdatedAt = s.now()
	inflow, err := encodeList(mapping.InflowValues)
	if err != nil {
		return store.IndicatorMapping{}, err
	}
	outflow, err := encodeList(mapping.OutflowValues)
	if err != nil {
		return store.IndicatorMapping{}, err
	}
	filterVals, err := encodeList(mapping.FilterValues)
	if err != nil {
		return store.IndicatorMapping{}, err
	}

	err = s.withTx(ctx, func(q dbTX) error {
		if _, err := q.ExecContext(ctx, `
DELETE FROM kpisync_indicator_mapping
WHERE user_id = ? AND lower(sector) = lower(?) AND lower(indicator) = lower(?)`,
			mapping.UserID, mapping.Sector, mapping.Indicator,
		); err != nil {
			return fmt.Errorf("clear indicator mapping: %w", err)
		}
		if _, err := q.ExecContext(ctx, `
INSERT INTO kpisync_indicator_mapping (
	user_id, sector, indicator, table_name, value_column, date_column, mode,
	type_column, inflow_values, outflow_values, filter_column, filter_values, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			mapping.UserID, mapping.Sector, mapping.Indicator, mapping.Table, mapping.ValueColumn,
			mapping.DateColumn, string(mapping.Mode), mapping.TypeColumn, inflow, outflow,
			mapping.FilterColumn, filterVals, mapping.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert indicator mapping: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.IndicatorMapping{}, fmt.Errorf("save indicator mapping: %w", err)
	}
	return mapping, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode literal list: %w", err)
	}
	return string(encoded), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

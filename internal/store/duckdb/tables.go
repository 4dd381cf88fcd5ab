package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kpisync/kpisync/internal/store"
)

const insertBatchRows = 256

const (
	typeBigint    = "BIGINT"
	typeDouble    = "DOUBLE"
	typeBoolean   = "BOOLEAN"
	typeTimestamp = "TIMESTAMP"
	typeVarchar   = "VARCHAR"
)

// ReplaceTable drops any local table named data.Name and recreates it with data's rows in a
// single transaction. On error nothing changes.
func (s *Store) ReplaceTable(ctx context.Context, data store.TableData) (int64, error) {
	if err := validateTableName(data.Name); err != nil {
		return 0, err
	}
	if len(data.Columns) == 0 {
		return 0, fmt.Errorf("entity %q has no columns", data.Name)
	}
	seen := map[string]struct{}{}
	for _, column := range data.Columns {
		key := strings.ToLower(column.Name)
		if strings.TrimSpace(key) == "" {
			return 0, fmt.Errorf("entity %q has an unnamed column", data.Name)
		}
		if _, dup := seen[key]; dup {
			return 0, fmt.Errorf("entity %q has duplicate column %q", data.Name, column.Name)
		}
		seen[key] = struct{}{}
	}
	for i, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return 0, fmt.Errorf("entity %q row %d has %d values, want %d", data.Name, i, len(row), len(data.Columns))
		}
	}

	types := make([]string, len(data.Columns))
	for i, column := range data.Columns {
		types[i] = inferColumnType(column.RemoteType, columnValues(data.Rows, i))
	}

	origin := data.Origin
	if origin == "" {
		origin = store.OriginTable
	}

	err := s.withTx(ctx, func(q dbTX) error {
		if _, err := q.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(data.Name)); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
		if _, err := q.ExecContext(ctx, createTableSQL(data.Name, data.Columns, types)); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		if err := insertRows(ctx, q, data.Name, types, data.Rows); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
DELETE FROM kpisync_synced_table
WHERE lower(table_name) = lower(?)`, data.Name); err != nil {
			return fmt.Errorf("clear synced table record: %w", err)
		}
		if _, err := q.ExecContext(ctx, `
INSERT INTO kpisync_synced_table (table_name, origin_type, row_count, synced_at)
VALUES (?, ?, ?, ?)`, data.Name, string(origin), int64(len(data.Rows)), s.now()); err != nil {
			return fmt.Errorf("record synced table: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("replace table %q: %w", data.Name, err)
	}
	return int64(len(data.Rows)), nil
}

// DropTable removes a synced table together with its catalog rows and relationships.
func (s *Store) DropTable(ctx context.Context, name string) error {
	tables, err := s.ListSyncedTables(ctx)
	if err != nil {
		return err
	}
	canonical := ""
	for _, table := range tables {
		if strings.EqualFold(table.Name, name) {
			canonical = table.Name
		}
	}
	if canonical == "" {
		return store.ErrNotFound
	}

	return s.withTx(ctx, func(q dbTX) error {
		if _, err := q.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(canonical)); err != nil {
			return fmt.Errorf("drop table %q: %w", canonical, err)
		}
		for _, query := range []string{
			`DELETE FROM kpisync_catalog WHERE lower(table_name) = lower(?)`,
			`DELETE FROM kpisync_synced_table WHERE lower(table_name) = lower(?)`,
			`DELETE FROM kpisync_relationship WHERE lower(origin_table) = lower(?) OR lower(destination_table) = lower(?)`,
		} {
			args := []any{canonical}
			if strings.Count(query, "?") == 2 {
				args = append(args, canonical)
			}
			if _, err := q.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("drop table %q bookkeeping: %w", canonical, err)
			}
		}
		return nil
	})
}

func (s *Store) ListSyncedTables(ctx context.Context) ([]store.SyncedTable, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name, origin_type, row_count, synced_at
FROM kpisync_synced_table
ORDER BY table_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list synced tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]store.SyncedTable, 0)
	for rows.Next() {
		var table store.SyncedTable
		var origin string
		if err := rows.Scan(&table.Name, &origin, &table.RowCount, &table.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan synced table row: %w", err)
		}
		table.Origin = store.OriginType(origin)
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate synced table rows: %w", err)
	}
	return tables, nil
}

// TableColumns lists the columns of a local table in ordinal order.
func (s *Store) TableColumns(ctx context.Context, table string) ([]store.Column, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main' AND lower(table_name) = lower(?)
ORDER BY ordinal_position ASC`, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]store.Column, 0)
	for rows.Next() {
		var column store.Column
		if err := rows.Scan(&column.Name, &column.Type); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	if len(columns) == 0 {
		return nil, store.ErrNotFound
	}
	return columns, nil
}

// SampleValue returns the first non-null value of column as text, or "" when there is none.
func (s *Store) SampleValue(ctx context.Context, table, column string) (string, error) {
	query := fmt.Sprintf(`SELECT CAST(%[1]s AS VARCHAR) FROM %[2]s WHERE %[1]s IS NOT NULL LIMIT 1`, quoteIdent(column), quoteIdent(table))
	var sample string
	if err := s.db.QueryRowContext(ctx, query).Scan(&sample); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("sample %s.%s: %w", table, column, err)
	}
	return sample, nil
}

// ColumnProfile counts rows and distinct values and returns up to limit distinct values.
func (s *Store) ColumnProfile(ctx context.Context, table, column string, limit int) (store.ColumnProfile, error) {
	var profile store.ColumnProfile
	countQuery := fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT %s) FROM %s`, quoteIdent(column), quoteIdent(table))
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&profile.Rows, &profile.Distinct); err != nil {
		return store.ColumnProfile{}, fmt.Errorf("profile %s.%s: %w", table, column, err)
	}
	values, err := s.DistinctValues(ctx, table, column, limit)
	if err != nil {
		return store.ColumnProfile{}, err
	}
	profile.Values = values
	return profile, nil
}

// DistinctValues returns up to limit distinct non-null values of column as text, sorted.
func (s *Store) DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT DISTINCT CAST(%[1]s AS VARCHAR) AS v FROM %[2]s WHERE %[1]s IS NOT NULL ORDER BY v LIMIT %[3]d`,
		quoteIdent(column), quoteIdent(table), limit)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct values %s.%s: %w", table, column, err)
	}
	defer func() { _ = rows.Close() }()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct values: %w", err)
	}
	return values, nil
}

func validateTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("table name is required")
	}
	if store.IsInternalName(name) {
		return fmt.Errorf("table name %q uses the reserved %q prefix", name, store.InternalPrefix)
	}
	return nil
}

func createTableSQL(name string, columns []store.SourceColumn, types []string) string {
	defs := make([]string, len(columns))
	for i, column := range columns {
		defs[i] = quoteIdent(column.Name) + " " + types[i]
	}
	return "CREATE TABLE " + quoteIdent(name) + " (" + strings.Join(defs, ", ") + ")"
}

func insertRows(ctx context.Context, q dbTX, table string, types []string, rows [][]any) error {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", ") + ")"
	for start := 0; start < len(rows); start += insertBatchRows {
		end := min(start+insertBatchRows, len(rows))
		batch := rows[start:end]

		tuples := make([]string, len(batch))
		args := make([]any, 0, len(batch)*len(types))
		for i, row := range batch {
			tuples[i] = placeholders
			for col, value := range row {
				converted, err := convertValue(types[col], value)
				if err != nil {
					return fmt.Errorf("row %d column %d: %w", start+i, col, err)
				}
				args = append(args, converted)
			}
		}
		query := "INSERT INTO " + quoteIdent(table) + " VALUES " + strings.Join(tuples, ", ")
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert rows %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

func columnValues(rows [][]any, index int) []any {
	values := make([]any, len(rows))
	for i, row := range rows {
		values[i] = row[index]
	}
	return values
}

type valueKind int

const (
	kindInt valueKind = 1 << iota
	kindFloat
	kindBool
	kindTime
	kindString
)

// inferColumnType picks a local type from the carried values. Mixed or unknown values fall
// back to VARCHAR. Numeric text is promoted to DOUBLE only when the remote type is numeric.
func inferColumnType(remoteType string, values []any) string {
	var kinds valueKind
	allNumericText := true
	for _, value := range values {
		switch typed := value.(type) {
		case nil:
			continue
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			kinds |= kindInt
		case uint, uint64:
			if toUint64(typed) > math.MaxInt64 {
				kinds |= kindFloat
			} else {
				kinds |= kindInt
			}
		case float32, float64:
			kinds |= kindFloat
		case bool:
			kinds |= kindBool
		case time.Time:
			kinds |= kindTime
		case string:
			kinds |= kindString
			if _, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err != nil {
				allNumericText = false
			}
		default:
			kinds |= kindString
			allNumericText = false
		}
	}

	switch kinds {
	case 0:
		return typeVarchar
	case kindInt:
		return typeBigint
	case kindFloat, kindInt | kindFloat:
		return typeDouble
	case kindBool:
		return typeBoolean
	case kindTime:
		return typeTimestamp
	case kindString:
		if allNumericText && isNumericRemoteType(remoteType) {
			return typeDouble
		}
		return typeVarchar
	default:
		return typeVarchar
	}
}

func isNumericRemoteType(remoteType string) bool {
	upper := strings.ToUpper(remoteType)
	for _, name := range []string{"DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "MONEY"} {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}

func convertValue(localType string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch localType {
	case typeBigint:
		switch typed := value.(type) {
		case int:
			return int64(typed), nil
		case int8:
			return int64(typed), nil
		case int16:
			return int64(typed), nil
		case int32:
			return int64(typed), nil
		case int64:
			return typed, nil
		case uint8, uint16, uint32, uint, uint64:
			return int64(toUint64(typed)), nil
		}
	case typeDouble:
		switch typed := value.(type) {
		case float64:
			return typed, nil
		case float32:
			return float64(typed), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
			if err != nil {
				return nil, err
			}
			return parsed, nil
		case int, int8, int16, int32, int64:
			return float64(toInt64(typed)), nil
		case uint, uint8, uint16, uint32, uint64:
			return float64(toUint64(typed)), nil
		}
	case typeBoolean, typeTimestamp:
		return value, nil
	}

	switch typed := value.(type) {
	case string:
		return typed, nil
	case time.Time:
		return typed.Format(time.RFC3339Nano), nil
	case []byte:
		return string(typed), nil
	default:
		return fmt.Sprint(typed), nil
	}
}

func toInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case int64:
		return typed
	}
	return 0
}

func toUint64(value any) uint64 {
	switch typed := value.(type) {
	case uint:
		return uint64(typed)
	case uint8:
		return uint64(typed)
	case uint16:
		return uint64(typed)
	case uint32:
		return uint64(typed)
	case uint64:
		return typed
	}
	return 0
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/kpisync/kpisync/internal/store"
)

var (
	ErrEmptyQuery    = errors.New("sql is required")
	ErrNotReadOnly   = errors.New("only a single SELECT or WITH statement is allowed")
	ErrInternalTable = errors.New("query references internal tables")

	leadingKeyword = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	internalRef    = regexp.MustCompile(`(?i)\b` + store.InternalPrefix)
)

// Query runs one read-only statement and returns at most rowLimit rows. rowLimit <= 0 means
// no limit is applied.
func (s *Store) Query(ctx context.Context, sqlText string, rowLimit int) (store.QueryResult, error) {
	statement, err := ReadOnlyStatement(sqlText)
	if err != nil {
		return store.QueryResult{}, err
	}
	if rowLimit > 0 {
		statement = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", statement, rowLimit)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, statement)
	if err != nil {
		return store.QueryResult{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return store.QueryResult{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return store.QueryResult{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return store.QueryResult{}, fmt.Errorf("iterate rows: %w", err)
	}

	return store.QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

// QueryFloat runs a parameterized scalar aggregate. A NULL result returns nil.
func (s *Store) QueryFloat(ctx context.Context, query string, args ...any) (*float64, error) {
	var value sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		return nil, fmt.Errorf("scalar query: %w", err)
	}
	if !value.Valid {
		return nil, nil
	}
	return &value.Float64, nil
}

// ReadOnlyStatement trims trailing semicolons and checks that sqlText is a single SELECT or
// WITH statement that does not touch the bookkeeping tables.
func ReadOnlyStatement(sqlText string) (string, error) {
	statement := stripTrailingSemicolons(sqlText)
	if statement == "" {
		return "", ErrEmptyQuery
	}
	if !leadingKeyword.MatchString(statement) || hasStatementSeparator(statement) {
		return "", ErrNotReadOnly
	}
	if internalRef.MatchString(statement) {
		return "", ErrInternalTable
	}
	return statement, nil
}

// hasStatementSeparator reports a ';' outside quoted text.
func hasStatementSeparator(statement string) bool {
	var quote rune
	for _, r := range statement {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ';':
			return true
		}
	}
	return false
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case *big.Int:
			if typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		case time.Time:
			normalized[i] = typed.UTC()
		case interface{ Float64() float64 }:
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

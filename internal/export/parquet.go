package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
)

// EncodeParquet writes columns and rows as a Parquet file in which every column is an optional
// string. NULL values stay NULL.
func EncodeParquet(columns []string, rows [][]any) ([]byte, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("columns are required")
	}
	group := parquet.Group{}
	for _, name := range columns {
		if _, dup := group[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("snapshot", group)

	// Leaf columns are ordered by name in the schema, not by source position.
	leaf := make(map[string]int, len(columns))
	for i, path := range schema.Columns() {
		leaf[path[0]] = i
	}
	order := make([]int, len(columns))
	for i, name := range columns {
		order[leaf[name]] = i
	}

	encoded := make([]parquet.Row, 0, len(rows))
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", r, len(row), len(columns))
		}
		out := make(parquet.Row, len(columns))
		for columnIndex, source := range order {
			text, ok := formatValue(row[source])
			if !ok {
				out[columnIndex] = parquet.NullValue().Level(0, 0, columnIndex)
				continue
			}
			out[columnIndex] = parquet.ValueOf(text).Level(0, 1, columnIndex)
		}
		encoded = append(encoded, out)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(encoded); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func formatValue(value any) (string, bool) {
	switch typed := value.(type) {
	case nil:
		return "", false
	case string:
		return typed, true
	case []byte:
		return string(typed), true
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return fmt.Sprint(typed), true
	}
}

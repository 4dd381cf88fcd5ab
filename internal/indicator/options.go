package indicator

import (
	"context"
	"fmt"
	"strings"

	"github.com/kpisync/kpisync/internal/store"
)

const DefaultOptionValues = 100

type OptionsStore interface {
	ListSyncedTables(ctx context.Context) ([]store.SyncedTable, error)
	TableColumns(ctx context.Context, table string) ([]store.Column, error)
	DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error)
}

// Options lists the next choice of a guided mapping setup: tables when table is empty, the
// columns of table when column is empty, otherwise distinct values of the column.
type Options struct {
	Tables  []string       `json:"tables,omitempty"`
	Columns []store.Column `json:"columns,omitempty"`
	Values  []string       `json:"values,omitempty"`
}

func ListOptions(ctx context.Context, st OptionsStore, table, column string, limit int) (Options, error) {
	table = strings.TrimSpace(table)
	column = strings.TrimSpace(column)
	if table == "" {
		synced, err := st.ListSyncedTables(ctx)
		if err != nil {
			return Options{}, fmt.Errorf("list synced tables: %w", err)
		}
		names := make([]string, 0, len(synced))
		for _, t := range synced {
			names = append(names, t.Name)
		}
		return Options{Tables: names}, nil
	}

	columns, err := st.TableColumns(ctx, table)
	if err != nil {
		return Options{}, err
	}
	if column == "" {
		return Options{Columns: columns}, nil
	}
	for _, c := range columns {
		if strings.EqualFold(c.Name, column) {
			if limit <= 0 {
				limit = DefaultOptionValues
			}
			values, err := st.DistinctValues(ctx, table, c.Name, limit)
			if err != nil {
				return Options{}, fmt.Errorf("distinct values of %s.%s: %w", table, c.Name, err)
			}
			return Options{Values: values}, nil
		}
	}
	return Options{}, fmt.Errorf("column %s.%s: %w", table, column, store.ErrNotFound)
}

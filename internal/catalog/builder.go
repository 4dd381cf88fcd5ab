// Package catalog builds the metadata catalog that describes every synced column.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/store"
)

// Store is the slice of the local store the builder reads and writes.
type Store interface {
	TableColumns(ctx context.Context, table string) ([]store.Column, error)
	SampleValue(ctx context.Context, table, column string) (string, error)
	ReplaceCatalog(ctx context.Context, tables []string, entries []store.CatalogEntry) error
}

type Summary struct {
	Tables    int `json:"tables"`
	Entries   int `json:"entries"`
	Fallbacks int `json:"fallbacks"`
}

type Builder struct {
	describer Describer
	logger    *slog.Logger
}

func NewBuilder(describer Describer, logger *slog.Logger) *Builder {
	if describer == nil {
		describer = Templated{}
	}
	return &Builder{describer: describer, logger: observability.Component(logger, "catalog")}
}

// Rebuild clears and repopulates the catalog rows of tables in one transaction. It never
// touches table contents.
func (b *Builder) Rebuild(ctx context.Context, st Store, tables []string) (Summary, error) {
	var summary Summary
	entries := make([]store.CatalogEntry, 0)
	rebuilt := make([]string, 0, len(tables))

	for _, table := range uniqueFold(tables) {
		columns, err := st.TableColumns(ctx, table)
		if err != nil {
			return Summary{}, fmt.Errorf("columns of %q: %w", table, err)
		}
		for i, column := range columns {
			sample, err := st.SampleValue(ctx, table, column.Name)
			if err != nil {
				return Summary{}, err
			}
			described := Column{Table: table, Name: column.Name, Type: column.Type, Sample: sample}
			description, err := b.describer.Describe(ctx, described)
			if err != nil || strings.TrimSpace(description) == "" {
				if err != nil {
					b.logger.WarnContext(ctx, "describer failed, using templated text",
						slog.String("table", table), slog.String("column", column.Name), slog.Any("error", err))
				}
				description = TemplatedText(described)
				summary.Fallbacks++
			}
			entries = append(entries, store.CatalogEntry{
				Table:       table,
				Column:      column.Name,
				Ordinal:     i + 1,
				Type:        column.Type,
				Sample:      sample,
				Description: description,
			})
		}
		rebuilt = append(rebuilt, table)
	}

	if err := st.ReplaceCatalog(ctx, rebuilt, entries); err != nil {
		return Summary{}, err
	}
	summary.Tables = len(rebuilt)
	summary.Entries = len(entries)
	observability.ObserveCatalogRebuild(summary.Entries, summary.Fallbacks)
	b.logger.InfoContext(ctx, "catalog rebuilt",
		slog.Int("tables", summary.Tables), slog.Int("entries", summary.Entries), slog.Int("fallbacks", summary.Fallbacks))
	return summary, nil
}

func uniqueFold(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		key := strings.ToLower(strings.TrimSpace(value))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	return out
}

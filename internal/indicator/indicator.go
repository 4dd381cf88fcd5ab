// Package indicator resolves saved KPI mappings into a single aggregated value over the local
// store.
package indicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/store"
)

// Placeholder is shown in place of a value that could not be computed.
const Placeholder = "-"

const DateLayout = "2006-01-02"

var ErrInvalidMapping = errors.New("invalid indicator mapping")

type Store interface {
	GetIndicatorMapping(ctx context.Context, key store.IndicatorKey) (store.IndicatorMapping, error)
	SaveIndicatorMapping(ctx context.Context, mapping store.IndicatorMapping) (store.IndicatorMapping, error)
	ListCatalog(ctx context.Context) ([]store.CatalogEntry, error)
	QueryFloat(ctx context.Context, query string, args ...any) (*float64, error)
}

// Period is an inclusive date range. Balance mappings only use End.
type Period struct {
	Start time.Time
	End   time.Time
}

func ParsePeriod(start, end string) (Period, error) {
	from, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return Period{}, fmt.Errorf("invalid start %q: want YYYY-MM-DD", start)
	}
	to, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return Period{}, fmt.Errorf("invalid end %q: want YYYY-MM-DD", end)
	}
	if to.Before(from) {
		return Period{}, fmt.Errorf("end %s is before start %s", end, start)
	}
	return Period{Start: from, End: to}, nil
}

type Result struct {
	Value           string   `json:"value"`
	Raw             *float64 `json:"raw,omitempty"`
	MappingRequired bool     `json:"mapping_required"`
}

type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: observability.Component(logger, "indicator")}
}

// Resolve never fails: a missing mapping asks for configuration, every other problem yields the
// placeholder value.
func (r *Resolver) Resolve(ctx context.Context, st Store, key store.IndicatorKey, period Period) Result {
	mapping, err := st.GetIndicatorMapping(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		observability.ObserveIndicator("mapping_required")
		return Result{Value: Placeholder, MappingRequired: true}
	}
	if err != nil {
		r.logger.WarnContext(ctx, "load indicator mapping failed", slog.String("indicator", key.Indicator), slog.Any("error", err))
		observability.ObserveIndicator("error")
		return Result{Value: Placeholder}
	}

	entries, err := st.ListCatalog(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "load catalog failed", slog.Any("error", err))
		observability.ObserveIndicator("error")
		return Result{Value: Placeholder}
	}
	query, args, err := BuildQuery(mapping, store.NewCatalog(entries), period)
	if err != nil {
		r.logger.WarnContext(ctx, "indicator mapping no longer matches the catalog",
			slog.String("indicator", key.Indicator), slog.Any("error", err))
		observability.ObserveIndicator("error")
		return Result{Value: Placeholder}
	}

	value, err := st.QueryFloat(ctx, query, args...)
	if err != nil {
		r.logger.WarnContext(ctx, "indicator query failed", slog.String("indicator", key.Indicator), slog.Any("error", err))
		observability.ObserveIndicator("error")
		return Result{Value: Placeholder}
	}
	if value == nil {
		observability.ObserveIndicator("empty")
		return Result{Value: Placeholder}
	}
	observability.ObserveIndicator("ok")
	return Result{Value: FormatValue(*value), Raw: value}
}

// BuildQuery renders the aggregate for mapping. Identifiers are checked against the catalog and
// quoted with their catalogued spelling; literals and dates are bound.
func BuildQuery(mapping store.IndicatorMapping, catalog store.Catalog, period Period) (string, []any, error) {
	resolved, err := resolveColumns(mapping, catalog)
	if err != nil {
		return "", nil, err
	}

	args := make([]any, 0)
	value := quoteIdent(resolved.value)
	expr := value
	if resolved.typeColumn != "" {
		typeCol := quoteIdent(resolved.typeColumn)
		var b strings.Builder
		b.WriteString("CASE")
		if len(mapping.InflowValues) > 0 {
			fmt.Fprintf(&b, " WHEN CAST(%s AS VARCHAR) IN (%s) THEN %s", typeCol, placeholders(len(mapping.InflowValues)), value)
			args = appendStrings(args, mapping.InflowValues)
		}
		if len(mapping.OutflowValues) > 0 {
			fmt.Fprintf(&b, " WHEN CAST(%s AS VARCHAR) IN (%s) THEN -%s", typeCol, placeholders(len(mapping.OutflowValues)), value)
			args = appendStrings(args, mapping.OutflowValues)
		}
		b.WriteString(" ELSE 0 END")
		expr = b.String()
	}

	conditions := make([]string, 0, 3)
	date := fmt.Sprintf("CAST(%s AS DATE)", quoteIdent(resolved.date))
	switch mapping.Mode {
	case store.ModeBalance:
		conditions = append(conditions, date+" <= CAST(? AS DATE)")
		args = append(args, period.End.Format(DateLayout))
	default:
		conditions = append(conditions, date+" BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)")
		args = append(args, period.Start.Format(DateLayout), period.End.Format(DateLayout))
	}
	if resolved.filter != "" && len(mapping.FilterValues) > 0 {
		conditions = append(conditions, fmt.Sprintf("CAST(%s AS VARCHAR) IN (%s)", quoteIdent(resolved.filter), placeholders(len(mapping.FilterValues))))
		args = appendStrings(args, mapping.FilterValues)
	}

	query := fmt.Sprintf("SELECT SUM(%s) FROM %s WHERE %s", expr, quoteIdent(resolved.table), strings.Join(conditions, " AND "))
	return query, args, nil
}

type resolvedColumns struct {
	table      string
	value      string
	date       string
	typeColumn string
	filter     string
}

func resolveColumns(mapping store.IndicatorMapping, catalog store.Catalog) (resolvedColumns, error) {
	table, ok := catalog.LookupTable(mapping.Table)
	if !ok {
		return resolvedColumns{}, fmt.Errorf("%w: table %q is not in the catalog", ErrInvalidMapping, mapping.Table)
	}
	out := resolvedColumns{table: table}
	lookup := func(field, column string, required bool) (string, error) {
		if strings.TrimSpace(column) == "" {
			if required {
				return "", fmt.Errorf("%w: %s is required", ErrInvalidMapping, field)
			}
			return "", nil
		}
		entry, ok := catalog.LookupColumn(table, column)
		if !ok {
			return "", fmt.Errorf("%w: %s %q is not a column of %s", ErrInvalidMapping, field, column, table)
		}
		return entry.Column, nil
	}

	var err error
	if out.value, err = lookup("value column", mapping.ValueColumn, true); err != nil {
		return resolvedColumns{}, err
	}
	if out.date, err = lookup("date column", mapping.DateColumn, true); err != nil {
		return resolvedColumns{}, err
	}
	if out.typeColumn, err = lookup("type column", mapping.TypeColumn, false); err != nil {
		return resolvedColumns{}, err
	}
	if out.filter, err = lookup("filter column", mapping.FilterColumn, false); err != nil {
		return resolvedColumns{}, err
	}
	return out, nil
}

// Validate checks a mapping before it is saved.
func Validate(mapping store.IndicatorMapping, catalog store.Catalog) error {
	if strings.TrimSpace(mapping.Sector) == "" || strings.TrimSpace(mapping.Indicator) == "" {
		return fmt.Errorf("%w: sector and indicator are required", ErrInvalidMapping)
	}
	switch mapping.Mode {
	case store.ModePeriod, store.ModeBalance:
	default:
		return fmt.Errorf("%w: mode must be %q or %q", ErrInvalidMapping, store.ModePeriod, store.ModeBalance)
	}
	if _, err := resolveColumns(mapping, catalog); err != nil {
		return err
	}
	if mapping.TypeColumn != "" && len(mapping.InflowValues) == 0 && len(mapping.OutflowValues) == 0 {
		return fmt.Errorf("%w: type column needs inflow or outflow values", ErrInvalidMapping)
	}
	if mapping.TypeColumn == "" && (len(mapping.InflowValues) > 0 || len(mapping.OutflowValues) > 0) {
		return fmt.Errorf("%w: inflow and outflow values need a type column", ErrInvalidMapping)
	}
	if mapping.FilterColumn != "" && len(mapping.FilterValues) == 0 {
		return fmt.Errorf("%w: filter column needs filter values", ErrInvalidMapping)
	}
	return nil
}

// Save validates mapping against the current catalog and stores it with catalogued spellings.
func Save(ctx context.Context, st Store, mapping store.IndicatorMapping) (store.IndicatorMapping, error) {
	entries, err := st.ListCatalog(ctx)
	if err != nil {
		return store.IndicatorMapping{}, fmt.Errorf("load catalog: %w", err)
	}
	catalog := store.NewCatalog(entries)
	if mapping.Mode == "" {
		mapping.Mode = store.ModePeriod
	}
	if err := Validate(mapping, catalog); err != nil {
		return store.IndicatorMapping{}, err
	}
	resolved, _ := resolveColumns(mapping, catalog)
	mapping.Table = resolved.table
	mapping.ValueColumn = resolved.value
	mapping.DateColumn = resolved.date
	mapping.TypeColumn = resolved.typeColumn
	mapping.FilterColumn = resolved.filter
	return st.SaveIndicatorMapping(ctx, mapping)
}

// FormatValue renders with two decimals and no thousands separator.
func FormatValue(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func appendStrings(args []any, values []string) []any {
	for _, value := range values {
		args = append(args, value)
	}
	return args
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpisync/kpisync/internal/completion"
	"github.com/kpisync/kpisync/internal/config"
	"github.com/kpisync/kpisync/internal/store"
	"github.com/kpisync/kpisync/internal/store/duckdb"
)

type scriptedCompleter struct {
	replies []string
	errs    []error
	calls   int
}

func (c *scriptedCompleter) Complete(context.Context, completion.Request) (string, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return "", nil
}

func seededStore(t *testing.T) *duckdb.Store {
	t.Helper()
	st, err := duckdb.OpenStore(context.Background(), duckdb.DBConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.ReplaceTable(context.Background(), store.TableData{
		Name:   "PRODUCTS",
		Origin: store.OriginView,
		Columns: []store.SourceColumn{
			{Name: "id"}, {Name: "name"}, {Name: "price", RemoteType: "DECIMAL"},
		},
		Rows: [][]any{
			{int64(1), nil, "1.50"},
			{int64(2), "ink", "4.00"},
			{int64(3), "pad", "2.25"},
		},
	})
	require.NoError(t, err)
	return st
}

func TestTemplatedText(t *testing.T) {
	got := TemplatedText(Column{Table: "PRODUCTS", Name: "price", Type: "DOUBLE", Sample: "1.5"})
	assert.Equal(t, "Column 'price' of table 'PRODUCTS'. Type: DOUBLE. Example: 1.5", got)
}

func TestHeuristicDescriptions(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		column Column
		want   string
	}{
		{Column{Table: "pedido_item", Name: "quantidade"}, "Quantity of the sales order"},
		{Column{Table: "notafiscal_saida", Name: "data_emissao"}, "Date of the outbound invoice (revenue)"},
		{Column{Table: "compra_entrada", Name: "fornecedor_id"}, "Attribute 'fornecedor_id' of the purchase records"},
		{Column{Table: "estoque", Name: "referencia"}, "Product code stored in column 'referencia'"},
		{Column{Table: "misc", Name: "xyz", Sample: "42"}, "Field 'xyz' of table 'misc'. Example: 42"},
	}
	for _, tc := range tests {
		got, err := Heuristic{}.Describe(ctx, tc.column)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got, tc.want), "got %q want prefix %q", got, tc.want)
	}
}

func TestNewDescriber(t *testing.T) {
	d, err := NewDescriber(config.DescriberHeuristic, nil)
	require.NoError(t, err)
	assert.IsType(t, Heuristic{}, d)

	_, err = NewDescriber(config.DescriberCompletion, nil)
	assert.Error(t, err)
	_, err = NewDescriber("magic", nil)
	assert.Error(t, err)
}

func TestRebuildWritesOneEntryPerColumn(t *testing.T) {
	st := seededStore(t)
	ctx := context.Background()
	builder := NewBuilder(Templated{}, nil)

	for i := 0; i < 2; i++ {
		summary, err := builder.Rebuild(ctx, st, []string{"PRODUCTS", "products"})
		require.NoError(t, err)
		assert.Equal(t, Summary{Tables: 1, Entries: 3}, summary)
	}

	entries, err := st.ListCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "id", entries[0].Column)
	assert.Equal(t, "BIGINT", entries[0].Type)
	assert.Equal(t, "ink", entries[1].Sample, "sample is the first non-null value")
	assert.Equal(t, "Column 'price' of table 'PRODUCTS'. Type: DOUBLE. Example: 1.5", entries[2].Description)
}

func TestRebuildFallsBackWhenCompletionFails(t *testing.T) {
	st := seededStore(t)
	completer := &scriptedCompleter{
		replies: []string{"Unique product identifier.", "", ""},
		errs:    []error{nil, errors.New("timeout"), nil},
	}
	builder := NewBuilder(&Completion{Completer: completer}, nil)

	summary, err := builder.Rebuild(context.Background(), st, []string{"PRODUCTS"})
	require.NoError(t, err)
	assert.Equal(t, 3, completer.calls)
	assert.Equal(t, 2, summary.Fallbacks)

	entries, err := st.ListCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Unique product identifier.", entries[0].Description)
	assert.True(t, strings.HasPrefix(entries[1].Description, "Column 'name' of table 'PRODUCTS'"))
}

func TestRebuildFailsForUnknownTable(t *testing.T) {
	st := seededStore(t)
	_, err := NewBuilder(nil, nil).Rebuild(context.Background(), st, []string{"MISSING"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

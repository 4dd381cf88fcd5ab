package relationship

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpisync/kpisync/internal/store"
	"github.com/kpisync/kpisync/internal/store/duckdb"
)

func erpStore(t *testing.T) *duckdb.Store {
	t.Helper()
	ctx := context.Background()
	st, err := duckdb.OpenStore(ctx, duckdb.DBConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tables := []store.TableData{
		{
			Name:    "produto",
			Columns: []store.SourceColumn{{Name: "referencia"}, {Name: "descricao"}},
			Rows:    [][]any{{"P1", "pen"}, {"P2", "ink"}, {"P3", "pad"}},
		},
		{
			Name:    "pedido",
			Columns: []store.SourceColumn{{Name: "id"}, {Name: "REFERENCIA"}, {Name: "cliente_id"}},
			Rows:    [][]any{{int64(1), "P1", int64(7)}, {int64(2), "P1", int64(8)}, {int64(3), "P3", int64(7)}},
		},
		{
			Name:    "estoque",
			Columns: []store.SourceColumn{{Name: "referencia"}, {Name: "descricao"}},
			Rows:    [][]any{{"X9", "other"}},
		},
	}
	names := make([]string, 0, len(tables))
	entries := make([]store.CatalogEntry, 0)
	for _, data := range tables {
		data.Origin = store.OriginTable
		_, err := st.ReplaceTable(ctx, data)
		require.NoError(t, err)
		names = append(names, data.Name)
		for i, c := range data.Columns {
			entries = append(entries, store.CatalogEntry{Table: data.Name, Column: c.Name, Ordinal: i + 1, Type: "VARCHAR"})
		}
	}
	require.NoError(t, st.ReplaceCatalog(ctx, names, entries))
	return st
}

func TestSuggestFindsOverlappingSharedColumns(t *testing.T) {
	st := erpStore(t)

	suggestions, err := Suggest(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)

	got := suggestions[0]
	assert.ElementsMatch(t, []string{"pedido", "produto"}, []string{got.OriginTable, got.DestinationTable})
	assert.Equal(t, 2, got.SharedValues)
	if got.OriginTable == "produto" {
		assert.Equal(t, store.OneToMany, got.Cardinality)
		assert.Equal(t, "REFERENCIA", got.DestinationColumn)
	} else {
		assert.Equal(t, store.ManyToOne, got.Cardinality)
		assert.Equal(t, "REFERENCIA", got.OriginColumn)
	}
}

func TestSuggestSkipsApproved(t *testing.T) {
	st := erpStore(t)
	_, err := Approve(context.Background(), st, store.Relationship{
		OriginTable: "PRODUTO", OriginColumn: "referencia",
		DestinationTable: "pedido", DestinationColumn: "referencia",
		Cardinality: store.OneToMany,
	})
	require.NoError(t, err)

	suggestions, err := Suggest(context.Background(), st)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestCardinality(t *testing.T) {
	uniq := store.ColumnProfile{Rows: 3, Distinct: 3}
	dup := store.ColumnProfile{Rows: 3, Distinct: 2}
	assert.Equal(t, store.OneToOne, Cardinality(uniq, uniq))
	assert.Equal(t, store.OneToMany, Cardinality(uniq, dup))
	assert.Equal(t, store.ManyToOne, Cardinality(dup, uniq))
	assert.Equal(t, store.ManyToMany, Cardinality(dup, dup))
	assert.Equal(t, store.ManyToMany, Cardinality(store.ColumnProfile{}, store.ColumnProfile{}))
}

func TestApproveValidatesAgainstCatalog(t *testing.T) {
	st := erpStore(t)
	ctx := context.Background()

	saved, err := Approve(ctx, st, store.Relationship{
		OriginTable: "PRODUTO", OriginColumn: "Referencia",
		DestinationTable: "pedido", DestinationColumn: "referencia",
		Cardinality: store.OneToMany,
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, "produto", saved.OriginTable)
	assert.Equal(t, "referencia", saved.OriginColumn)
	assert.Equal(t, "REFERENCIA", saved.DestinationColumn)

	_, err = Approve(ctx, st, store.Relationship{
		OriginTable: "pedido", OriginColumn: "referencia",
		DestinationTable: "produto", DestinationColumn: "referencia",
		Cardinality: store.ManyToOne,
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	for _, rel := range []store.Relationship{
		{OriginTable: "produto", OriginColumn: "referencia", DestinationTable: "pedido", DestinationColumn: "referencia", Cardinality: "1:many"},
		{OriginTable: "vendas", OriginColumn: "id", DestinationTable: "pedido", DestinationColumn: "id", Cardinality: store.OneToOne},
		{OriginTable: "pedido", OriginColumn: "nope", DestinationTable: "produto", DestinationColumn: "referencia", Cardinality: store.OneToOne},
		{OriginTable: "pedido", OriginColumn: "id", DestinationTable: "pedido", DestinationColumn: "cliente_id", Cardinality: store.OneToOne},
	} {
		_, err := Approve(ctx, st, rel)
		assert.ErrorIs(t, err, ErrInvalid, "%+v", rel)
	}

	listed, err := st.ListRelationships(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestJoinPath(t *testing.T) {
	rels := []store.Relationship{
		{ID: 1, OriginTable: "produto", OriginColumn: "referencia", DestinationTable: "pedido", DestinationColumn: "referencia", Cardinality: store.OneToMany},
		{ID: 2, OriginTable: "cliente", OriginColumn: "id", DestinationTable: "pedido", DestinationColumn: "cliente_id", Cardinality: store.OneToMany},
		{ID: 3, OriginTable: "cliente", OriginColumn: "cidade_id", DestinationTable: "cidade", DestinationColumn: "id", Cardinality: store.ManyToOne},
		{ID: 4, OriginTable: "fornecedor", OriginColumn: "id", DestinationTable: "compra", DestinationColumn: "fornecedor_id", Cardinality: store.OneToMany},
	}

	path, err := JoinPath(rels, "Produto", "cidade")
	require.NoError(t, err)
	ids := make([]int64, 0, len(path))
	for _, rel := range path {
		ids = append(ids, rel.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)

	path, err = JoinPath(rels, "pedido", "PEDIDO")
	require.NoError(t, err)
	assert.Empty(t, path)

	_, err = JoinPath(rels, "produto", "compra")
	assert.ErrorIs(t, err, ErrNoPath)
	_, err = JoinPath(rels, "produto", "unknown")
	assert.ErrorIs(t, err, ErrNoPath)
}

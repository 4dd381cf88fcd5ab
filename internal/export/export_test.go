package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpisync/kpisync/internal/storage"
	"github.com/kpisync/kpisync/internal/store"
	"github.com/kpisync/kpisync/internal/store/duckdb"
)

type memoryObjects struct {
	objects map[string][]byte
	putErr  error
}

func (m *memoryObjects) Put(_ context.Context, key string, body io.Reader, size int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	if m.putErr != nil {
		return storage.ObjectInfo{}, m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag"}, nil
}

func (m *memoryObjects) Ready(context.Context) error { return nil }

func readParquet(t *testing.T, data []byte) ([]string, []parquet.Row) {
	t.Helper()
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make([]string, 0)
	for _, path := range file.Schema().Columns() {
		names = append(names, path[0])
	}
	reader := parquet.NewReader(file)
	defer func() { _ = reader.Close() }()
	rows := make([]parquet.Row, file.NumRows())
	n, err := reader.ReadRows(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		require.NoError(t, err)
	}
	return names, rows[:n]
}

func TestEncodeParquetKeepsNullsAndOrder(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	data, err := EncodeParquet([]string{"name", "id", "price", "created"}, [][]any{
		{"pen", int64(1), 1.5, at},
		{nil, int64(2), nil, nil},
	})
	require.NoError(t, err)

	names, rows := readParquet(t, data)
	assert.Equal(t, []string{"created", "id", "name", "price"}, names)
	require.Len(t, rows, 2)

	assert.Equal(t, "2024-03-01T10:30:00Z", rows[0][0].String())
	assert.Equal(t, "1", rows[0][1].String())
	assert.Equal(t, "pen", rows[0][2].String())
	assert.Equal(t, "1.5", rows[0][3].String())

	assert.True(t, rows[1][0].IsNull())
	assert.Equal(t, "2", rows[1][1].String())
	assert.True(t, rows[1][2].IsNull())
	assert.True(t, rows[1][3].IsNull())
}

func TestEncodeParquetRejectsBadInput(t *testing.T) {
	_, err := EncodeParquet(nil, nil)
	assert.Error(t, err)
	_, err = EncodeParquet([]string{"a", "a"}, nil)
	assert.Error(t, err)
	_, err = EncodeParquet([]string{"a", "b"}, [][]any{{"x"}})
	assert.Error(t, err)
}

func productsStore(t *testing.T) *duckdb.Store {
	t.Helper()
	st, err := duckdb.OpenStore(context.Background(), duckdb.DBConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.ReplaceTable(context.Background(), store.TableData{
		Name:    "PRODUCTS",
		Origin:  store.OriginTable,
		Columns: []store.SourceColumn{{Name: "id"}, {Name: "name"}},
		Rows:    [][]any{{int64(1), "pen"}, {int64(2), nil}, {int64(3), "pad"}},
	})
	require.NoError(t, err)
	return st
}

func newTestExporter(objects storage.ObjectStore) *Exporter {
	e := New(objects, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Unix(0, 42) }
	e.newID = func() uuid.UUID { return uuid.MustParse("00000000-0000-0000-0000-000000000001") }
	return e
}

func TestExportTableWritesSnapshot(t *testing.T) {
	st := productsStore(t)
	objects := &memoryObjects{}
	e := newTestExporter(objects)

	snapshot, err := e.ExportTable(context.Background(), "alice", st, "products")
	require.NoError(t, err)
	assert.Equal(t, "PRODUCTS", snapshot.Table)
	assert.Equal(t, "snapshots/alice/PRODUCTS/42-00000000-0000-0000-0000-000000000001.parquet", snapshot.Key)
	assert.Equal(t, 3, snapshot.Rows)

	data, ok := objects.objects[snapshot.Key]
	require.True(t, ok)
	assert.EqualValues(t, len(data), snapshot.Bytes)
	names, rows := readParquet(t, data)
	assert.Equal(t, []string{"id", "name"}, names)
	require.Len(t, rows, 3)
	assert.True(t, rows[1][1].IsNull())
}

func TestExportTableErrors(t *testing.T) {
	st := productsStore(t)

	_, err := New(nil, slog.Default()).ExportTable(context.Background(), "alice", st, "PRODUCTS")
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = newTestExporter(&memoryObjects{}).ExportTable(context.Background(), "alice", st, "ORDERS")
	assert.ErrorIs(t, err, store.ErrNotFound)

	putErr := errors.New("access denied")
	_, err = newTestExporter(&memoryObjects{putErr: putErr}).ExportTable(context.Background(), "alice", st, "PRODUCTS")
	assert.ErrorIs(t, err, putErr)
}

func TestExportTablesCollectsFailures(t *testing.T) {
	st := productsStore(t)
	snapshots, failures := newTestExporter(&memoryObjects{}).ExportTables(context.Background(), "alice", st, []string{"PRODUCTS", "ORDERS"})
	assert.Len(t, snapshots, 1)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "ORDERS: ")
}

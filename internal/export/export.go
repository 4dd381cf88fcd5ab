// Package export writes Parquet snapshots of synced tables to object storage.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/storage"
	"github.com/kpisync/kpisync/internal/store"
)

const contentType = "application/vnd.apache.parquet"

// ErrDisabled is returned when no object store is configured.
var ErrDisabled = errors.New("snapshot export is disabled")

type Store interface {
	ListSyncedTables(ctx context.Context) ([]store.SyncedTable, error)
	Query(ctx context.Context, sqlText string, rowLimit int) (store.QueryResult, error)
}

type Snapshot struct {
	UserID    string    `json:"user_id"`
	Table     string    `json:"table"`
	Key       string    `json:"key"`
	Rows      int       `json:"rows"`
	Bytes     int64     `json:"bytes"`
	ETag      string    `json:"etag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Exporter struct {
	objects storage.ObjectStore
	now     func() time.Time
	newID   func() uuid.UUID
	logger  *slog.Logger
}

// New returns an exporter writing to objects. A nil objects yields a disabled exporter.
func New(objects storage.ObjectStore, logger *slog.Logger) *Exporter {
	return &Exporter{
		objects: objects,
		now:     time.Now,
		newID:   uuid.New,
		logger:  observability.Component(logger, "export"),
	}
}

func (e *Exporter) Enabled() bool {
	return e != nil && e.objects != nil
}

// Ready checks the object store. A disabled exporter is always ready.
func (e *Exporter) Ready(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}
	return e.objects.Ready(ctx)
}

// ExportTable snapshots one synced table.
func (e *Exporter) ExportTable(ctx context.Context, userID string, st Store, table string) (Snapshot, error) {
	if !e.Enabled() {
		return Snapshot{}, ErrDisabled
	}
	snapshot, err := e.exportTable(ctx, userID, st, table)
	observability.ObserveSnapshotExport(snapshot.Bytes, err)
	if err != nil {
		return Snapshot{}, err
	}
	e.logger.InfoContext(ctx, "snapshot exported",
		slog.String("table", snapshot.Table),
		slog.String("key", snapshot.Key),
		slog.Int("rows", snapshot.Rows),
		slog.Int64("bytes", snapshot.Bytes),
	)
	return snapshot, nil
}

// ExportTables snapshots each table and reports failures as "TABLE: error" without stopping.
func (e *Exporter) ExportTables(ctx context.Context, userID string, st Store, tables []string) ([]Snapshot, []string) {
	snapshots := make([]Snapshot, 0, len(tables))
	failures := make([]string, 0)
	for _, table := range tables {
		snapshot, err := e.ExportTable(ctx, userID, st, table)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", table, err))
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, failures
}

func (e *Exporter) exportTable(ctx context.Context, userID string, st Store, table string) (Snapshot, error) {
	canonical, err := syncedName(ctx, st, table)
	if err != nil {
		return Snapshot{}, err
	}
	result, err := st.Query(ctx, "SELECT * FROM "+quoteIdent(canonical), 0)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", canonical, err)
	}
	data, err := EncodeParquet(result.Columns, result.Rows)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode %s: %w", canonical, err)
	}

	createdAt := e.now().UTC()
	key, err := storage.SnapshotKey(userID, canonical, createdAt, e.newID())
	if err != nil {
		return Snapshot{}, err
	}
	info, err := e.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"user-id": userID,
			"table":   canonical,
			"rows":    strconv.Itoa(len(result.Rows)),
		},
	})
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		UserID:    userID,
		Table:     canonical,
		Key:       key,
		Rows:      len(result.Rows),
		Bytes:     int64(len(data)),
		ETag:      info.ETag,
		CreatedAt: createdAt,
	}, nil
}

func syncedName(ctx context.Context, st Store, table string) (string, error) {
	synced, err := st.ListSyncedTables(ctx)
	if err != nil {
		return "", fmt.Errorf("list synced tables: %w", err)
	}
	for _, t := range synced {
		if strings.EqualFold(t.Name, strings.TrimSpace(table)) {
			return t.Name, nil
		}
	}
	return "", fmt.Errorf("table %q: %w", table, store.ErrNotFound)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

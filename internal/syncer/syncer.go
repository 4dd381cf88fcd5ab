// Package syncer copies remote tables and views into a local store and rebuilds their catalog
// rows.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kpisync/kpisync/internal/catalog"
	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/remote"
	"github.com/kpisync/kpisync/internal/store"
)

var ErrNoEntities = errors.New("no entities selected for sync")

// Source is an open remote database.
type Source interface {
	ListEntities(ctx context.Context) ([]remote.Entity, error)
	ReadEntity(ctx context.Context, entity remote.Entity) (store.TableData, error)
	Close() error
}

// Opener connects to a remote database. It must return *remote.ConfigError before any I/O
// when cfg is invalid.
type Opener func(ctx context.Context, cfg remote.Config) (Source, error)

// LocalStore is the part of the local store a sync writes to.
type LocalStore interface {
	catalog.Store
	ReplaceTable(ctx context.Context, data store.TableData) (int64, error)
}

type Request struct {
	Entities []string `json:"entities"`
	All      bool     `json:"all"`
}

type Summary struct {
	Synced   []string         `json:"synced"`
	Rows     map[string]int64 `json:"rows"`
	Errors   []string         `json:"errors"`
	Catalog  catalog.Summary  `json:"catalog"`
	Duration time.Duration    `json:"duration"`
}

type Engine struct {
	open    Opener
	builder *catalog.Builder
	logger  *slog.Logger
}

func New(open Opener, builder *catalog.Builder, logger *slog.Logger) *Engine {
	if open == nil {
		open = OpenRemote
	}
	if builder == nil {
		builder = catalog.NewBuilder(catalog.Templated{}, logger)
	}
	return &Engine{open: open, builder: builder, logger: observability.Component(logger, "syncer")}
}

// OpenRemote is the default Opener.
func OpenRemote(ctx context.Context, cfg remote.Config) (Source, error) {
	source, err := remote.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return source, nil
}

// ListRemoteEntities returns tables and views of the remote source. On failure the list is
// empty and the error is *remote.ConfigError or *remote.ConnectionError.
func (e *Engine) ListRemoteEntities(ctx context.Context, cfg remote.Config) ([]remote.Entity, error) {
	if err := cfg.Validate(); err != nil {
		return []remote.Entity{}, err
	}
	source, err := e.open(ctx, cfg)
	if err != nil {
		return []remote.Entity{}, err
	}
	defer func() { _ = source.Close() }()

	entities, err := source.ListEntities(ctx)
	if err != nil {
		return []remote.Entity{}, err
	}
	return entities, nil
}

// Sync copies the requested entities. A failure for one entity is recorded in Summary.Errors
// as "ENTITY: reason" and does not stop the others. The catalog is rebuilt for the entities
// that succeeded. A returned error means nothing was synced.
func (e *Engine) Sync(ctx context.Context, local LocalStore, cfg remote.Config, req Request) (Summary, error) {
	if !req.All && len(req.Entities) == 0 {
		return Summary{}, ErrNoEntities
	}
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}

	start := time.Now()
	summary := Summary{Synced: []string{}, Rows: map[string]int64{}, Errors: []string{}}

	source, err := e.open(ctx, cfg)
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = source.Close() }()

	available, err := source.ListEntities(ctx)
	if err != nil {
		return Summary{}, err
	}

	var selected []remote.Entity
	if req.All {
		selected = available
	} else {
		for _, name := range req.Entities {
			entity, ok := lookupEntity(available, name)
			if !ok {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: not found in remote source", name))
				continue
			}
			selected = append(selected, entity)
		}
	}

	var totalRows int64
	for _, entity := range selected {
		if err := ctx.Err(); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", entity.Name, err))
			continue
		}
		rows, err := e.syncEntity(ctx, source, local, entity)
		if err != nil {
			e.logger.WarnContext(ctx, "entity sync failed", slog.String("entity", entity.Name), slog.Any("error", err))
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", entity.Name, err))
			continue
		}
		summary.Synced = append(summary.Synced, entity.Name)
		summary.Rows[entity.Name] = rows
		totalRows += rows
	}

	if len(summary.Synced) > 0 {
		catalogSummary, err := e.builder.Rebuild(ctx, local, summary.Synced)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("catalog: %v", err))
		}
		summary.Catalog = catalogSummary
	}

	summary.Duration = time.Since(start)
	observability.ObserveSyncRun(len(summary.Synced), len(summary.Errors), totalRows, summary.Duration)
	e.logger.InfoContext(ctx, "sync finished",
		slog.Int("synced", len(summary.Synced)),
		slog.Int("failed", len(summary.Errors)),
		slog.Int64("rows", totalRows),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (e *Engine) syncEntity(ctx context.Context, source Source, local LocalStore, entity remote.Entity) (int64, error) {
	if store.IsInternalName(entity.Name) {
		return 0, fmt.Errorf("name uses the reserved %q prefix", store.InternalPrefix)
	}
	data, err := source.ReadEntity(ctx, entity)
	if err != nil {
		return 0, err
	}
	return local.ReplaceTable(ctx, data)
}

func lookupEntity(available []remote.Entity, name string) (remote.Entity, bool) {
	name = strings.TrimSpace(name)
	for _, entity := range available {
		if entity.Name == name {
			return entity, true
		}
	}
	for _, entity := range available {
		if strings.EqualFold(entity.Name, name) {
			return entity, true
		}
	}
	return remote.Entity{}, false
}

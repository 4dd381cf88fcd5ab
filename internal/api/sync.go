package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kpisync/kpisync/internal/auth"
	"github.com/kpisync/kpisync/internal/export"
	"github.com/kpisync/kpisync/internal/remote"
	"github.com/kpisync/kpisync/internal/session"
	"github.com/kpisync/kpisync/internal/store"
	"github.com/kpisync/kpisync/internal/syncer"
)

func (s *server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		settings, err := sess.Store.GetConnection(ctx)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, settings.Redacted())
		return nil
	})
}

func (s *server) handlePutConnection(w http.ResponseWriter, r *http.Request) {
	var settings store.ConnectionSettings
	if err := decodeJSON(w, r, &settings); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	s.withSession(w, r, auth.RoleEditor, func(ctx context.Context, sess session.Session) error {
		// An empty password keeps the saved one.
		if settings.Password == "" {
			previous, err := sess.Store.GetConnection(ctx)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			settings.Password = previous.Password
		}
		if err := s.remoteConfig(settings).Validate(); err != nil {
			return err
		}
		saved, err := sess.Store.SaveConnection(ctx, settings)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, saved.Redacted())
		return nil
	})
}

func (s *server) handleRemoteEntities(w http.ResponseWriter, r *http.Request) {
	if s.deps.Syncer == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "sync engine is not configured", false, nil)
		return
	}
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		cfg, err := s.savedRemoteConfig(ctx, sess)
		if err != nil {
			writeDomainError(ctx, w, err, map[string]any{"entities": []remote.Entity{}})
			return nil
		}
		entities, err := s.deps.Syncer.ListRemoteEntities(ctx, cfg)
		if err != nil {
			writeDomainError(ctx, w, err, map[string]any{"entities": entities})
			return nil
		}
		writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
		return nil
	})
}

type syncResponse struct {
	syncer.Summary
	Exports      []export.Snapshot `json:"exports,omitempty"`
	ExportErrors []string          `json:"export_errors,omitempty"`
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Syncer == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "sync engine is not configured", false, nil)
		return
	}
	var req syncer.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	s.withSession(w, r, auth.RoleEditor, func(ctx context.Context, sess session.Session) error {
		cfg, err := s.savedRemoteConfig(ctx, sess)
		if err != nil {
			return err
		}
		summary, err := s.deps.Syncer.Sync(ctx, sess.Store, cfg, req)
		if err != nil {
			return err
		}
		resp := syncResponse{Summary: summary}
		if s.cfg.ObjectStore.ExportOnSync && s.deps.Exporter.Enabled() && len(summary.Synced) > 0 {
			resp.Exports, resp.ExportErrors = s.deps.Exporter.ExportTables(ctx, sess.UserID, sess.Store, summary.Synced)
			if len(resp.ExportErrors) > 0 && s.deps.Logger != nil {
				s.deps.Logger.WarnContext(ctx, "export after sync incomplete", slog.Any("errors", resp.ExportErrors))
			}
		}
		writeJSON(w, http.StatusOK, resp)
		return nil
	})
}

func (s *server) handleListTables(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		tables, err := sess.Store.ListSyncedTables(ctx)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
		return nil
	})
}

func (s *server) handleDropTable(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimSpace(r.PathValue("table"))
	s.withSession(w, r, auth.RoleEditor, func(ctx context.Context, sess session.Session) error {
		if err := sess.Store.DropTable(ctx, table); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "table": table})
		return nil
	})
}

func (s *server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimSpace(r.URL.Query().Get("table"))
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		entries, err := sess.Store.ListCatalog(ctx)
		if err != nil {
			return err
		}
		if table != "" {
			filtered := make([]store.CatalogEntry, 0)
			for _, entry := range entries {
				if strings.EqualFold(entry.Table, table) {
					filtered = append(filtered, entry)
				}
			}
			entries = filtered
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return nil
	})
}

func (s *server) handleRebuildCatalog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", "catalog builder is not configured", false, nil)
		return
	}
	s.withSession(w, r, auth.RoleEditor, func(ctx context.Context, sess session.Session) error {
		synced, err := sess.Store.ListSyncedTables(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(synced))
		for _, t := range synced {
			names = append(names, t.Name)
		}
		summary, err := s.deps.Catalog.Rebuild(ctx, sess.Store, names)
		if err != nil {
			return fmt.Errorf("rebuild catalog: %w", err)
		}
		writeJSON(w, http.StatusOK, summary)
		return nil
	})
}

func (s *server) remoteConfig(settings store.ConnectionSettings) remote.Config {
	return remote.ConfigFromSettings(settings, s.cfg.Remote.DefaultDriver, s.cfg.Remote.ConnectTimeout)
}

func (s *server) savedRemoteConfig(ctx context.Context, sess session.Session) (remote.Config, error) {
	settings, err := sess.Store.GetConnection(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return remote.Config{}, errConnectionMissing
	}
	if err != nil {
		return remote.Config{}, err
	}
	return s.remoteConfig(settings), nil
}

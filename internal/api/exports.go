package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/kpisync/kpisync/internal/auth"
	"github.com/kpisync/kpisync/internal/export"
	"github.com/kpisync/kpisync/internal/session"
)

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Exporter.Enabled() {
		writeDomainError(r.Context(), w, export.ErrDisabled)
		return
	}
	table := strings.TrimSpace(r.PathValue("table"))
	s.withSession(w, r, auth.RoleEditor, func(ctx context.Context, sess session.Session) error {
		snapshot, err := s.deps.Exporter.ExportTable(ctx, sess.UserID, sess.Store, table)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, snapshot)
		return nil
	})
}

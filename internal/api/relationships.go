package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/kpisync/kpisync/internal/auth"
	"github.com/kpisync/kpisync/internal/relationship"
	"github.com/kpisync/kpisync/internal/session"
	"github.com/kpisync/kpisync/internal/store"
)

func (s *server) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		rels, err := sess.Store.ListRelationships(ctx)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
		return nil
	})
}

func (s *server) handleApproveRelationship(w http.ResponseWriter, r *http.Request) {
	var rel store.Relationship
	if err := decodeJSON(w, r, &rel); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	s.withSession(w, r, auth.RoleEditor, func(ctx context.Context, sess session.Session) error {
		saved, err := relationship.Approve(ctx, sess.Store, rel)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, saved)
		return nil
	})
}

func (s *server) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "id must be a positive integer", false, nil)
		return
	}
	s.withSession(w, r, auth.RoleEditor, func(ctx context.Context, sess session.Session) error {
		if err := sess.Store.DeleteRelationship(ctx, id); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
		return nil
	})
}

func (s *server) handleSuggestRelationships(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		suggestions, err := relationship.Suggest(ctx, sess.Store)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
		return nil
	})
}

func (s *server) handleJoinPath(w http.ResponseWriter, r *http.Request) {
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "from and to are required", false, nil)
		return
	}
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		rels, err := sess.Store.ListRelationships(ctx)
		if err != nil {
			return err
		}
		path, err := relationship.JoinPath(rels, from, to)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "path": path})
		return nil
	})
}

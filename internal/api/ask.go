package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/kpisync/kpisync/internal/assistant"
	"github.com/kpisync/kpisync/internal/auth"
	"github.com/kpisync/kpisync/internal/session"
)

type askRequest struct {
	Question string `json:"question"`
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "ASSISTANT_UNAVAILABLE", "query assistant is not configured", false, nil)
		return
	}
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		answer, err := s.deps.Assistant.Ask(ctx, sess.UserID, sess.Store, req.Question)
		if err != nil {
			details := map[string]any{"state": answer.State}
			if answer.Message != "" {
				details["message"] = answer.Message
			}
			writeDomainError(ctx, w, err, details)
			return nil
		}
		if answer.State == assistant.StateRejected {
			writeError(ctx, w, http.StatusBadRequest, "EMPTY_QUESTION", answer.Message, false, map[string]any{"state": answer.State})
			return nil
		}
		writeJSON(w, http.StatusOK, answer)
		return nil
	})
}

func (s *server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a non-negative integer", false, nil)
			return
		}
		limit = parsed
	}
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		interactions, err := sess.Store.ListInteractions(ctx, limit)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]any{"interactions": interactions})
		return nil
	})
}

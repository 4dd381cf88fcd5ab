package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/kpisync/kpisync/internal/auth"
	"github.com/kpisync/kpisync/internal/indicator"
	"github.com/kpisync/kpisync/internal/session"
	"github.com/kpisync/kpisync/internal/store"
)

func indicatorKey(r *http.Request, userID string) store.IndicatorKey {
	return store.IndicatorKey{
		UserID:    userID,
		Sector:    strings.TrimSpace(r.PathValue("sector")),
		Indicator: strings.TrimSpace(r.PathValue("indicator")),
	}
}

func (s *server) handleGetIndicator(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		mapping, err := sess.Store.GetIndicatorMapping(ctx, indicatorKey(r, sess.UserID))
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, mapping)
		return nil
	})
}

func (s *server) handlePutIndicator(w http.ResponseWriter, r *http.Request) {
	var mapping store.IndicatorMapping
	if err := decodeJSON(w, r, &mapping); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", err.Error(), false, nil)
		return
	}
	s.withSession(w, r, auth.RoleEditor, func(ctx context.Context, sess session.Session) error {
		mapping.IndicatorKey = indicatorKey(r, sess.UserID)
		saved, err := indicator.Save(ctx, sess.Store, mapping)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, saved)
		return nil
	})
}

func (s *server) handleIndicatorValue(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indicators == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "INDICATORS_UNAVAILABLE", "indicator resolver is not configured", false, nil)
		return
	}
	query := r.URL.Query()
	period, err := indicator.ParsePeriod(query.Get("start"), query.Get("end"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), false, nil)
		return
	}
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		result := s.deps.Indicators.Resolve(ctx, sess.Store, indicatorKey(r, sess.UserID), period)
		writeJSON(w, http.StatusOK, result)
		return nil
	})
}

func (s *server) handleIndicatorOptions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a non-negative integer", false, nil)
			return
		}
		limit = parsed
	}
	s.withSession(w, r, auth.RoleReader, func(ctx context.Context, sess session.Session) error {
		options, err := indicator.ListOptions(ctx, sess.Store, query.Get("table"), query.Get("column"), limit)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, options)
		return nil
	})
}

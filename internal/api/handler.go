// Package api serves the kpisync HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/kpisync/kpisync/internal/assistant"
	"github.com/kpisync/kpisync/internal/auth"
	"github.com/kpisync/kpisync/internal/catalog"
	"github.com/kpisync/kpisync/internal/config"
	"github.com/kpisync/kpisync/internal/export"
	"github.com/kpisync/kpisync/internal/indicator"
	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/session"
	"github.com/kpisync/kpisync/internal/syncer"
)

const (
	userHeader   = auth.UserHeader
	maxBodyBytes = 1 << 20
)

type ReadinessCheck func(ctx context.Context) error

// Sessions runs work against one user's local store.
type Sessions interface {
	Do(ctx context.Context, userID string, fn func(ctx context.Context, s session.Session) error) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Sessions          Sessions
	Syncer            *syncer.Engine
	Catalog           *catalog.Builder
	Assistant         *assistant.Assistant
	Indicators        *indicator.Resolver
	Exporter          *export.Exporter
}

type server struct {
	cfg  config.Config
	deps Dependencies
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	s := &server{cfg: cfg, deps: deps}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := map[string]http.HandlerFunc{
		"GET /v1/connection":                            s.handleGetConnection,
		"PUT /v1/connection":                            s.handlePutConnection,
		"GET /v1/remote/entities":                       s.handleRemoteEntities,
		"POST /v1/sync":                                 s.handleSync,
		"GET /v1/tables":                                s.handleListTables,
		"DELETE /v1/tables/{table}":                     s.handleDropTable,
		"GET /v1/catalog":                               s.handleListCatalog,
		"POST /v1/catalog/rebuild":                      s.handleRebuildCatalog,
		"POST /v1/ask":                                  s.handleAsk,
		"GET /v1/interactions":                          s.handleInteractions,
		"GET /v1/indicators/options":                    s.handleIndicatorOptions,
		"GET /v1/indicators/{sector}/{indicator}":       s.handleGetIndicator,
		"PUT /v1/indicators/{sector}/{indicator}":       s.handlePutIndicator,
		"GET /v1/indicators/{sector}/{indicator}/value": s.handleIndicatorValue,
		"GET /v1/relationships":                         s.handleListRelationships,
		"POST /v1/relationships":                        s.handleApproveRelationship,
		"DELETE /v1/relationships/{id}":                 s.handleDeleteRelationship,
		"GET /v1/relationships/suggestions":             s.handleSuggestRelationships,
		"GET /v1/relationships/path":                    s.handleJoinPath,
		"POST /v1/exports/{table}":                      s.handleExport,
	}
	for pattern, handler := range protected {
		mux.Handle(pattern, s.protect(handler))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	var handler http.Handler = chain(mux, middlewares...)
	if len(cfg.HTTP.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.HTTP.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key", userHeader, "X-Trace-ID"},
			ExposedHeaders: []string{"X-Trace-ID"},
		}).Handler(handler)
	}
	return handler
}

func (s *server) protect(handler http.Handler) http.Handler {
	if !s.cfg.Auth.Required {
		return handler
	}
	if s.deps.AuthMiddleware == nil {
		if s.deps.Logger != nil {
			s.deps.Logger.Error("auth required but auth middleware missing")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
		})
	}
	return s.deps.AuthMiddleware(handler)
}

// withSession resolves the caller, checks the role and runs fn on the caller's store. fn
// writes the response itself; an error it returns is mapped by writeDomainError.
func (s *server) withSession(w http.ResponseWriter, r *http.Request, role string, fn func(ctx context.Context, sess session.Session) error) {
	if s.deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SESSIONS_UNAVAILABLE", "local stores are not configured", false, nil)
		return
	}
	if err := requireRole(r, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "USER_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := s.deps.Sessions.Do(r.Context(), userID, fn); err != nil {
		writeDomainError(r.Context(), w, err)
	}
}

func userFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.UserID) != "" {
		return identity.UserID, nil
	}
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	if userID == "" {
		return "", fmt.Errorf("%s header is required", userHeader)
	}
	return userID, nil
}

// requireRole passes requests without an identity; auth is then disabled. Editors may do
// everything readers may.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) || identity.HasRole(auth.RoleEditor) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
